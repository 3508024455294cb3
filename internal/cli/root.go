// Package cli implements the mailpane command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/nhle/mailpane/internal/logging"
	"github.com/nhle/mailpane/internal/model"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mailpane",
		Short:         "AI drafting for the email you are reading",
		Long:          "mailpane summarizes, answers and rewrites email from an IMAP mailbox and keeps the results per email.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				level = v
			}
			logging.Init(logging.Config{Level: level, Format: cfg.Logging.Format})
			return nil
		},
	}
	cmd.PersistentFlags().String("config", model.DefaultConfigPath(), "Path to config file")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newActionCmd("summarize", "Summarize the selected email"),
		newActionCmd("reply", "Draft a reply to the selected email"),
		newActionCmd("rewrite", "Rewrite your own draft text"),
		newActionCmd("tasks", "Extract tasks from the selected email"),
		newDraftCmd(),
		newRecipientsCmd(),
		newHistoryCmd(),
		newCacheCmd(),
		newWatchCmd(),
		newAuthCmd(),
	)

	return cmd
}

func loadConfig(cmd *cobra.Command) (*model.AppConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	return model.LoadConfig(path)
}
