package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpane/internal/ai"
	"github.com/nhle/mailpane/internal/cache"
	"github.com/nhle/mailpane/internal/compose"
	"github.com/nhle/mailpane/internal/credential"
	"github.com/nhle/mailpane/internal/events"
	"github.com/nhle/mailpane/internal/generation"
	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/mailhost"
	"github.com/nhle/mailpane/internal/recipients"
	"github.com/nhle/mailpane/internal/watch"
	"github.com/nhle/mailpane/internal/workspace"
)

func newActionCmd(action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAction(cmd, ai.Action(action))
		},
	}
	addItemFlags(cmd)
	cmd.Flags().String("notes", "", "Notes for the model (saved with the email)")
	cmd.Flags().String("template", "", "Template name")
	cmd.Flags().Int("slot", -1, "Result slot to fill (0-2)")
	if action == string(ai.ActionRewrite) {
		cmd.Flags().String("text", "", "Draft text to rewrite (default: stdin)")
	}
	return cmd
}

func runAction(cmd *cobra.Command, action ai.Action) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.withSession(false); err != nil {
		return err
	}
	if err := rt.selectItem(ctx, cmd); err != nil {
		return err
	}

	if cmd.Flags().Changed("slot") {
		slot, _ := cmd.Flags().GetInt("slot")
		if err := rt.ctrl.SelectSlot(slot); err != nil {
			return err
		}
	}
	notes, _ := cmd.Flags().GetString("notes")
	template, _ := cmd.Flags().GetString("template")
	rewrite := ""
	if action == ai.ActionRewrite {
		rewrite, err = rewriteInput(cmd)
		if err != nil {
			return err
		}
	}
	if err := rt.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		if notes != "" {
			ws.Notes = notes
		}
		if template != "" {
			ws.Template = template
		}
		if rewrite != "" {
			ws.RewriteInput = rewrite
		}
	}); err != nil {
		return err
	}

	if action == ai.ActionSummarize {
		if sum, ok := rt.ctrl.Summary(ctx); ok {
			notice(out, noticeInfo, "cached summary")
			fmt.Fprintln(out, sum.Text)
			return nil
		}
	}

	res, err := rt.session.Generate(ctx, action)
	if err != nil {
		return err
	}
	return printOutcome(out, res)
}

func rewriteInput(cmd *cobra.Command) (string, error) {
	if text, _ := cmd.Flags().GetString("text"); text != "" {
		return text, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading draft from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printOutcome(w io.Writer, o generation.Outcome) error {
	switch o.Notice {
	case generation.NoticeError:
		notice(w, noticeError, "%s failed: %v", o.Action, o.Err)
		return o.Err
	case generation.NoticeBackgroundSaved:
		notice(w, noticeWarn, "result saved for %s (no longer on screen)", o.Token.Identity)
	default:
		notice(w, noticeSuccess, "%s updated for %s", o.Action, o.Token.Identity)
	}
	fmt.Fprintln(w, o.Result.Text)
	return nil
}

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Store the active result as a draft in the mailbox",
		Args:  cobra.NoArgs,
		RunE:  runDraft,
	}
	addItemFlags(cmd)
	cmd.Flags().String("kind", "reply", "Draft kind: reply, forward or new")
	cmd.Flags().String("preset", "", "Recipient preset: reply, replyAll or custom")
	cmd.Flags().Bool("attach", false, "Attach the original message (forward only)")
	cmd.Flags().Bool("body-emails", false, "Offer addresses found in the body")
	return cmd
}

func runDraft(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.withSession(false); err != nil {
		return err
	}
	if err := rt.selectItem(ctx, cmd); err != nil {
		return err
	}

	if cmd.Flags().Changed("body-emails") {
		on, _ := cmd.Flags().GetBool("body-emails")
		if err := rt.session.SetIncludeBodyEmails(on); err != nil {
			return err
		}
	}
	if p, _ := cmd.Flags().GetString("preset"); p != "" {
		if err := rt.session.ApplyPreset(recipients.ParsePreset(p)); err != nil {
			return err
		}
	}

	kindFlag, _ := cmd.Flags().GetString("kind")
	kind := compose.FormKind(strings.ToLower(kindFlag))
	attach, _ := cmd.Flags().GetBool("attach")

	shape, err := rt.session.OpenForm(ctx, kind, attach)
	if err != nil {
		notice(out, noticeError, "could not create draft: %v", err)
		return err
	}
	if shape == mailhost.ShapeBodyOnly {
		notice(out, noticeWarn, "draft stored without recipients")
		return nil
	}
	notice(out, noticeSuccess, "%s draft stored in %s", kind, rt.cfg.Mail.DraftsMailbox)
	return nil
}

func newRecipientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recipients",
		Aliases: []string{"rcpt"},
		Short:   "Show the recipient rows of the selected email",
		Args:    cobra.NoArgs,
		RunE:    runRecipients,
	}
	addItemFlags(cmd)
	cmd.Flags().String("preset", "", "Recipient preset to apply first")
	cmd.Flags().Bool("body-emails", false, "Include addresses found in the body")
	return cmd
}

func runRecipients(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.withSession(false); err != nil {
		return err
	}
	if err := rt.selectItem(ctx, cmd); err != nil {
		return err
	}
	if cmd.Flags().Changed("body-emails") {
		on, _ := cmd.Flags().GetBool("body-emails")
		if err := rt.session.SetIncludeBodyEmails(on); err != nil {
			return err
		}
	}
	if p, _ := cmd.Flags().GetString("preset"); p != "" {
		if err := rt.session.ApplyPreset(recipients.ParsePreset(p)); err != nil {
			return err
		}
	}

	set := rt.session.Recipients()
	fmt.Fprintln(out, headerStyle.Render("preset: "+string(set.Preset())))
	writeRows(out, set.Rows())
	return nil
}

func writeRows(w io.Writer, rows []recipients.Row) {
	for _, r := range rows {
		mark := " "
		if r.Include {
			mark = "x"
		}
		origins := make([]string, 0, len(r.Origins))
		for _, o := range r.Origins {
			origins = append(origins, string(o))
		}
		fmt.Fprintf(w, "[%s] %-4s %s %s\n", mark, r.Role, r.Email,
			dimStyle.Render("("+strings.Join(origins, ",")+")"))
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [identity]",
		Short: "List generation history",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "Maximum entries to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	var entries []cache.HistoryEntry
	if len(args) == 1 {
		entries = rt.history.List(ctx, identity.EmailIdentity(args[0]))
	} else {
		all := rt.history.All(ctx)
		for i := len(all) - 1; i >= 0; i-- {
			entries = append(entries, all[i])
		}
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if len(entries) == 0 {
		notice(out, noticeInfo, "no history")
		return nil
	}
	for _, e := range entries {
		ts := time.UnixMilli(e.TimestampMs).Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%s  %-9s %s  %s\n", dimStyle.Render(ts), e.Action, e.Subject,
			dimStyle.Render(e.EmailIdentity))
	}
	return nil
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show live entries per namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "summaries  %d\n", rt.summaries.Namespace().Len(ctx))
			fmt.Fprintf(out, "workspaces %d\n", rt.workspaces.Namespace().Len(ctx))
			fmt.Fprintf(out, "history    %d\n", len(rt.history.All(ctx)))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:       "clear [summaries|workspaces|history]",
		Short:     "Clear one namespace, or all of them",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"summaries", "workspaces", "history"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			if err := clearCache(cmd.Context(), rt, which); err != nil {
				return err
			}
			notice(cmd.OutOrStdout(), noticeSuccess, "cleared %s", which)
			return nil
		},
	}

	cmd.AddCommand(stats, clearCmd)
	return cmd
}

func clearCache(ctx context.Context, rt *runtime, which string) error {
	switch which {
	case "all", "summaries", "workspaces", "history":
	default:
		return fmt.Errorf("unknown namespace %q", which)
	}

	var errs []error
	if which == "all" || which == "summaries" {
		errs = append(errs, rt.summaries.Namespace().Clear(ctx))
	}
	if which == "all" || which == "workspaces" {
		errs = append(errs, rt.workspaces.Namespace().Clear(ctx))
	}
	if which == "all" || which == "history" {
		errs = append(errs, rt.history.Clear(ctx))
	}
	return errors.Join(errs...)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the newest message and summarize new mail",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	cmd.Flags().Duration("interval", watch.DefaultInterval, "Polling interval")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	out := cmd.OutOrStdout()

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.withSession(true); err != nil {
		return err
	}

	if err := rt.pub.Subscribe("watch-summary", events.Filter{Types: []events.Type{events.SummaryUpdated}},
		func(e events.Event) {
			sum, ok := rt.summaries.Get(ctx, identity.EmailIdentity(e.EmailIdentity))
			if !ok {
				return
			}
			notice(out, noticeSuccess, "summary for %s", e.EmailIdentity)
			fmt.Fprintln(out, sum.Text)
		}); err != nil {
		return err
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	w := watch.New(func(ctx context.Context) (identity.EmailIdentity, bool, error) {
		if err := rt.host.SelectLatest(ctx); err != nil {
			return "", false, err
		}
		return rt.session.Refresh(ctx)
	}, interval)
	w.Start(ctx)
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-w.Changes():
			switch {
			case c.AuthFailed:
				notice(out, noticeError, "authentication failed; run `mailpane auth imap`")
				return c.Err
			case c.Err != nil && !errors.Is(c.Err, mailhost.ErrNoItem):
				notice(out, noticeWarn, "refresh failed: %v", c.Err)
			case c.Changed:
				notice(out, noticeInfo, "now showing %s", c.Identity)
			}
		}
	}
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store credentials in the system keyring",
	}
	cmd.AddCommand(
		newSecretCmd("ai", "Store the Anthropic API key", credential.AIKey),
		newSecretCmd("imap", "Store the IMAP password", credential.IMAPPassword),
	)
	return cmd
}

func newSecretCmd(use, short, key string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "value: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading value: %w", err)
			}
			value := strings.TrimSpace(line)
			if value == "" {
				return errors.New("empty value")
			}
			if err := credential.Set(key, value); err != nil {
				return err
			}
			notice(cmd.OutOrStdout(), noticeSuccess, "stored %s", key)
			return nil
		},
	}
}
