package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpane/internal/ai"
	"github.com/nhle/mailpane/internal/app"
	"github.com/nhle/mailpane/internal/cache"
	"github.com/nhle/mailpane/internal/compose"
	"github.com/nhle/mailpane/internal/credential"
	"github.com/nhle/mailpane/internal/events"
	"github.com/nhle/mailpane/internal/generation"
	"github.com/nhle/mailpane/internal/mailhost"
	"github.com/nhle/mailpane/internal/model"
	"github.com/nhle/mailpane/internal/store"
	"github.com/nhle/mailpane/internal/workspace"
)

// runtime holds everything a command needs. Fields beyond the cache are
// only populated by withSession.
type runtime struct {
	cfg        *model.AppConfig
	kv         *store.SQLiteKV
	pub        *events.Publisher
	summaries  *cache.Summaries
	history    *cache.History
	workspaces *workspace.Store

	host    *mailhost.IMAPHost
	ctrl    *generation.Controller
	session *app.Session
}

func openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	kv, err := store.NewSQLiteKV(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	opts := cache.Options{Retention: cfg.Storage.Retention()}
	pub := events.NewPublisher()
	return &runtime{
		cfg:        cfg,
		kv:         kv,
		pub:        pub,
		summaries:  cache.NewSummaries(kv, pub, opts),
		history:    cache.NewHistory(kv, cfg.Storage.HistoryLimit, opts),
		workspaces: workspace.NewStore(kv, cfg.Storage.WorkspaceDebounce(), opts),
	}, nil
}

// withSession connects the IMAP host and builds the controller and
// session on top of the cache. autoSummary enables summarizing every newly
// selected email.
func (r *runtime) withSession(autoSummary bool) error {
	password, err := credential.Lookup(credential.IMAPPassword)
	if err != nil {
		return fmt.Errorf("IMAP password: %w (run `mailpane auth imap`)", err)
	}
	apiKey, err := credential.Lookup(credential.AIKey)
	if err != nil {
		return fmt.Errorf("API key: %w (run `mailpane auth ai`)", err)
	}

	mc := r.cfg.Mail
	if mc.Host == "" {
		return errors.New("mail.host is not configured")
	}
	r.host = mailhost.NewIMAPHost(mailhost.IMAPConfig{
		Host:          mc.Host,
		Port:          mc.Port,
		Username:      mc.Username,
		Password:      password,
		TLS:           mc.TLS,
		Mailbox:       mc.Mailbox,
		DraftsMailbox: mc.DraftsMailbox,
		SelfAddress:   mc.SelfAddress,
	})

	gen := ai.New(apiKey, r.cfg.AI.Model, r.cfg.AI.MaxTokens)
	r.ctrl = generation.New(gen, r.summaries, r.history, r.workspaces, r.pub, generation.Options{
		SummaryThrottle: r.cfg.Generation.SummaryThrottle(),
		Locale:          r.cfg.AI.Locale,
		Tone:            r.cfg.AI.Tone,
	})

	sig, err := signatureFromConfig(r.cfg.Signature)
	if err != nil {
		return err
	}
	opts := app.Options{
		SelfAddress:       mc.SelfAddress,
		Signature:         sig,
		IncludeBodyEmails: r.cfg.Generation.IncludeBodyEmails,
	}
	if autoSummary {
		opts.AutoSummaryDelay = r.cfg.Generation.AutoSummaryDelay()
	}
	r.session = app.NewSession(r.host, r.ctrl, opts)
	return nil
}

// selectItem makes the message given by --uid (or the newest one) current
// and refreshes the session.
func (r *runtime) selectItem(ctx context.Context, cmd *cobra.Command) error {
	uid, _ := cmd.Flags().GetUint32("uid")
	var err error
	if uid == 0 {
		err = r.host.SelectLatest(ctx)
	} else {
		err = r.host.Select(ctx, uid)
	}
	if err != nil {
		return err
	}
	_, _, err = r.session.Refresh(ctx)
	return err
}

func (r *runtime) Close(ctx context.Context) error {
	err := r.workspaces.Close(ctx)
	return errors.Join(err, r.kv.Close())
}

func signatureFromConfig(sc model.SignatureConfig) (compose.Signature, error) {
	sig := compose.Signature{
		Mode:       compose.SignatureMode(sc.Mode),
		Text:       sc.Text,
		HTML:       sc.HTML,
		ImageURL:   sc.ImageURL,
		MaxWidthPx: sc.MaxWidthPx,
	}
	if sig.Mode == compose.SignatureImage && sc.ImagePath != "" {
		data, err := os.ReadFile(sc.ImagePath)
		if err != nil {
			return sig, fmt.Errorf("reading signature image: %w", err)
		}
		sig.ImageData = data
	}
	return sig, nil
}

func addItemFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("uid", 0, "UID of the message (default: newest in mailbox)")
}
