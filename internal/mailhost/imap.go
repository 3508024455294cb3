package mailhost

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/jhillyerd/enmime"

	"github.com/nhle/mailpane/internal/identity"
)

// IMAPConfig holds the connection settings for IMAPHost.
type IMAPConfig struct {
	Host          string
	Port          string
	Username      string
	Password      string
	TLS           bool
	Mailbox       string
	DraftsMailbox string
	SelfAddress   string
}

// item is the fetched state of the selected message.
type item struct {
	uid        uint32
	meta       identity.Metadata
	references []string
	bodyText   string
	raw        []byte
}

// IMAPHost presents one message of an IMAP mailbox as the item on screen.
// Compose forms are realized as drafts appended to the drafts mailbox.
type IMAPHost struct {
	cfg IMAPConfig

	mu      sync.Mutex
	current *item
}

// NewIMAPHost creates an IMAP host. Nothing is dialed until Select.
func NewIMAPHost(cfg IMAPConfig) *IMAPHost {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DraftsMailbox == "" {
		cfg.DraftsMailbox = "Drafts"
	}
	return &IMAPHost{cfg: cfg}
}

// connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (h *IMAPHost) connect(_ context.Context) (*imapclient.Client, error) {
	addr := h.cfg.Host + ":" + h.cfg.Port

	var client *imapclient.Client
	var err error

	if h.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(h.cfg.Username, h.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Host: h.cfg.Host,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				h.cfg.Username, err,
			),
		}
	}

	return client, nil
}

// Select fetches the message with the given UID and makes it the current
// item.
func (h *IMAPHost) Select(ctx context.Context, uid uint32) error {
	return h.selectOne(ctx, func(*imap.SelectData) (imap.NumSet, error) {
		return imap.UIDSetNum(imap.UID(uid)), nil
	})
}

// SelectLatest makes the newest message of the mailbox the current item.
func (h *IMAPHost) SelectLatest(ctx context.Context) error {
	return h.selectOne(ctx, func(data *imap.SelectData) (imap.NumSet, error) {
		if data.NumMessages == 0 {
			return nil, ErrNoItem
		}
		return imap.SeqSetNum(data.NumMessages), nil
	})
}

func (h *IMAPHost) selectOne(ctx context.Context, pick func(*imap.SelectData) (imap.NumSet, error)) error {
	client, err := h.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	data, err := client.Select(h.cfg.Mailbox, nil).Wait()
	if err != nil {
		return fmt.Errorf("selecting %s: %w", h.cfg.Mailbox, err)
	}

	set, err := pick(data)
	if err != nil {
		return err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(set, &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return fmt.Errorf("%w: no message matches %v", ErrNoItem, set)
	}

	buf, err := msg.Collect()
	if err != nil {
		return fmt.Errorf("collecting message data: %w", err)
	}

	it := itemFromFetch(uint32(buf.UID), buf.Envelope, buf.FindBodySection(bodySection))

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("closing fetch: %w", err)
	}

	h.mu.Lock()
	h.current = it
	h.mu.Unlock()
	return nil
}

// Metadata implements Host.
func (h *IMAPHost) Metadata(_ context.Context) (identity.Metadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		return identity.Metadata{}, ErrNoItem
	}
	return h.current.meta, nil
}

// BodyText implements Host.
func (h *IMAPHost) BodyText(_ context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		return "", ErrNoItem
	}
	return h.current.bodyText, nil
}

// OpenReplyForm stores a reply draft threaded under the current item.
func (h *IMAPHost) OpenReplyForm(ctx context.Context, req FormRequest) error {
	return h.appendDraft(ctx, draftReply, req)
}

// OpenForwardForm stores a forward draft, attaching the original when asked.
func (h *IMAPHost) OpenForwardForm(ctx context.Context, req FormRequest) error {
	return h.appendDraft(ctx, draftForward, req)
}

// OpenNewMessageForm stores an unthreaded draft.
func (h *IMAPHost) OpenNewMessageForm(ctx context.Context, req FormRequest) error {
	return h.appendDraft(ctx, draftNew, req)
}

func (h *IMAPHost) appendDraft(ctx context.Context, kind draftKind, req FormRequest) error {
	h.mu.Lock()
	cur := h.current
	h.mu.Unlock()

	if cur == nil && kind != draftNew {
		return ErrNoItem
	}

	raw, err := buildDraft(kind, req, cur, h.cfg.SelfAddress, time.Now())
	if err != nil {
		return err
	}

	client, err := h.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	appendCmd := client.Append(h.cfg.DraftsMailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft, imap.FlagSeen},
		Time:  time.Now(),
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return fmt.Errorf("writing draft: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing draft: %w", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("%w: appending draft to %s: %v", ErrRejected, h.cfg.DraftsMailbox, err)
	}
	return nil
}

// itemFromFetch turns fetched envelope and raw message bytes into an item.
func itemFromFetch(uid uint32, env *imap.Envelope, raw []byte) *item {
	it := &item{uid: uid, raw: raw}
	it.meta.ItemID = strconv.FormatUint(uint64(uid), 10)

	var inReplyTo []string
	if env != nil {
		it.meta.MessageID = env.MessageID
		it.meta.Subject = env.Subject
		if len(env.From) > 0 {
			it.meta.SenderEmail = env.From[0].Addr()
			it.meta.SenderName = env.From[0].Name
		}
		it.meta.To = addressesFromIMAP(env.To)
		it.meta.Cc = addressesFromIMAP(env.Cc)
		inReplyTo = env.InReplyTo
	}

	if len(raw) > 0 {
		parsed, err := enmime.ReadEnvelope(bytes.NewReader(raw))
		if err == nil {
			it.bodyText = parsed.Text
			it.references = parseMsgIDs(parsed.GetHeader("References"))
			if it.meta.MessageID == "" {
				it.meta.MessageID = strings.Trim(parsed.GetHeader("Message-Id"), "<> ")
			}
			if len(inReplyTo) == 0 {
				inReplyTo = parseMsgIDs(parsed.GetHeader("In-Reply-To"))
			}
		} else {
			// Treat an unparseable message as plain text.
			it.bodyText = string(raw)
		}
	}

	it.meta.ThreadID = threadID(it.references, inReplyTo, it.meta.MessageID)
	return it
}

// threadID picks the thread root: the first References entry, else the
// parent, else the message itself.
func threadID(references, inReplyTo []string, messageID string) string {
	if len(references) > 0 {
		return references[0]
	}
	if len(inReplyTo) > 0 {
		return strings.Trim(inReplyTo[0], "<> ")
	}
	return messageID
}

// parseMsgIDs splits a References-style header into bare message IDs.
func parseMsgIDs(v string) []string {
	var ids []string
	for _, f := range strings.Fields(v) {
		id := strings.Trim(f, "<>,")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func addressesFromIMAP(in []imap.Address) []identity.Address {
	out := make([]identity.Address, 0, len(in))
	for _, a := range in {
		if a.IsGroupStart() || a.IsGroupEnd() {
			continue
		}
		out = append(out, identity.Address{Name: a.Name, Email: a.Addr()})
	}
	return out
}
