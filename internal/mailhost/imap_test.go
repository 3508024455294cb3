package mailhost

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpane/internal/identity"
)

const rawReply = "From: Alice <alice@client.com>\r\n" +
	"To: me@corp.com\r\n" +
	"Subject: Re: Quote\r\n" +
	"Message-Id: <m2@client.com>\r\n" +
	"In-Reply-To: <m1@corp.com>\r\n" +
	"References: <root@corp.com> <m1@corp.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please send the quote to purchasing@client.com.\r\n"

func TestItemFromFetch(t *testing.T) {
	env := &imap.Envelope{
		Subject:   "Re: Quote",
		MessageID: "m2@client.com",
		From:      []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "client.com"}},
		To:        []imap.Address{{Mailbox: "me", Host: "corp.com"}},
		InReplyTo: []string{"m1@corp.com"},
	}

	it := itemFromFetch(42, env, []byte(rawReply))

	require.Equal(t, "42", it.meta.ItemID)
	require.Equal(t, "root@corp.com", it.meta.ThreadID)
	require.Equal(t, "m2@client.com", it.meta.MessageID)
	require.Equal(t, "alice@client.com", it.meta.SenderEmail)
	require.Equal(t, "Alice", it.meta.SenderName)
	require.Equal(t, []identity.Address{{Email: "me@corp.com"}}, it.meta.To)
	require.Contains(t, it.bodyText, "purchasing@client.com")
	require.Equal(t, identity.EmailIdentity("root@corp.com::m2@client.com"), identity.Resolve(it.meta))
}

func TestThreadID(t *testing.T) {
	require.Equal(t, "r", threadID([]string{"r", "p"}, []string{"p"}, "m"))
	require.Equal(t, "p", threadID(nil, []string{"<p>"}, "m"))
	require.Equal(t, "m", threadID(nil, nil, "m"))
	require.Empty(t, threadID(nil, nil, ""))
}

func TestBuildDraft_Reply(t *testing.T) {
	cur := itemFromFetch(42, nil, []byte(rawReply))
	req := FormRequest{
		To:       []identity.Address{{Email: "alice@client.com", Name: "Alice"}},
		Cc:       []identity.Address{{Email: "bob@corp.com"}},
		HTMLBody: "<p>Attached.</p>",
	}

	raw, err := buildDraft(draftReply, req, cur, "me@corp.com", time.Unix(0, 0))
	require.NoError(t, err)

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	require.Equal(t, "Re: Quote", subject)

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	require.Equal(t, "alice@client.com", to[0].Address)

	refs, err := r.Header.MsgIDList("References")
	require.NoError(t, err)
	require.Equal(t, []string{"root@corp.com", "m1@corp.com", "m2@client.com"}, refs)

	parsed, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Contains(t, parsed.HTML, "<p>Attached.</p>")
}

func TestBuildDraft_BodyOnlyDropsRecipients(t *testing.T) {
	req := FormRequest{
		Shape:    ShapeBodyOnly,
		To:       []identity.Address{{Email: "alice@client.com"}},
		Subject:  "Hello",
		HTMLBody: "<p>x</p>",
	}
	raw, err := buildDraft(draftNew, req, nil, "", time.Unix(0, 0))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "alice@client.com")
	require.Contains(t, string(raw), "Subject: Hello")
}

func TestBuildDraft_ForwardAttachesOriginal(t *testing.T) {
	cur := itemFromFetch(42, nil, []byte(rawReply))
	req := FormRequest{
		To:             []identity.Address{{Email: "boss@corp.com"}},
		HTMLBody:       "<p>FYI</p>",
		AttachOriginal: true,
	}

	raw, err := buildDraft(draftForward, req, cur, "me@corp.com", time.Unix(0, 0))
	require.NoError(t, err)

	parsed, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "Fwd: Re: Quote", parsed.GetHeader("Subject"))

	var names []string
	for _, p := range append(parsed.Attachments, parsed.Inlines...) {
		names = append(names, p.FileName)
	}
	require.Contains(t, strings.Join(names, ","), "Re_ Quote.eml")
}

func TestAuthError(t *testing.T) {
	err := error(&AuthError{Host: "imap.x", Message: "bad password"})
	require.True(t, IsAuthError(err))
	require.False(t, IsAuthError(ErrRejected))
	require.Equal(t, "auth error (imap.x): bad password", err.Error())
}
