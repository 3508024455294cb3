package recipients

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpane/internal/identity"
)

const self = "me@corp.com"

func sampleHeader() Header {
	return Header{
		SenderEmail: "Alice@Client.com",
		SenderName:  "Alice",
		To: []identity.Address{
			{Email: "me@corp.com", Name: "Me"},
			{Email: "bob@corp.com", Name: "Bob"},
		},
		Cc: []identity.Address{
			{Email: "carol@client.com"},
			{Email: "BOB@corp.com", Name: "Robert"},
			{Email: "alice@client.com"},
		},
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		" Bob@Example.com ":            "bob@example.com",
		"mailto:Sales@X.io?subject=Hi": "sales@x.io",
		"<ceo@x.io>":                   "ceo@x.io",
		"not-an-address":               "",
		"@x.io":                        "",
		"a@":                           "",
		"two words@x.io":               "",
	}
	for in, want := range tests {
		require.Equal(t, want, Normalize(in), in)
	}
}

func TestBuild(t *testing.T) {
	rows := Build(sampleHeader(), self)

	require.Len(t, rows, 3)

	require.Equal(t, "alice@client.com", rows[0].Email)
	require.Equal(t, "Alice", rows[0].Name)
	require.Equal(t, []Origin{OriginFrom, OriginCc}, rows[0].Origins)

	require.Equal(t, "bob@corp.com", rows[1].Email)
	require.Equal(t, "Bob", rows[1].Name, "first-seen name kept")
	require.Equal(t, []Origin{OriginTo, OriginCc}, rows[1].Origins)

	require.Equal(t, "carol@client.com", rows[2].Email)
	require.Equal(t, RoleCc, rows[2].Role)

	for _, r := range rows {
		require.NotEqual(t, self, r.Email)
		require.False(t, r.Include)
	}
}

func TestApplyPreset_Reply(t *testing.T) {
	rows := ApplyPreset(Build(sampleHeader(), self), PresetReply, "alice@client.com", self)

	g := Group(rows)
	require.Equal(t, []Recipient{{Email: "alice@client.com", Name: "Alice"}}, g.To)
	require.Empty(t, g.Cc)
	require.Empty(t, g.Bcc)
}

func TestApplyPreset_ReplyIsIdempotent(t *testing.T) {
	base := Build(sampleHeader(), self)
	once := ApplyPreset(base, PresetReply, "alice@client.com", self)
	twice := ApplyPreset(once, PresetReply, "alice@client.com", self)

	require.Equal(t, once, twice)
}

func TestApplyPreset_ReplyAllThenReply(t *testing.T) {
	base := Build(sampleHeader(), self)

	all := ApplyPreset(base, PresetReplyAll, "alice@client.com", self)
	g := Group(all)
	require.Equal(t, []Recipient{{Email: "alice@client.com", Name: "Alice"}}, g.To)
	require.Equal(t, []Recipient{
		{Email: "bob@corp.com", Name: "Bob"},
		{Email: "carol@client.com"},
	}, g.Cc)

	back := ApplyPreset(all, PresetReply, "alice@client.com", self)
	for _, r := range back {
		if r.Email == "alice@client.com" {
			require.True(t, r.Include)
			continue
		}
		require.False(t, r.Include, r.Email)
	}
}

func TestApplyPreset_InsertsMissingSender(t *testing.T) {
	h := Header{To: []identity.Address{{Email: "bob@corp.com"}}}
	rows := ApplyPreset(Build(h, self), PresetReply, "new@client.com", self)

	require.Len(t, rows, 2)
	require.Equal(t, "new@client.com", rows[0].Email)
	require.True(t, rows[0].Include)
	require.Equal(t, RoleTo, rows[0].Role)
	require.True(t, rows[0].Has(OriginFrom))
}

func TestApplyPreset_CustomLeavesRows(t *testing.T) {
	base := ApplyPreset(Build(sampleHeader(), self), PresetReplyAll, "alice@client.com", self)
	require.Equal(t, base, ApplyPreset(base, PresetCustom, "alice@client.com", self))
}

func TestGroup_DedupesByRoleAndEmail(t *testing.T) {
	rows := []Row{
		{Email: "a@x.io", Include: true, Role: RoleTo},
		{Email: "a@x.io", Include: true, Role: RoleTo},
		{Email: "a@x.io", Include: true, Role: RoleBcc},
		{Email: "b@x.io", Include: false, Role: RoleCc},
		{Email: "c@x.io", Include: true, Role: "weird"},
	}
	g := Group(rows)

	require.Equal(t, []Recipient{{Email: "a@x.io"}, {Email: "c@x.io"}}, g.To)
	require.Empty(t, g.Cc)
	require.Equal(t, []Recipient{{Email: "a@x.io"}}, g.Bcc)
	require.False(t, g.Empty())
	require.True(t, Grouped{}.Empty())
}

func TestHarvest(t *testing.T) {
	body := `Please loop in <a href="mailto:Ops%40Vendor.com?subject=x">ops</a>,
also sales@vendor.com and ops@vendor.com. Thanks, finance@client.co.uk.`

	require.Equal(t, []string{
		"ops@vendor.com",
		"sales@vendor.com",
		"finance@client.co.uk",
	}, Harvest(body))
	require.Nil(t, Harvest(""))

	require.Equal(t, []string{"a@x.com", "b@y.com"},
		Harvest("Write to mailto:a@x.com. Or (mailto:b@y.com), or a@x.com"))
}

func TestParsePreset(t *testing.T) {
	require.Equal(t, PresetReplyAll, ParsePreset("replyAll"))
	require.Equal(t, PresetCustom, ParsePreset("custom"))
	require.Equal(t, PresetReply, ParsePreset(""))
}
