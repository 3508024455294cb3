package recipients

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func findRow(t *testing.T, rows []Row, email string) Row {
	t.Helper()
	for _, r := range rows {
		if r.Email == email {
			return r
		}
	}
	t.Fatalf("row %s not found", email)
	return Row{}
}

func TestSet_ManualEditSwitchesToCustom(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetReplyAll)
	require.Equal(t, PresetReplyAll, s.Preset())

	require.NoError(t, s.SetRole("carol@client.com", RoleBcc))
	require.Equal(t, PresetCustom, s.Preset())

	g := s.Grouped()
	require.Equal(t, []Recipient{{Email: "carol@client.com"}}, g.Bcc)

	require.ErrorIs(t, s.SetInclude("nobody@x.io", true), ErrUnknownRecipient)
	require.Error(t, s.SetRole("carol@client.com", "nope"))
}

func TestSet_PresetAfterManualEditWins(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetReply)

	require.NoError(t, s.SetInclude("bob@corp.com", true))
	s.ApplyPreset(PresetReply)

	require.False(t, findRow(t, s.Rows(), "bob@corp.com").Include)
	require.Equal(t, PresetReply, s.Preset())
}

func TestSet_HarvestKeepsManualEdits(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetReply)

	require.NoError(t, s.SetRole("bob@corp.com", RoleBcc))
	require.NoError(t, s.SetInclude("bob@corp.com", true))

	body := "cc bob@corp.com and vendor@supply.io, plus me@corp.com"
	s.HarvestBody(body, true)
	s.HarvestBody(body, true)

	rows := s.Rows()
	bob := findRow(t, rows, "bob@corp.com")
	require.True(t, bob.Include)
	require.Equal(t, RoleBcc, bob.Role)
	require.Equal(t, []Origin{OriginTo, OriginCc, OriginBody}, bob.Origins)

	vendor := findRow(t, rows, "vendor@supply.io")
	require.False(t, vendor.Include)
	require.Equal(t, []Origin{OriginBody}, vendor.Origins)

	for _, r := range rows {
		require.NotEqual(t, self, r.Email)
	}
	require.Len(t, rows, 4)
}

func TestSet_DisablingBodyEmailsDropsUntouchedBodyRows(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetReply)
	s.HarvestBody("vendor@supply.io keep@supply.io bob@corp.com", true)
	require.NoError(t, s.SetInclude("keep@supply.io", true))

	s.HarvestBody("", false)

	rows := s.Rows()
	require.Len(t, rows, 4)
	findRow(t, rows, "keep@supply.io")
	require.True(t, findRow(t, rows, "bob@corp.com").Has(OriginBody), "origins never shrink")
}

func TestSet_AddManual(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetReply)

	require.NoError(t, s.AddManual("New@Partner.com", "New", RoleCc))
	require.NoError(t, s.AddManual("carol@client.com", "Carol", ""))
	require.Error(t, s.AddManual("me@corp.com", "", RoleTo))
	require.Error(t, s.AddManual("nonsense", "", RoleTo))
	require.NoError(t, s.AddManual("Dana Lee <Dana@Client.com>", "", RoleBcc))

	rows := s.Rows()
	added := findRow(t, rows, "new@partner.com")
	require.True(t, added.Include)
	require.Equal(t, RoleCc, added.Role)

	carol := findRow(t, rows, "carol@client.com")
	require.True(t, carol.Include)
	require.Equal(t, RoleTo, carol.Role)
	require.Equal(t, "Carol", carol.Name)
	require.True(t, carol.Has(OriginManual))
	require.True(t, carol.Has(OriginCc))
	require.Equal(t, PresetCustom, s.Preset())

	dana := findRow(t, rows, "dana@client.com")
	require.Equal(t, "Dana Lee", dana.Name)
	require.Equal(t, RoleBcc, dana.Role)
}

func TestSet_ResetRebuildsFromScratch(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetReply)
	s.HarvestBody("vendor@supply.io", true)

	s.Reset(Header{SenderEmail: "zed@other.io"}, PresetReply)

	rows := s.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, "zed@other.io", rows[0].Email)
	require.True(t, rows[0].Include)
}

func TestSet_ResetFromCustomStartsFromReply(t *testing.T) {
	s := NewSet(self)
	s.Reset(sampleHeader(), PresetCustom)

	require.Equal(t, PresetReply, s.Preset())
	g := s.Grouped()
	require.Len(t, g.To, 1)
	require.Equal(t, "alice@client.com", g.To[0].Email)
}
