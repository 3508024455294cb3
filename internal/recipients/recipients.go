// Package recipients builds the addressable-recipient set for an email and
// groups it into To/Cc/Bcc under the reply presets.
package recipients

import (
	"slices"
	"strings"

	"github.com/nhle/mailpane/internal/identity"
)

// Origin records where an address was seen.
type Origin string

const (
	OriginFrom   Origin = "from"
	OriginTo     Origin = "to"
	OriginCc     Origin = "cc"
	OriginBody   Origin = "body"
	OriginManual Origin = "manual"
)

// Role is the header an included row is sent in.
type Role string

const (
	RoleTo  Role = "to"
	RoleCc  Role = "cc"
	RoleBcc Role = "bcc"
)

// Valid reports whether r is one of the three roles.
func (r Role) Valid() bool {
	return r == RoleTo || r == RoleCc || r == RoleBcc
}

// Preset names an automatic include/role assignment.
type Preset string

const (
	PresetReply    Preset = "reply"
	PresetReplyAll Preset = "replyAll"
	PresetCustom   Preset = "custom"
)

// ParsePreset maps a stored preset name to a Preset, defaulting to reply.
func ParsePreset(s string) Preset {
	switch Preset(s) {
	case PresetReplyAll:
		return PresetReplyAll
	case PresetCustom:
		return PresetCustom
	default:
		return PresetReply
	}
}

// Row is one recipient candidate. Email is normalized and unique within a
// set; Origins only ever grow.
type Row struct {
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Origins []Origin `json:"origins"`
	Include bool     `json:"include"`
	Role    Role     `json:"role"`

	// Edited is set once the user toggled include or role by hand.
	Edited bool `json:"edited,omitempty"`
}

// Has reports whether the row carries origin o.
func (r Row) Has(o Origin) bool {
	return slices.Contains(r.Origins, o)
}

func (r *Row) addOrigin(o Origin) {
	if !r.Has(o) {
		r.Origins = append(r.Origins, o)
	}
}

// Header is the header-level address metadata of an email.
type Header struct {
	SenderEmail string
	SenderName  string
	To          []identity.Address
	Cc          []identity.Address
}

// HeaderFrom extracts the header addresses from host metadata.
func HeaderFrom(m identity.Metadata) Header {
	return Header{
		SenderEmail: m.SenderEmail,
		SenderName:  m.SenderName,
		To:          m.To,
		Cc:          m.Cc,
	}
}

// Normalize trims, strips a mailto: prefix and angle brackets, and
// lower-cases addr. It returns "" when the result is not an address.
func Normalize(addr string) string {
	s := strings.TrimSpace(addr)
	if len(s) >= 7 && strings.EqualFold(s[:7], "mailto:") {
		s = s[7:]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "<> \t\r\n")
	s = strings.ToLower(s)

	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 || strings.ContainsAny(s, " \t,;") {
		return ""
	}
	return s
}

// Build produces the row set for a header, excluding self. Duplicate
// addresses merge their origins; the first non-empty name wins. Rows start
// excluded; a preset decides what gets included.
func Build(h Header, self string) []Row {
	self = Normalize(self)
	var rows []Row
	index := make(map[string]int)

	add := func(addr, name string, o Origin, role Role) {
		email := Normalize(addr)
		if email == "" || email == self {
			return
		}
		if i, ok := index[email]; ok {
			rows[i].addOrigin(o)
			if rows[i].Name == "" {
				rows[i].Name = strings.TrimSpace(name)
			}
			return
		}
		index[email] = len(rows)
		rows = append(rows, Row{
			Email:   email,
			Name:    strings.TrimSpace(name),
			Origins: []Origin{o},
			Role:    role,
		})
	}

	add(h.SenderEmail, h.SenderName, OriginFrom, RoleTo)
	for _, a := range h.To {
		add(a.Email, a.Name, OriginTo, RoleTo)
	}
	for _, a := range h.Cc {
		add(a.Email, a.Name, OriginCc, RoleCc)
	}
	return rows
}

// ApplyPreset returns a copy of rows with include/role assigned by p.
//
//   - reply: only the sender, as To.
//   - replyAll: the sender as To plus every header To/Cc address as Cc.
//   - custom: unchanged.
//
// The sender row is inserted first when missing. A sender equal to self is
// never inserted.
func ApplyPreset(rows []Row, p Preset, sender, self string) []Row {
	out := cloneRows(rows)
	if p == PresetCustom {
		return out
	}

	sender = Normalize(sender)
	self = Normalize(self)

	senderFound := false
	for i := range out {
		r := &out[i]
		r.Include = false
		switch {
		case sender != "" && r.Email == sender:
			r.Include = true
			r.Role = RoleTo
			senderFound = true
		case p == PresetReplyAll && r.Email != self && (r.Has(OriginTo) || r.Has(OriginCc)):
			r.Include = true
			r.Role = RoleCc
		}
	}

	if !senderFound && sender != "" && sender != self {
		out = append([]Row{{
			Email:   sender,
			Origins: []Origin{OriginFrom},
			Include: true,
			Role:    RoleTo,
		}}, out...)
	}
	return out
}

// Recipient is one address in a grouped header.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Grouped is the To/Cc/Bcc split ready for a compose form.
type Grouped struct {
	To  []Recipient `json:"to"`
	Cc  []Recipient `json:"cc"`
	Bcc []Recipient `json:"bcc"`
}

// Empty reports whether no recipient is included.
func (g Grouped) Empty() bool {
	return len(g.To) == 0 && len(g.Cc) == 0 && len(g.Bcc) == 0
}

// Group emits the included rows into their role buckets, deduplicated by
// role and address, preserving row order.
func Group(rows []Row) Grouped {
	var g Grouped
	seen := make(map[string]bool)

	for _, r := range rows {
		if !r.Include || r.Email == "" {
			continue
		}
		role := r.Role
		if !role.Valid() {
			role = RoleTo
		}
		key := string(role) + "\x00" + r.Email
		if seen[key] {
			continue
		}
		seen[key] = true

		rc := Recipient{Email: r.Email, Name: r.Name}
		switch role {
		case RoleTo:
			g.To = append(g.To, rc)
		case RoleCc:
			g.Cc = append(g.Cc, rc)
		case RoleBcc:
			g.Bcc = append(g.Bcc, rc)
		}
	}
	return g
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		r.Origins = slices.Clone(r.Origins)
		out[i] = r
	}
	return out
}
