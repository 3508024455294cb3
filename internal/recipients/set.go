package recipients

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/emersion/go-message/mail"
)

// ErrUnknownRecipient is returned when editing an address not in the set.
var ErrUnknownRecipient = errors.New("recipient not in set")

// Set is the mutable recipient state for the email on screen. It is rebuilt
// by Reset whenever the identity changes and then edited incrementally.
type Set struct {
	mu     sync.Mutex
	self   string
	sender string
	rows   []Row
	preset Preset
}

// NewSet creates an empty set that never contains self.
func NewSet(self string) *Set {
	return &Set{self: Normalize(self), preset: PresetReply}
}

// Reset rebuilds the set from header metadata and applies p. Manual row
// edits are not kept across a rebuild, so custom starts over from reply.
func (s *Set) Reset(h Header, p Preset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == PresetCustom {
		p = PresetReply
	}

	s.sender = Normalize(h.SenderEmail)
	s.rows = Build(h, s.self)
	s.preset = p
	s.rows = ApplyPreset(s.rows, p, s.sender, s.self)
}

// ApplyPreset re-runs preset p over the current rows. Manual edits made
// before are overwritten; the last action wins.
func (s *Set) ApplyPreset(p Preset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.preset = p
	s.rows = ApplyPreset(s.rows, p, s.sender, s.self)
}

// Preset returns the preset tag currently in effect.
func (s *Set) Preset() Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

// SetInclude toggles one row and switches the preset to custom.
func (s *Set) SetInclude(email string, include bool) error {
	return s.edit(email, func(r *Row) { r.Include = include })
}

// SetRole moves one row to role and switches the preset to custom.
func (s *Set) SetRole(email string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	return s.edit(email, func(r *Row) { r.Role = role })
}

func (s *Set) edit(email string, fn func(*Row)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(Normalize(email))
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, email)
	}
	fn(&s.rows[i])
	s.rows[i].Edited = true
	s.preset = PresetCustom
	return nil
}

// AddManual adds (or re-includes) an address typed by the user. email may
// also be a full "Name <addr>" form, whose display name is used when name
// is empty.
func (s *Set) AddManual(email, name string, role Role) error {
	if addr, err := mail.ParseAddress(email); err == nil {
		email = addr.Address
		if strings.TrimSpace(name) == "" {
			name = addr.Name
		}
	}
	norm := Normalize(email)
	if norm == "" {
		return fmt.Errorf("invalid email address %q", email)
	}
	if norm == s.self {
		return fmt.Errorf("cannot add own address %q", email)
	}
	if !role.Valid() {
		role = RoleTo
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(norm); i >= 0 {
		r := &s.rows[i]
		r.addOrigin(OriginManual)
		r.Include = true
		r.Role = role
		r.Edited = true
		if r.Name == "" {
			r.Name = strings.TrimSpace(name)
		}
	} else {
		s.rows = append(s.rows, Row{
			Email:   norm,
			Name:    strings.TrimSpace(name),
			Origins: []Origin{OriginManual},
			Include: true,
			Role:    role,
			Edited:  true,
		})
	}
	s.preset = PresetCustom
	return nil
}

// HarvestBody merges addresses found in body text. New addresses join as
// excluded body rows; known ones only gain the body origin, so include and
// role edits survive a rescan. With enabled false, body-only rows the user
// never touched are dropped.
func (s *Set) HarvestBody(text string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !enabled {
		kept := s.rows[:0]
		for _, r := range s.rows {
			if len(r.Origins) == 1 && r.Origins[0] == OriginBody && !r.Edited {
				continue
			}
			kept = append(kept, r)
		}
		s.rows = kept
		return
	}

	for _, email := range Harvest(text) {
		if email == s.self {
			continue
		}
		if i := s.indexLocked(email); i >= 0 {
			s.rows[i].addOrigin(OriginBody)
			continue
		}
		s.rows = append(s.rows, Row{
			Email:   email,
			Origins: []Origin{OriginBody},
			Role:    RoleTo,
		})
	}
}

// Rows returns a copy of the current rows.
func (s *Set) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows)
}

// Grouped returns the To/Cc/Bcc split of the included rows.
func (s *Set) Grouped() Grouped {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Group(s.rows)
}

func (s *Set) indexLocked(email string) int {
	for i, r := range s.rows {
		if r.Email == email {
			return i
		}
	}
	return -1
}
