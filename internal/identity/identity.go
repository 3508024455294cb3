package identity

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// EmailIdentity is the stable key for one email item.
type EmailIdentity string

// fallbackPrefix marks identities derived from visible metadata rather
// than host-provided identifiers.
const fallbackPrefix = "nocid::h"

// Address is a display name plus mailbox address as reported by the host.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Metadata is the host's view of the currently displayed item. Any field
// may be empty.
type Metadata struct {
	ThreadID    string    `json:"thread_id,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	ItemID      string    `json:"item_id,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	SenderEmail string    `json:"sender_email,omitempty"`
	SenderName  string    `json:"sender_name,omitempty"`
	To          []Address `json:"to,omitempty"`
	Cc          []Address `json:"cc,omitempty"`
}

// PrimaryRecipient returns the first To address, or "" when there is none.
func (m Metadata) PrimaryRecipient() string {
	for _, a := range m.To {
		if e := strings.TrimSpace(a.Email); e != "" {
			return e
		}
	}
	return ""
}

// Resolve derives the identity for the given metadata. It is a pure
// function of its input: thread::message when both are present, then
// thread::item, then a hashed fallback over subject, sender and primary
// recipient.
//
// The fallback carries no collision guarantee. Two emails sharing the same
// normalized subject, sender and first recipient resolve to the same key.
func Resolve(m Metadata) EmailIdentity {
	thread := strings.TrimSpace(m.ThreadID)
	msg := strings.TrimSpace(m.MessageID)
	item := strings.TrimSpace(m.ItemID)

	switch {
	case thread != "" && msg != "":
		return EmailIdentity(thread + "::" + msg)
	case thread != "" && item != "":
		return EmailIdentity(thread + "::" + item)
	}

	return Fallback(m.Subject, m.SenderEmail, m.PrimaryRecipient())
}

// Fallback computes the nocid key over the normalized tuple.
func Fallback(subject, sender, recipient string) EmailIdentity {
	tuple := strings.Join([]string{
		NormalizeSubject(subject),
		NormalizeAddress(sender),
		NormalizeAddress(recipient),
	}, "|")

	h := fnv.New32a()
	_, _ = h.Write([]byte(tuple))
	return EmailIdentity(fallbackPrefix + strconv.FormatUint(uint64(h.Sum32()), 16))
}

// IsFallback reports whether id was derived from visible metadata.
func (id EmailIdentity) IsFallback() bool {
	return strings.HasPrefix(string(id), fallbackPrefix)
}

func (id EmailIdentity) String() string { return string(id) }

// NormalizeSubject lower-cases s and collapses whitespace runs.
func NormalizeSubject(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeAddress trims and lower-cases an email address.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
