package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
		want EmailIdentity
	}{
		{
			name: "thread and message",
			meta: Metadata{ThreadID: "T1", MessageID: "M1", Subject: "Quote", SenderEmail: "a@x.com"},
			want: "T1::M1",
		},
		{
			name: "thread and item when message missing",
			meta: Metadata{ThreadID: "T1", ItemID: "I9"},
			want: "T1::I9",
		},
		{
			name: "message wins over item",
			meta: Metadata{ThreadID: "T1", MessageID: "M2", ItemID: "I9"},
			want: "T1::M2",
		},
		{
			name: "fallback without recipient",
			meta: Metadata{Subject: "Hello", SenderEmail: "Bob@Example.com "},
			want: "nocid::haae62b6f",
		},
		{
			name: "message without thread falls back",
			meta: Metadata{MessageID: "M1", Subject: "Hello", SenderEmail: "bob@example.com"},
			want: "nocid::haae62b6f",
		},
		{
			name: "fallback with primary recipient",
			meta: Metadata{
				Subject:     "Quote",
				SenderEmail: "a@x.com",
				To:          []Address{{Email: "B@Y.com"}, {Email: "c@z.com"}},
			},
			want: "nocid::h91cce3f9",
		},
		{
			name: "empty metadata",
			meta: Metadata{},
			want: "nocid::h5558edc5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Resolve(tt.meta))
		})
	}
}

func TestResolveStable(t *testing.T) {
	a := Metadata{Subject: "  Weekly   Sync\tNotes ", SenderEmail: "Alice@Example.COM"}
	b := Metadata{Subject: "weekly sync notes", SenderEmail: "alice@example.com  "}

	require.Equal(t, Resolve(a), Resolve(a))
	require.Equal(t, Resolve(a), Resolve(b))
	require.True(t, Resolve(a).IsFallback())
}

func TestResolveDivergesOnSender(t *testing.T) {
	a := Resolve(Metadata{Subject: "Hello", SenderEmail: "bob@example.com"})
	b := Resolve(Metadata{Subject: "Hello", SenderEmail: "alice@example.com"})

	require.NotEqual(t, a, b)
	require.Equal(t, EmailIdentity("nocid::h15cac21e"), b)
}

func TestSwitchingMessagesChangesIdentity(t *testing.T) {
	first := Resolve(Metadata{ThreadID: "T1", MessageID: "M1"})
	second := Resolve(Metadata{ThreadID: "T1", MessageID: "M2"})

	require.Equal(t, EmailIdentity("T1::M2"), second)
	require.NotEqual(t, first, second)
	require.False(t, second.IsFallback())
}
