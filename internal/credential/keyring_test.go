package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	orig := openKeyring
	openKeyring = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyring = orig })
}

func TestSetGetDelete(t *testing.T) {
	useArrayKeyring(t)

	require.NoError(t, Set(AIKey, "sk-test"))
	v, err := Get(AIKey)
	require.NoError(t, err)
	require.Equal(t, "sk-test", v)

	require.NoError(t, Delete(AIKey))
	_, err = Get(AIKey)
	require.ErrorIs(t, err, keyring.ErrKeyNotFound)
}

func TestLookupPrefersEnv(t *testing.T) {
	useArrayKeyring(t)
	require.NoError(t, Set(IMAPPassword, "from-keyring"))

	v, err := Lookup(IMAPPassword)
	require.NoError(t, err)
	require.Equal(t, "from-keyring", v)

	t.Setenv("MAILPANE_IMAP_PASSWORD", "from-env")
	v, err = Lookup(IMAPPassword)
	require.NoError(t, err)
	require.Equal(t, "from-env", v)
}
