package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring([]keyring.Item{{Key: "blank"}}))

	_, err := s.Get("work")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("work", "hunter2"))
	secret, err := s.Get("work")
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)

	_, err = s.Get("blank")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSystemBackendsNeedNoPassphrase(t *testing.T) {
	require.NotContains(t, systemBackends, keyring.FileBackend)
}
