//go:build unix || windows

package lock

import (
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusivePerAccount(t *testing.T) {
	dir := t.TempDir()

	guard, err := Acquire(dir, "work")
	require.NoError(t, err)

	_, err = Acquire(dir, "work")
	require.ErrorIs(t, err, ErrLocked)
	require.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))

	other, err := Acquire(dir, "home")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, guard.Release())
	require.NoError(t, guard.Release())

	again, err := Acquire(dir, "work")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestPathSanitizesAccount(t *testing.T) {
	path := Path("/tmp", "a/b")
	require.True(t, strings.HasSuffix(path, "mailsync-sync-a_b.lock"))
}
