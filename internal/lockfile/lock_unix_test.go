//go:build unix

package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlockExclusiveNonBlockingRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	f1, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f1.Close()
	require.NoError(t, FlockExclusiveNonBlocking(f1))

	f2, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f2.Close()

	err = FlockExclusiveNonBlocking(f2)
	require.Error(t, err)
	require.True(t, IsLocked(err))
}

func TestFlockUnlockAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	f1, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f1.Close()
	require.NoError(t, FlockExclusiveNonBlocking(f1))
	require.NoError(t, FlockUnlock(f1))

	f2, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f2.Close()
	require.NoError(t, FlockExclusiveNonBlocking(f2))
}
