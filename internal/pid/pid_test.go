package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/pid"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "ecgcapture.pid")

	require.NoError(t, pid.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Rewriting our own file is fine.
	require.NoError(t, pid.Write(path))

	require.NoError(t, pid.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, pid.Remove(path))
}

func TestWriteRefusesLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecgcapture.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := pid.Write(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecgcapture.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o600))

	require.NoError(t, pid.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestRemoveLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecgcapture.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	require.NoError(t, pid.Remove(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join(os.TempDir(), "ecgcapture.pid"), pid.Path(""))
	assert.Equal(t, "/run/x.pid", pid.Path("/run/x.pid"))
}
