package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "wifiprovd.pid")

	f, err := Acquire(path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(b))

	require.NoError(t, f.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.Release())
}

func TestAcquireOwnPIDAfterReexec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiprovd.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := Acquire(path)
	assert.NoError(t, err)
}

func TestAcquireLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiprovd.pid")
	// The parent (the test runner) is alive for the duration of the test.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))

	_, err := Acquire(path)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	tests := map[string]string{
		"garbage":  "not-a-pid",
		"dead pid": "2147483646",
		"empty":    "",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "wifiprovd.pid")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			f, err := Acquire(path)
			require.NoError(t, err)
			assert.Equal(t, path, f.Path())
		})
	}
}

func TestReleaseLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiprovd.pid")
	f, err := Acquire(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("1"), 0o644))
	require.NoError(t, f.Release())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
