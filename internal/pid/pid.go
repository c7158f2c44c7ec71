// Package pid guards the radio against a second daemon instance.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/wifiprovd/internal/errors"
)

const DefaultPath = "/run/wifiprovd.pid"

type File struct {
	path string
}

// Acquire writes the current process ID to path. It fails with
// ErrAlreadyRunning when the file names another live process. A file left
// by a dead process, an unreadable one, or one naming this process (after
// a re-exec) is replaced.
func Acquire(path string) (*File, error) {
	errFactory := errors.New()
	self := os.Getpid()

	if owner, ok := readOwner(path); ok && owner != self && alive(owner) {
		return nil, errFactory.WithData(errors.ErrAlreadyRunning, map[string]any{"pid": owner, "path": path})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(self)+"\n"), 0o644); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return &File{path: path}, nil
}

func (f *File) Path() string {
	return f.path
}

// Release removes the PID file if it still names this process.
func (f *File) Release() error {
	errFactory := errors.New()

	if owner, ok := readOwner(f.path); !ok || owner != os.Getpid() {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	return nil
}

func readOwner(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
