// Package restart lets request handlers ask for a process restart without
// owning the shutdown sequence. The main loop watches Requested, performs
// an orderly shutdown and then calls Exec.
package restart

import (
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
)

type Restarter struct {
	logger    logger.Logger
	once      sync.Once
	requested chan struct{}
}

func New(log logger.Logger) *Restarter {
	return &Restarter{
		logger:    log,
		requested: make(chan struct{}),
	}
}

// Schedule signals Requested after delay. Only the first call has effect.
func (r *Restarter) Schedule(delay time.Duration) {
	r.once.Do(func() {
		r.logger.Info().Dur("delay", delay).Msg("Restart scheduled")
		time.AfterFunc(delay, func() { close(r.requested) })
	})
}

// Requested is closed once a scheduled restart is due.
func (r *Restarter) Requested() <-chan struct{} {
	return r.requested
}

// Exec replaces the current process image with a fresh copy of the same
// executable, keeping the environment and every argument except --reset.
// It only returns on error.
func Exec() error {
	exe, err := os.Executable()
	if err != nil {
		return errors.New().Wrap(errors.ErrRestart, err)
	}

	if err := syscall.Exec(exe, Args(os.Args), os.Environ()); err != nil {
		return errors.New().Wrap(errors.ErrRestart, err)
	}

	return nil
}

// Args drops one-shot flags from argv so the restarted process does not
// repeat them. Credentials saved before the restart must survive it.
func Args(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i, arg := range argv {
		if i > 0 && (arg == "--reset" || strings.HasPrefix(arg, "--reset=")) {
			continue
		}
		out = append(out, arg)
	}
	return out
}
