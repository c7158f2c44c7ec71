// Package history keeps a persistent log of connection state transitions.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
)

const (
	defaultBatchSize     = 16
	defaultFlushInterval = 10 * time.Second
	defaultRetain        = 500
)

// Entry is one state change of the connection state machine.
type Entry struct {
	Time   time.Time
	From   string
	To     string
	Retry  int
	Reason string
}

// Recorder stores transitions and returns the most recent ones.
type Recorder interface {
	Record(e Entry) error
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

type Config struct {
	Enabled       bool
	BatchSize     int
	FlushInterval time.Duration
	// Retain bounds the number of rows kept on disk.
	Retain int
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		Retain:        defaultRetain,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.BatchSize <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "flush interval must be positive")
	}
	if c.Retain < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "retain must not be negative")
	}
	return nil
}

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []Entry
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// No-op implementation
type noopRecorder struct{}

// New returns a Recorder writing to the transitions table of db, or a no-op
// recorder when history is disabled. The caller keeps ownership of db.
func New(db *sql.DB, cfg Config, log logger.Logger) (Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		log.Debug().Msg("Connection history disabled, using no-op recorder")
		return noopRecorder{}, nil
	}

	r := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]Entry, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go r.flusher()

	log.Debug().
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Connection history initialized")

	return r, nil
}

func (r *repository) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.buffer = append(r.buffer, e)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Recent returns up to n entries, newest first. Buffered entries are
// flushed first so the result is complete.
func (r *repository) Recent(ctx context.Context, n int) ([]Entry, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flush(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT timestamp, from_state, to_state, retry, reason
        FROM transitions
        ORDER BY id DESC
        LIMIT ?
    `, n)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&ts, &e.From, &e.To, &e.Retry, &e.Reason); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		e.Time = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return entries, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Signal the flusher goroutine to stop
	close(r.shutdownChan)
	r.flushTicker.Stop()

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.logger.Debug().Msg("Connection history closed")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
			return
		}
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO transitions (timestamp, from_state, to_state, retry, reason)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, e := range r.buffer {
		if _, err := stmt.Exec(e.Time.UnixMilli(), e.From, e.To, e.Retry, e.Reason); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if r.cfg.Retain > 0 {
		_, err := tx.Exec(`DELETE FROM transitions WHERE id <= (SELECT MAX(id) FROM transitions) - ?`, r.cfg.Retain)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to prune history")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed connection history")
	r.buffer = r.buffer[:0]

	return nil
}

func (noopRecorder) Record(Entry) error { return nil }

func (noopRecorder) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (noopRecorder) Close() error { return nil }
