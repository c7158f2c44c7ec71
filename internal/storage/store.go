package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Tx stages writes to one namespace. Staged writes become visible and
// durable together when the surrounding Update returns nil.
type Tx interface {
	Set(key, value string) error
	Erase(key string) error
}

// Store is a namespaced string key/value store with the semantics of a
// flash NVS partition: values survive restarts and a commit is atomic.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger logger.Logger
	mu     sync.Mutex
	closed bool
}

func Open(cfg Config, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// synchronous=FULL makes every commit reach the disk before returning
	dsn := cfg.DBPath + "?_journal=WAL&_sync=FULL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Storage initialized")

	return &Store{
		db:     db,
		cfg:    cfg,
		logger: log,
	}, nil
}

// DB exposes the underlying database to repositories sharing the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get returns the value stored under key in namespace.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	errFactory := errors.New()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM nvs WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", errFactory.WithData(ErrKeyNotFound, namespace+"/"+key)
	}
	if err != nil {
		return "", errFactory.Wrap(ErrStorageAccess, err)
	}

	return value, nil
}

// Update runs fn against namespace inside a single transaction and commits
// it. Nothing fn staged is visible if fn or the commit fails.
func (s *Store) Update(ctx context.Context, namespace string, fn func(Tx) error) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errFactory.WithMessage(ErrStorageAccess, "storage is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if err := fn(&sqlTx{ctx: ctx, tx: tx, namespace: namespace}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := s.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	s.logger.Info().Msg("Storage closed gracefully")

	return nil
}

type sqlTx struct {
	ctx       context.Context
	tx        *sql.Tx
	namespace string
}

func (t *sqlTx) Set(key, value string) error {
	_, err := t.tx.ExecContext(t.ctx, `
        INSERT INTO nvs (namespace, key, value, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(namespace, key) DO UPDATE SET
            value = excluded.value,
            updated_at = excluded.updated_at
    `, t.namespace, key, value, time.Now().Unix())
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (t *sqlTx) Erase(key string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM nvs WHERE namespace = ? AND key = ?`,
		t.namespace, key,
	)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}
	return nil
}
