// Package credentials persists the single WiFi network the device should
// join. It is the only owner of the stored pair; callers get copies.
package credentials

import (
	"context"
	"sync"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/storage"
)

const (
	Namespace = "wifi_config"

	keySSID     = "ssid"
	keyPassword = "password"

	MaxSSIDLen     = 32
	MaxPasswordLen = 64
)

// Credentials is a network name and its secret.
type Credentials struct {
	SSID     string
	Password string
}

// Present reports whether the pair names a network.
func (c Credentials) Present() bool {
	return c.SSID != ""
}

// Validate enforces the size limits of the radio configuration block.
func (c Credentials) Validate() error {
	errFactory := errors.New()

	if c.SSID == "" {
		return errFactory.WithMessage(ErrInvalid, "network name is empty")
	}
	if len(c.SSID) > MaxSSIDLen {
		return errFactory.WithData(ErrInvalid, struct {
			Field string
			Len   int
			Max   int
		}{"ssid", len(c.SSID), MaxSSIDLen})
	}
	if len(c.Password) > MaxPasswordLen {
		return errFactory.WithData(ErrInvalid, struct {
			Field string
			Len   int
			Max   int
		}{"password", len(c.Password), MaxPasswordLen})
	}

	return nil
}

// KV is the non-volatile key/value storage the credentials live in.
type KV interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Update(ctx context.Context, namespace string, fn func(storage.Tx) error) error
}

type Store struct {
	kv     KV
	logger logger.Logger

	mu       sync.RWMutex
	snapshot Credentials
}

func NewStore(kv KV, log logger.Logger) *Store {
	return &Store{kv: kv, logger: log}
}

// Save writes both values in one commit. When Save returns nil the pair is
// durable; on error nothing was written.
func (s *Store) Save(ctx context.Context, ssid, password string) error {
	errFactory := errors.New()

	creds := Credentials{SSID: ssid, Password: password}
	if err := creds.Validate(); err != nil {
		return err
	}

	err := s.kv.Update(ctx, Namespace, func(tx storage.Tx) error {
		if err := tx.Set(keySSID, ssid); err != nil {
			return err
		}
		return tx.Set(keyPassword, password)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("ssid", ssid).Msg("Failed to save WiFi credentials")
		return errFactory.Wrap(ErrStorage, err)
	}

	s.setSnapshot(creds)
	s.logger.Info().Str("ssid", ssid).Int("password_len", len(password)).Msg("WiFi credentials saved")

	return nil
}

// Load reads the stored pair. A missing value yields ErrNotFound, any other
// storage fault yields ErrStorage.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	errFactory := errors.New()

	ssid, err := s.kv.Get(ctx, Namespace, keySSID)
	if err != nil {
		return Credentials{}, s.classify(err)
	}

	password, err := s.kv.Get(ctx, Namespace, keyPassword)
	if err != nil {
		return Credentials{}, s.classify(err)
	}

	creds := Credentials{SSID: ssid, Password: password}
	if !creds.Present() {
		return Credentials{}, errFactory.New(ErrNotFound)
	}

	s.setSnapshot(creds)

	return creds, nil
}

// Clear erases both values in one commit.
func (s *Store) Clear(ctx context.Context) error {
	err := s.kv.Update(ctx, Namespace, func(tx storage.Tx) error {
		if err := tx.Erase(keySSID); err != nil {
			return err
		}
		return tx.Erase(keyPassword)
	})
	if err != nil {
		return errors.New().Wrap(ErrStorage, err)
	}

	s.setSnapshot(Credentials{})
	s.logger.Info().Msg("WiFi credentials cleared")

	return nil
}

// Has reports whether a usable pair is stored.
func (s *Store) Has(ctx context.Context) bool {
	creds, err := s.Load(ctx)
	return err == nil && creds.Present()
}

// SSID returns the network name of the last pair seen by this store, which
// is safe to show to users. The secret is never exposed this way.
func (s *Store) SSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.SSID
}

func (s *Store) setSnapshot(c Credentials) {
	s.mu.Lock()
	s.snapshot = c
	s.mu.Unlock()
}

func (s *Store) classify(err error) error {
	errFactory := errors.New()

	if errors.HasCode(err, storage.ErrKeyNotFound) {
		return errFactory.Wrap(ErrNotFound, err)
	}

	s.logger.Error().Err(err).Msg("Failed to read WiFi credentials")
	return errFactory.Wrap(ErrStorage, err)
}
