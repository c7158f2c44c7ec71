package storage

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm = 0o700
	defaultDBPath  = "/var/lib/wifiprovd/nvs.db"
	backupDirName  = "backups"
)

type Config struct {
	DBPath          string
	BackupOnMigrate bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:          defaultDBPath,
		BackupOnMigrate: true,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}
