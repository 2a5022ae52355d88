package store

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/ecgcapture/ecgcapture.db"

	// MaxImageSize matches the record store's upload cap.
	MaxImageSize = 15 << 20
)

type Config struct {
	DBPath    string
	BackupDir string

	// Journal batching. BatchSize 0 writes every entry immediately.
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    16,
		BatchTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout time.Duration
		}{c.BatchSize, c.BatchTimeout})
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}
