package monitor

import (
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const (
	DefaultListen       = "127.0.0.1:8080"
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 54 * time.Second
	DefaultClientBuffer = 16
)

type Config struct {
	Listen       string
	WriteTimeout time.Duration
	PingInterval time.Duration
	// ClientBuffer is the number of messages queued per live client before
	// the client is dropped.
	ClientBuffer int
}

func DefaultConfig() Config {
	return Config{
		Listen:       DefaultListen,
		WriteTimeout: DefaultWriteTimeout,
		PingInterval: DefaultPingInterval,
		ClientBuffer: DefaultClientBuffer,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Listen == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "listen address is empty")
	}
	if c.WriteTimeout <= 0 || c.PingInterval <= 0 {
		return errFactory.New(ErrInvalidInterval)
	}
	if c.ClientBuffer < 1 {
		return errFactory.WithData(ErrInvalidConfig, c.ClientBuffer)
	}

	return nil
}
