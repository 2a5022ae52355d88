package render

import (
	"time"

	"codeberg.org/mutker/ecgcapture/internal/buffer"
	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const (
	DefaultInterval = 33 * time.Millisecond
	minInterval     = time.Millisecond
)

type Config struct {
	Interval       time.Duration
	DisplaySamples int
}

func DefaultConfig() Config {
	return Config{
		Interval:       DefaultInterval,
		DisplaySamples: buffer.DefaultDisplaySamples,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Interval < minInterval {
		return errFactory.WithData(ErrInvalidInterval, c.Interval)
	}
	if c.DisplaySamples <= 0 {
		return errFactory.WithData(ErrInvalidConfig, c.DisplaySamples)
	}
	return nil
}
