package casestore

import (
	"net/url"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5000/",
		Timeout: DefaultTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errFactory.Wrap(ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errFactory.WithData(ErrInvalidConfig, c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Timeout)
	}
	return nil
}
