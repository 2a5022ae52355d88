package monitor

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrServe           = errors.ErrorCode("monitor_serve_failed")
)
