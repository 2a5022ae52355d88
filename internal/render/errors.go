package render

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrAlreadyRunning  = errors.ErrorCode("render_already_running")
)
