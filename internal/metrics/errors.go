package metrics

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrInvalidNamespace = errors.ErrorCode("metrics_invalid_namespace")

	// Registration Errors
	ErrRegisterFailed = errors.ErrorCode("metrics_register_failed")
)
