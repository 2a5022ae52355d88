package quality

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	ErrDecode        = errors.ErrorCode("quality_decode_failed")
	ErrEmptyImage    = errors.ErrorCode("quality_empty_image")
	ErrInvalidConfig = errors.ErrInvalidConfig
)
