package synth

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	ErrNoData        = errors.ErrorCode("synth_no_data")
	ErrCanvas        = errors.ErrorCode("synth_canvas_failed")
	ErrEncode        = errors.ErrorCode("synth_encode_failed")
	ErrInvalidConfig = errors.ErrInvalidConfig
)
