package acquisition

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	ErrAlreadyRecording = errors.ErrorCode("acquisition_already_recording")
	ErrInvalidOptions   = errors.ErrorCode("acquisition_invalid_options")
	ErrInvalidBatch     = errors.ErrorCode("acquisition_invalid_batch")
)
