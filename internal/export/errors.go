package export

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	ErrExportInProgress  = errors.ErrorCode("export_in_progress")
	ErrInvalidPatient    = errors.ErrorCode("export_invalid_patient")
	ErrMissingDependency = errors.ErrorCode("export_missing_dependency")
)
