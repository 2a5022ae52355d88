package casestore

import (
	"fmt"

	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrInvalidPatientID = errors.ErrorCode("casestore_invalid_patient_id")
	ErrInvalidCaseID    = errors.ErrorCode("casestore_invalid_case_id")
	ErrTransport        = errors.ErrorCode("casestore_transport_failed")
	ErrRejected         = errors.ErrorCode("casestore_request_rejected")
	ErrDecodeResponse   = errors.ErrorCode("casestore_decode_failed")
)

// APIError is the failure body of the record store. Framework validation
// errors arrive as problem details; the controllers answer with a bare
// {"message": ...}.
type APIError struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = e.Message
	}

	switch {
	case e.Title != "" && detail != "":
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, detail)
	case e.Title != "":
		return fmt.Sprintf("%d %s", e.Status, e.Title)
	case detail != "":
		return fmt.Sprintf("%d %s", e.Status, detail)
	}
	return fmt.Sprintf("status %d", e.Status)
}
