package errors

// ErrorCode identifies a failure class. Codes are stable strings; they are
// returned in API responses and written to the export journal.
type ErrorCode string

// Coder is anything that carries an ErrorCode.
type Coder interface {
	Code() ErrorCode
}

// Error is a coded error with an optional message override and payload.
type Error interface {
	error
	Coder
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds Errors. Obtain one with New.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
