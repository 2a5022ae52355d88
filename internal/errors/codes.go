package errors

const (
	// System
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Configuration
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Capture pipeline. Every user-facing failure maps to one of these;
	// none of them terminate the process.
	ErrHardware    ErrorCode = "hardware_error"
	ErrEmptyData   ErrorCode = "empty_data"
	ErrSynthesis   ErrorCode = "synthesis_failed"
	ErrPersistence ErrorCode = "persistence_failed"
	ErrBestEffort  ErrorCode = "best_effort_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrInvalidArgument: "Invalid argument provided",
	ErrUnavailable:     "Service unavailable",
	ErrAlreadyRunning:  "Another instance is already running",
	ErrTimeout:         "Operation timed out",
	ErrInvalidConfig:   "Invalid configuration",
	ErrMissingConfig:   "Missing configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrReadConfig:      "Failed to read configuration",
	ErrInvalidInterval: "Invalid interval value",
	ErrInvalidLogLevel: "Invalid log level",
	ErrInitFailed:      "Initialization failed",
	ErrShutdownFailed:  "Shutdown failed",
	ErrHardware:        "Signal hardware error",
	ErrEmptyData:       "No recorded data",
	ErrSynthesis:       "Failed to generate ECG image",
	ErrPersistence:     "Failed to persist measurement",
	ErrBestEffort:      "Non-critical step failed",
}

// GetErrorMessage returns the default message for code, or the code itself
// when none is registered.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return string(code)
}
