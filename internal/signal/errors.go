package signal

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	// Lifecycle Errors
	ErrNotConnected  = errors.ErrorCode("signal_not_connected")
	ErrConnectFailed = errors.ErrorCode("signal_connect_failed")
	ErrInvalidPort   = errors.ErrorCode("signal_invalid_port")
	ErrInvalidBaud   = errors.ErrorCode("signal_invalid_baud")

	// Acquisition Errors
	ErrReadFailed  = errors.ErrorCode("signal_read_failed")
	ErrParseFailed = errors.ErrorCode("signal_parse_failed")
)

// hardwareError tags err with the taxonomy code so callers can classify it
// without knowing which source produced it.
func hardwareError(code errors.ErrorCode, err error) error {
	errFactory := errors.New()
	if err == nil {
		return errFactory.Wrap(errors.ErrHardware, errFactory.New(code))
	}

	return errFactory.Wrap(errors.ErrHardware, errFactory.Wrap(code, err))
}
