// Package pid keeps one capture client per machine: only one process may
// own the serial port and the local database.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const (
	pidFile = "ecgcapture.pid"
)

// Path returns path, or the default location in the temp dir when empty.
func Path(path string) string {
	if path == "" {
		return filepath.Join(os.TempDir(), pidFile)
	}
	return path
}

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning if the file names a live process. Files naming a dead
// process or holding garbage are overwritten.
func Write(path string) error {
	errFactory := errors.New()
	path = Path(path)

	if running, err := owner(path); err != nil {
		return err
	} else if running != 0 && running != os.Getpid() {
		return errFactory.WithData(errors.ErrAlreadyRunning, running)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// owner returns the live process named by the file at path, or 0.
func owner(path string) (int, error) {
	bytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil || pid <= 0 {
		return 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, nil
	}

	return pid, nil
}

// Remove removes the PID file at path if this process owns it.
func Remove(path string) error {
	errFactory := errors.New()
	path = Path(path)

	bytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if strings.TrimSpace(string(bytes)) != strconv.Itoa(os.Getpid()) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
