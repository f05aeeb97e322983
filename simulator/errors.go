package simulator

import (
	"errors"
	"fmt"
)

// SimError is a custom error type for simulation errors
type SimError struct {
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("simulation error: %s", e.Message)
}

// ErrAdmissionDeferred reports that no contiguous run of free frames fits a process.
// It is recoverable: the process stays Waiting and admission is retried next tick.
var ErrAdmissionDeferred = errors.New("admission deferred: no contiguous free frames")

// ErrCancelled is returned by operations on a simulation that was cancelled
var ErrCancelled = SimError{Message: "simulation cancelled"}

// ConfigError rejects a simulation parameter before any process is created
type ConfigError struct {
	Param   string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Param, e.Message)
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(param, msg string) error {
	return ConfigError{Param: param, Message: msg}
}

// InvariantError reports a broken component contract. It aborts the run.
type InvariantError struct {
	ProcessID   ProcessID
	VirtualPage int // -1 when not applicable
	Message     string
}

func (e InvariantError) Error() string {
	if e.VirtualPage >= 0 {
		return fmt.Sprintf("invariant violation: process %d, virtual page %d: %s", e.ProcessID, e.VirtualPage, e.Message)
	}
	return fmt.Sprintf("invariant violation: process %d: %s", e.ProcessID, e.Message)
}

func invariantf(pid ProcessID, vp int, format string, args ...interface{}) error {
	return InvariantError{ProcessID: pid, VirtualPage: vp, Message: fmt.Sprintf(format, args...)}
}

// IsInvariantViolation reports whether err (or anything it wraps) is an InvariantError
func IsInvariantViolation(err error) bool {
	var ie InvariantError
	return errors.As(err, &ie)
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// IsCancelled reports whether err (or anything it wraps) is ErrCancelled
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
