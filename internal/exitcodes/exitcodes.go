// Package exitcodes defines standard exit codes for CLI operations so
// that Airflow, Kubernetes, and cron wrappers can distinguish failure
// classes without parsing log output.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - pipeline completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing or missing required key (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - database connection or pool errors (recoverable)
	ConnectionError = 2

	// LoadError - bulk load, merge, or aggregation failed (non-recoverable)
	LoadError = 3

	// ValidationError - row count validation failed (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - cursor/state store errors (non-recoverable)
	StateError = 6

	// IOError - file I/O or staging errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// It examines error messages and types to classify the error.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
		"staging",
		"parquet",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"row count",
		"mismatch",
		"validation failed",
	}) {
		return ValidationError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"is required",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"unreachable",
		"no such host",
		"network",
		"pool",
		"ping",
		"authentication",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"copy",
		"bulk",
		"insert",
		"merge",
		"create table",
		"truncate",
		"aggregat",
	}) {
		return LoadError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"state",
		"checkpoint",
		"watermark",
		"resume",
		"run not found",
	}) {
		return StateError
	}

	// Default to load error for unknown errors
	return LoadError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case LoadError:
		return "load error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
