package exitcodes

import (
	"errors"
	"os"
	"testing"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, Success},
		{"path error", &os.PathError{Op: "open", Path: "/foo", Err: errors.New("no such file")}, IOError},
		{"yaml parse error", errors.New("yaml: unmarshal error"), ConfigError},
		{"missing required key", errors.New("traffic.api_key is required"), ConfigError},
		{"no such file", errors.New("open config.yaml: no such file or directory"), IOError},
		{"parquet write error", errors.New("parquet write failed"), IOError},
		{"connection refused", errors.New("dial tcp: connection refused"), ConnectionError},
		{"load error", errors.New("bulk insert failed"), LoadError},
		{"merge error", errors.New("merge into final table failed"), LoadError},
		{"row count mismatch", errors.New("row count mismatch: expected 100, got 99"), ValidationError},
		{"context canceled", errors.New("context canceled"), Cancelled},
		{"watermark error", errors.New("reading watermark: table locked"), StateError},
		{"unknown error", errors.New("something unexpected happened"), LoadError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got != tt.expected {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.expected, Description(tt.expected))
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner error")
	exitErr := NewExitError(inner, ConnectionError)

	if exitErr.Code != ConnectionError {
		t.Errorf("expected code %d, got %d", ConnectionError, exitErr.Code)
	}
	if exitErr.Error() != "inner error" {
		t.Errorf("expected error message 'inner error', got '%s'", exitErr.Error())
	}
	if errors.Unwrap(exitErr) != inner {
		t.Error("Unwrap should return inner error")
	}
	if FromError(exitErr) != ConnectionError {
		t.Error("FromError should extract the code from ExitError")
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ConnectionError, Cancelled, IOError}
	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("IsRecoverable(%d) = false, want true", code)
		}
	}
	nonRecoverable := []int{Success, ConfigError, LoadError, ValidationError, StateError}
	for _, code := range nonRecoverable {
		if IsRecoverable(code) {
			t.Errorf("IsRecoverable(%d) = true, want false", code)
		}
	}
}
