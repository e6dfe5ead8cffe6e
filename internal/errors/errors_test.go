// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorCodes_areUnique verifies no two codes share a value.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrDatabase, ErrMigration,
		ErrConnectivity, ErrIntegrity, ErrIndexNotReady, ErrQueueTerminal,
		ErrSyncFailed, ErrSyncTimeout, ErrSyncBusy,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("duplicate error code %q", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrNotFound, Message: "record missing"},
			want:     "[NOT_FOUND] record missing",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrConnectivity, Message: "put failed", Err: errors.New("dial tcp: timeout")},
			want:     "[CONNECTIVITY_ERROR] put failed: dial tcp: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies the wrapped error is reachable.
func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(ErrDatabase, "write failed", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	if err.Unwrap() != inner {
		t.Error("Unwrap() should return the wrapped error")
	}
}

// TestIs verifies code matching through wrap chains.
func TestIs(t *testing.T) {
	connErr := Wrap(ErrConnectivity, "backend unreachable", errors.New("no route"))
	nested := Wrap(ErrSyncFailed, "create failed", connErr)
	fmtWrapped := fmt.Errorf("queue apply: %w", nested)

	if !Is(connErr, ErrConnectivity) {
		t.Error("Is should match the outer code")
	}
	if !Is(nested, ErrConnectivity) {
		t.Error("Is should match a nested AppError code")
	}
	if !Is(fmtWrapped, ErrSyncFailed) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(nested, ErrNotFound) {
		t.Error("Is should not match an absent code")
	}
	if Is(errors.New("plain"), ErrInternal) {
		t.Error("Is should be false for non-AppError values")
	}
	if Is(nil, ErrInternal) {
		t.Error("Is should be false for nil")
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("ctx: %w", New(ErrIntegrity, "merge rejected"))
	if got := CodeOf(err); got != ErrIntegrity {
		t.Errorf("CodeOf() = %s, want %s", got, ErrIntegrity)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrInternal)
	}
}

// TestClassifiers verifies the connectivity and not-found helpers.
func TestClassifiers(t *testing.T) {
	if !IsConnectivity(New(ErrConnectivity, "offline")) {
		t.Error("IsConnectivity should be true for CONNECTIVITY_ERROR")
	}
	if IsConnectivity(New(ErrValidation, "bad calories")) {
		t.Error("IsConnectivity should be false for VALIDATION_ERROR")
	}
	if !IsNotFound(Newf(ErrNotFound, "record %s not found", "r1")) {
		t.Error("IsNotFound should be true for NOT_FOUND")
	}
}

// TestNewf verifies message formatting.
func TestNewf(t *testing.T) {
	err := Newf(ErrQueueTerminal, "operation %s dropped after %d retries", "op-1", 4)
	if err.Message != "operation op-1 dropped after 4 retries" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Err != nil {
		t.Error("Newf should not set Err")
	}
}
