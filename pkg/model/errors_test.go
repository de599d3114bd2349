package model

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrConflict, Message: `target "10.0.0.5" already exists`}
	want := `CONFLICT: target "10.0.0.5" already exists`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = NewValidationError("invalid update", FieldError{Field: "filter", Message: "at least one field required"})
	want = "VALIDATION_ERROR: invalid update (filter: at least one field required)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAPIError_Status(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrConflict, http.StatusConflict},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrInternal, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := (&APIError{Code: tt.code}).Status(); got != tt.want {
			t.Errorf("%s: Status() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("HTTP 409: %w", NewConflictError("target", "host-a"))
	if !HasCode(err, ErrConflict) {
		t.Error("wrapped conflict not detected")
	}
	if HasCode(err, ErrForbidden) {
		t.Error("conflict reported as forbidden")
	}
	if HasCode(fmt.Errorf("plain"), ErrConflict) {
		t.Error("plain error reported as API error")
	}
}
