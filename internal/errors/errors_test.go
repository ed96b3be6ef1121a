package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestKeepError_Error(t *testing.T) {
	err := &KeepError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "record not found",
	}

	expected := "NOT_FOUND: record not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("query is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "query is required" {
		t.Errorf("Message = %q, want %q", err.Message, "query is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("1e5b1004-a220-4026-baa1-4d8c3328296b")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "1e5b1004-a220-4026-baa1-4d8c3328296b" {
		t.Errorf("Details[identifier] = %v", err.Details["identifier"])
	}
}

func TestNewMissingAccountBinding(t *testing.T) {
	err := NewMissingAccountBinding("abc")

	if err.Code != ErrMissingAccountBinding {
		t.Errorf("Code = %q, want %q", err.Code, ErrMissingAccountBinding)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if err.Details["entity_id"] != "abc" {
		t.Errorf("Details[entity_id] = %v, want %q", err.Details["entity_id"], "abc")
	}
}

func TestNewStoreWriteFailure(t *testing.T) {
	cause := os.ErrPermission
	err := NewStoreWriteFailure("/data/claude/a@b.c/conversations", cause)

	if err.Code != ErrStoreWriteFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrStoreWriteFailure)
	}
	if err.Details["path"] != "/data/claude/a@b.c/conversations" {
		t.Errorf("Details[path] = %v", err.Details["path"])
	}
	if !stderrors.Is(err, os.ErrPermission) {
		t.Errorf("errors.Is(err, os.ErrPermission) = false, want true")
	}
}

func TestNewLedgerCorruption(t *testing.T) {
	err := NewLedgerCorruption("/x/ledger.jsonl", 3, fmt.Errorf("unexpected end of JSON input"))

	if err.Code != ErrLedgerCorruption {
		t.Errorf("Code = %q, want %q", err.Code, ErrLedgerCorruption)
	}
	if err.Details["line"] != 3 {
		t.Errorf("Details[line] = %v, want 3", err.Details["line"])
	}
	if !strings.Contains(err.Message, "never reset") {
		t.Errorf("Message = %q, want hint about manual resolution", err.Message)
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("disk full"))
		if err.Message != "disk full" {
			t.Errorf("Message = %q, want %q", err.Message, "disk full")
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Message != "internal error" {
			t.Errorf("Message = %q, want %q", err.Message, "internal error")
		}
	})
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewNotFound("x"), ErrNotFound, true},
		{"different code", NewNotFound("x"), ErrInternal, false},
		{"wrapped", fmt.Errorf("archive a.zip: %w", NewStoreWriteFailure("p", nil)), ErrStoreWriteFailure, true},
		{"plain error", fmt.Errorf("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
