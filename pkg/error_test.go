package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrInvalidLBA,
		ErrInvalidOffset,
		ErrZeroLength,
		ErrOutOfRange,
		ErrInvalidRequest,
		ErrInvalidParameter,
		ErrBufferTooSmall,
		ErrEraseFailed,
		ErrProgramFailed,
		ErrReadFailed,
		ErrShortProgram,
		ErrNotErased,
		ErrUnaligned,
		ErrNotConfigured,
		ErrProtocol,
		ErrCancelled,
		ErrTimeout,
		ErrAlreadyRunning,
		ErrCommandFailed,
		ErrPhaseError,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrInvalidLBA, "invalid logical block address"},
		{ErrInvalidOffset, "offset beyond block"},
		{ErrEraseFailed, "partition erase failed"},
		{ErrShortProgram, "short program"},
		{ErrCancelled, "transfer cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestWrappedErrors(t *testing.T) {
	err := fmt.Errorf("erase storage: %w", ErrEraseFailed)
	if !errors.Is(err, ErrEraseFailed) {
		t.Errorf("wrapped error %v does not match ErrEraseFailed", err)
	}
	if errors.Is(err, ErrProgramFailed) {
		t.Errorf("wrapped error %v matches ErrProgramFailed", err)
	}
}
