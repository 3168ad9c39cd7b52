package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbortReasonForError(t *testing.T) {
	tests := []struct {
		err    error
		reason AbortReason
		ok     bool
	}{
		{ErrInvalidAmount, ReasonInvalidAmount, true},
		{ErrSelfTransfer, ReasonSelfTransfer, true},
		{ErrAccountNotFound, ReasonUnknownAccount, true},
		{ErrInsufficientFunds, ReasonInsufficientFunds, true},
		{ErrTxConflict, ReasonConflict, true},
		{errors.New("disk on fire"), "", false},
	}

	for _, tt := range tests {
		reason, ok := AbortReasonForError(tt.err)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.reason, reason)
	}
}

func TestAbortReasonForError_Wrapped(t *testing.T) {
	wrapped := errors.Join(errors.New("commit failed"), ErrTxConflict)
	reason, ok := AbortReasonForError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ReasonConflict, reason)
}

func TestAborted(t *testing.T) {
	result := Aborted(ReasonInsufficientFunds)
	assert.False(t, result.Committed)
	assert.Equal(t, ReasonInsufficientFunds, result.Reason)
}
