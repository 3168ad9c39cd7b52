package domain

import "errors"

// TransferRequest is a single two-party transfer attempt. It is built per
// call and never persisted.
type TransferRequest struct {
	SourceID string `json:"source_id"`
	DestID   string `json:"dest_id"`
	Amount   int64  `json:"amount"` // Amount in cents to avoid floating point issues
}

// AbortReason is the wire-level reason code for an aborted transfer.
type AbortReason string

const (
	ReasonInvalidAmount     AbortReason = "INVALID_AMOUNT"
	ReasonSelfTransfer      AbortReason = "SELF_TRANSFER"
	ReasonUnknownAccount    AbortReason = "UNKNOWN_ACCOUNT"
	ReasonInsufficientFunds AbortReason = "INSUFFICIENT_FUNDS"
	ReasonConflict          AbortReason = "CONFLICT"
	ReasonTimeout           AbortReason = "TIMEOUT"
)

// TransferResult is the outcome of a transfer: either committed, or aborted
// with a reason. No partial state is ever observable.
type TransferResult struct {
	Committed bool        `json:"committed"`
	Reason    AbortReason `json:"reason,omitempty"`
}

// Aborted builds an aborted result with the given reason.
func Aborted(reason AbortReason) TransferResult {
	return TransferResult{Reason: reason}
}

// AbortReasonForError maps a domain error to its wire reason code. The second
// return is false for errors that are not definitive transfer outcomes (those
// propagate to the gateway as internal failures).
func AbortReasonForError(err error) (AbortReason, bool) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return ReasonInvalidAmount, true
	case errors.Is(err, ErrSelfTransfer):
		return ReasonSelfTransfer, true
	case errors.Is(err, ErrAccountNotFound):
		return ReasonUnknownAccount, true
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds, true
	case errors.Is(err, ErrTxConflict):
		return ReasonConflict, true
	default:
		return "", false
	}
}
