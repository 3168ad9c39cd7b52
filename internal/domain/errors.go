package domain

import "errors"

var (
	// ErrInvalidAmount rejects transfers whose amount is not strictly positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSelfTransfer rejects transfers where source and destination are the same account.
	ErrSelfTransfer = errors.New("cannot transfer to same account")

	// ErrAccountNotFound is returned when an identity does not resolve to an account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account that already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientFunds is returned when a debit would drive a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTxConflict is returned when an atomic unit loses a commit race on an
	// overlapping key. The coordinator treats it as retryable.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrTxDone is returned when operating on an atomic unit that has already
	// committed or rolled back.
	ErrTxDone = errors.New("transaction already finished")

	// ErrUserNotFound is returned when a user identity does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned when signing up with an existing username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned on a failed signin.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
