// Package repository provides the account and user stores backing the
// transfer engine. Two backends are available: an in-memory store with a
// write-ahead journal for durability, and a Postgres store. Both expose the
// same atomic-unit contract, so the coordinator is backend-agnostic.
package repository

import (
	"context"

	"github.com/nathanyu/bank-transfer/internal/domain"
)

// AccountStore is durable, strongly consistent storage of account balances
// keyed by user identity.
type AccountStore interface {
	// Get is a linearizable point read of one account.
	Get(ctx context.Context, userID string) (domain.Account, error)

	// Create registers a new account with a seed balance. Returns
	// domain.ErrAccountExists if the identity already has one.
	Create(ctx context.Context, userID string, seed int64) (domain.Account, error)

	// Begin opens an atomic unit scoped to exactly the given keys. All
	// reads inside the unit see a consistent snapshot, and the staged
	// writes become visible all at once on Commit or not at all.
	Begin(ctx context.Context, userIDs ...string) (Tx, error)
}

// Tx is one atomic unit. Implementations stage writes until Commit and must
// fail the commit with domain.ErrTxConflict when a concurrent unit touching
// an overlapping key committed first.
type Tx interface {
	// Get reads an account from the unit's snapshot, including any deltas
	// already staged in this unit.
	Get(ctx context.Context, userID string) (domain.Account, error)

	// ApplyDelta stages adding delta (may be negative) to the account's
	// balance. Returns domain.ErrInsufficientFunds if the resulting
	// balance would be negative; nothing is staged in that case.
	ApplyDelta(ctx context.Context, userID string, delta int64) error

	// Commit makes all staged writes durably visible, or none of them.
	Commit(ctx context.Context) error

	// Rollback discards the unit. Safe to call after Commit.
	Rollback(ctx context.Context) error
}

// UserStore holds registered identities.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	UpdateUser(ctx context.Context, id string, update domain.UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
	// SearchUsers returns users whose first or last name contains the
	// filter, case-insensitively. An empty filter matches everyone.
	SearchUsers(ctx context.Context, filter string) ([]domain.User, error)
}
