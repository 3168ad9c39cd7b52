package ledger

import (
	"context"

	"github.com/nathanyu/bank-transfer/internal/domain"
	"github.com/nathanyu/bank-transfer/internal/repository"
)

// Guard fails invalid transfer requests fast, before any atomic unit is
// opened. It never mutates storage.
type Guard struct {
	accounts repository.AccountStore
}

func NewGuard(accounts repository.AccountStore) *Guard {
	return &Guard{accounts: accounts}
}

// Check rejects a request when the amount is not strictly positive, when
// source and destination are the same identity, or when either identity does
// not resolve to an existing account. Storage failures propagate unchanged.
func (g *Guard) Check(ctx context.Context, req domain.TransferRequest) error {
	if req.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if req.SourceID == req.DestID {
		return domain.ErrSelfTransfer
	}

	if _, err := g.accounts.Get(ctx, req.SourceID); err != nil {
		return err
	}
	if _, err := g.accounts.Get(ctx, req.DestID); err != nil {
		return err
	}

	return nil
}
