package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nathanyu/bank-transfer/internal/domain"
)

// accountEntry is the live state of one account. The version counts
// committed writes and is what snapshot validation compares against. The
// per-entry mutex serializes commits touching this account without blocking
// commits on disjoint accounts.
type accountEntry struct {
	mu      sync.Mutex
	balance int64
	version uint64
}

// MemoryStore is the in-memory account backend. Atomic units take a
// versioned snapshot of their keys at Begin, stage deltas locally, and
// validate the snapshot at Commit; a concurrent commit that bumped a
// scoped key's version first forces domain.ErrTxConflict. Durability comes
// from the write-ahead journal, replayed on startup.
type MemoryStore struct {
	mu       sync.RWMutex // guards the accounts map itself
	accounts map[string]*accountEntry
	journal  *Journal // nil disables durability (tests)
}

// NewMemoryStore builds a memory store, replaying the journal if one is
// given.
func NewMemoryStore(journal *Journal) (*MemoryStore, error) {
	s := &MemoryStore{
		accounts: make(map[string]*accountEntry),
		journal:  journal,
	}

	if journal != nil {
		err := journal.Replay(func(deltas map[string]int64) {
			for userID, delta := range deltas {
				entry, ok := s.accounts[userID]
				if !ok {
					entry = &accountEntry{}
					s.accounts[userID] = entry
				}
				entry.balance += delta
				entry.version++
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to replay journal: %w", err)
		}
	}

	return s, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	s.mu.RLock()
	entry, ok := s.accounts[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	entry.mu.Lock()
	balance := entry.balance
	entry.mu.Unlock()

	return domain.Account{UserID: userID, Balance: balance}, nil
}

func (s *MemoryStore) Create(ctx context.Context, userID string, seed int64) (domain.Account, error) {
	if seed < 0 {
		return domain.Account{}, fmt.Errorf("seed balance must not be negative: %d", seed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[userID]; ok {
		return domain.Account{}, domain.ErrAccountExists
	}

	if s.journal != nil {
		if err := s.journal.Append(map[string]int64{userID: seed}); err != nil {
			return domain.Account{}, fmt.Errorf("failed to journal account creation: %w", err)
		}
	}

	s.accounts[userID] = &accountEntry{balance: seed, version: 1}
	return domain.Account{UserID: userID, Balance: seed}, nil
}

// Begin snapshots the named keys and returns an atomic unit scoped to them.
// Keys are kept in lexicographic order so commit-time locking is
// deterministic across concurrent units.
func (s *MemoryStore) Begin(ctx context.Context, userIDs ...string) (Tx, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("atomic unit needs at least one key")
	}

	keys := slices.Clone(userIDs)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	snapshot := make(map[string]txSnapshot, len(keys))

	s.mu.RLock()
	for _, userID := range keys {
		entry, ok := s.accounts[userID]
		if !ok {
			snapshot[userID] = txSnapshot{}
			continue
		}
		entry.mu.Lock()
		snapshot[userID] = txSnapshot{
			exists:  true,
			balance: entry.balance,
			version: entry.version,
		}
		entry.mu.Unlock()
	}
	s.mu.RUnlock()

	return &memoryTx{
		store:    s,
		keys:     keys,
		snapshot: snapshot,
		pending:  make(map[string]int64),
	}, nil
}

type txSnapshot struct {
	exists  bool
	balance int64
	version uint64
}

// memoryTx is one atomic unit against the memory store.
type memoryTx struct {
	store    *MemoryStore
	keys     []string // sorted, deduplicated
	snapshot map[string]txSnapshot
	pending  map[string]int64
	done     bool
}

func (tx *memoryTx) scoped(userID string) (txSnapshot, error) {
	snap, ok := tx.snapshot[userID]
	if !ok {
		return txSnapshot{}, fmt.Errorf("account %q is outside this atomic unit's scope", userID)
	}
	return snap, nil
}

func (tx *memoryTx) Get(ctx context.Context, userID string) (domain.Account, error) {
	if tx.done {
		return domain.Account{}, domain.ErrTxDone
	}

	snap, err := tx.scoped(userID)
	if err != nil {
		return domain.Account{}, err
	}
	if !snap.exists {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	return domain.Account{UserID: userID, Balance: snap.balance + tx.pending[userID]}, nil
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, userID string, delta int64) error {
	if tx.done {
		return domain.ErrTxDone
	}

	snap, err := tx.scoped(userID)
	if err != nil {
		return err
	}
	if !snap.exists {
		return domain.ErrAccountNotFound
	}

	if snap.balance+tx.pending[userID]+delta < 0 {
		return domain.ErrInsufficientFunds
	}

	tx.pending[userID] = tx.pending[userID] + delta
	return nil
}

// Commit validates the snapshot against the live entries and applies the
// staged deltas. Entry locks are taken in key order, so two units over the
// same pair of accounts can never deadlock, and units over disjoint
// accounts do not contend at all.
func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return domain.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	type lockedEntry struct {
		userID string
		entry  *accountEntry
	}
	locked := make([]lockedEntry, 0, len(tx.keys))

	tx.store.mu.RLock()
	for _, userID := range tx.keys {
		entry, ok := tx.store.accounts[userID]
		if !ok {
			if tx.snapshot[userID].exists {
				// Account vanished since Begin.
				tx.store.mu.RUnlock()
				return domain.ErrTxConflict
			}
			continue
		}
		locked = append(locked, lockedEntry{userID: userID, entry: entry})
	}
	tx.store.mu.RUnlock()

	for _, le := range locked {
		le.entry.mu.Lock()
	}
	defer func() {
		for _, le := range locked {
			le.entry.mu.Unlock()
		}
	}()

	// Snapshot validation: any scoped key written by a concurrent unit
	// since Begin invalidates this one.
	for _, le := range locked {
		snap := tx.snapshot[le.userID]
		if !snap.exists || le.entry.version != snap.version {
			return domain.ErrTxConflict
		}
	}
	for _, le := range locked {
		if le.entry.balance+tx.pending[le.userID] < 0 {
			return domain.ErrInsufficientFunds
		}
	}

	if len(tx.pending) > 0 {
		if tx.store.journal != nil {
			if err := tx.store.journal.Append(tx.pending); err != nil {
				return fmt.Errorf("failed to journal commit: %w", err)
			}
		}
		for _, le := range locked {
			delta, ok := tx.pending[le.userID]
			if !ok {
				continue
			}
			le.entry.balance += delta
			le.entry.version++
		}
	}

	tx.done = true
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	tx.done = true
	return nil
}
