package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/nathanyu/bank-transfer/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var pgTracer = otel.Tracer("postgres")

// RunMigrations applies the file migrations against the database.
func RunMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresStore is the Postgres account backend. An atomic unit is a SQL
// transaction that locks its scoped rows with SELECT ... FOR UPDATE in
// lexicographic key order, which rules out deadlocks between units over the
// same pair of accounts. Serialization failures and deadlocks from the
// database map to domain.ErrTxConflict so the coordinator retries them.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to read account %s: %w", userID, err)
	}
	return domain.Account{UserID: userID, Balance: balance}, nil
}

func (s *PostgresStore) Create(ctx context.Context, userID string, seed int64) (domain.Account, error) {
	if seed < 0 {
		return domain.Account{}, fmt.Errorf("seed balance must not be negative: %d", seed)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)`, userID, seed)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, domain.ErrAccountExists
		}
		return domain.Account{}, fmt.Errorf("failed to create account %s: %w", userID, err)
	}
	return domain.Account{UserID: userID, Balance: seed}, nil
}

// Begin opens a SQL transaction and locks the scoped rows in lexicographic
// order.
func (s *PostgresStore) Begin(ctx context.Context, userIDs ...string) (Tx, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("atomic unit needs at least one key")
	}

	keys := slices.Clone(userIDs)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	ctx, span := pgTracer.Start(ctx, "postgres.begin_unit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.Int("unit.keys", len(keys)),
		))
	defer span.End()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	balances := make(map[string]txSnapshot, len(keys))
	for _, userID := range keys {
		var balance int64
		err := sqlTx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`, userID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				balances[userID] = txSnapshot{}
				continue
			}
			span.RecordError(err)
			_ = sqlTx.Rollback()
			if isSerializationFailure(err) {
				return nil, domain.ErrTxConflict
			}
			return nil, fmt.Errorf("failed to lock account %s: %w", userID, err)
		}
		balances[userID] = txSnapshot{exists: true, balance: balance}
	}

	return &postgresTx{tx: sqlTx, snapshot: balances, pending: make(map[string]int64)}, nil
}

// postgresTx is one atomic unit against Postgres. The scoped rows are
// already locked, so staged updates cannot race another unit; conditional
// UPDATEs still enforce the non-negative balance invariant in the database.
type postgresTx struct {
	tx       *sql.Tx
	snapshot map[string]txSnapshot
	pending  map[string]int64
	done     bool
}

func (tx *postgresTx) scoped(userID string) (txSnapshot, error) {
	snap, ok := tx.snapshot[userID]
	if !ok {
		return txSnapshot{}, fmt.Errorf("account %q is outside this atomic unit's scope", userID)
	}
	return snap, nil
}

func (tx *postgresTx) Get(ctx context.Context, userID string) (domain.Account, error) {
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

func (tx *postgresTx) ApplyDelta(ctx context.Context, userID string, delta int64) error {
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

	res, err := tx.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE user_id = $2 AND balance + $1 >= 0`,
		delta, userID)
	if err != nil {
		if isSerializationFailure(err) {
			return domain.ErrTxConflict
		}
		return fmt.Errorf("failed to apply delta to account %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Row is locked by this unit, so the only way the guard fails
		// is a negative resulting balance.
		return domain.ErrInsufficientFunds
	}

	tx.pending[userID] = tx.pending[userID] + delta
	return nil
}

func (tx *postgresTx) Commit(ctx context.Context) error {
	if tx.done {
		return domain.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		_ = tx.tx.Rollback()
		tx.done = true
		return err
	}

	if err := tx.tx.Commit(); err != nil {
		tx.done = true
		if isSerializationFailure(err) {
			return domain.ErrTxConflict
		}
		return fmt.Errorf("failed to commit atomic unit: %w", err)
	}
	tx.done = true
	return nil
}

func (tx *postgresTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back atomic unit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure or deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
