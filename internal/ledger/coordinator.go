package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/nathanyu/bank-transfer/internal/domain"
	"github.com/nathanyu/bank-transfer/internal/repository"
	"github.com/nathanyu/bank-transfer/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxRetries    = 3
	defaultCommitTimeout = 5 * time.Second
	backoffBase          = 2 * time.Millisecond
)

// Config tunes the coordinator's retry behavior.
type Config struct {
	// MaxRetries is how many times a conflicted attempt is re-run before
	// the transfer aborts with CONFLICT.
	MaxRetries int
	// CommitTimeout bounds one attempt, Begin through Commit.
	CommitTimeout time.Duration
}

// Notifier is told about committed transfers. Notifications are
// fire-and-forget; the commit outcome never depends on them.
type Notifier interface {
	TransferCommitted(ctx context.Context, transfer domain.TransferRequest)
}

// Coordinator executes one transfer as an atomic, isolated unit against the
// account store.
//
// An attempt walks validating -> reading -> writing -> committing. A commit
// conflict sends it back to validating (bounded by MaxRetries, with jittered
// backoff); every other abort is final. Whatever happens, either both
// balances move or neither does.
type Coordinator struct {
	accounts      repository.AccountStore
	guard         *Guard
	notifier      Notifier // may be nil
	maxRetries    int
	commitTimeout time.Duration
}

// NewCoordinator creates a coordinator over the given store. notifier may be
// nil.
func NewCoordinator(accounts repository.AccountStore, notifier Notifier, cfg Config) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = defaultCommitTimeout
	}

	return &Coordinator{
		accounts:      accounts,
		guard:         NewGuard(accounts),
		notifier:      notifier,
		maxRetries:    cfg.MaxRetries,
		commitTimeout: cfg.CommitTimeout,
	}
}

// Transfer debits req.SourceID and credits req.DestID as one atomic unit.
// The result is strictly committed or aborted-with-reason; an error is
// returned only for infrastructure failures that are neither.
func (c *Coordinator) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "ledger.Transfer",
			trace.WithAttributes(
				attribute.String("source_id", req.SourceID),
				attribute.String("dest_id", req.DestID),
				attribute.Int64("amount", req.Amount),
			),
		)
		defer span.End()
	}

	result, err := c.transfer(ctx, req)
	c.recordOutcome(ctx, req, result, err)
	return result, err
}

func (c *Coordinator) transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	for attempt := 0; ; attempt++ {
		err := c.runAttempt(ctx, req)
		if err == nil {
			return domain.TransferResult{Committed: true}, nil
		}

		if errors.Is(err, domain.ErrTxConflict) {
			if attempt < c.maxRetries {
				telemetry.TransferRetriesTotal.Inc()
				if waitErr := c.backoff(ctx, attempt); waitErr != nil {
					return domain.Aborted(domain.ReasonTimeout), nil
				}
				continue
			}
			return domain.Aborted(domain.ReasonConflict), nil
		}

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// The outcome of an in-flight commit is unknown; never
			// report success.
			return domain.Aborted(domain.ReasonTimeout), nil
		}

		if reason, ok := domain.AbortReasonForError(err); ok {
			return domain.Aborted(reason), nil
		}

		return domain.TransferResult{}, err
	}
}

// runAttempt executes one full attempt, re-validating from scratch so a
// retry observes current state rather than the state that conflicted.
func (c *Coordinator) runAttempt(ctx context.Context, req domain.TransferRequest) error {
	if err := c.guard.Check(ctx, req); err != nil {
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	defer cancel()

	tx, err := c.accounts.Begin(attemptCtx, req.SourceID, req.DestID)
	if err != nil {
		return err
	}
	defer tx.Rollback(attemptCtx)

	source, err := tx.Get(attemptCtx, req.SourceID)
	if err != nil {
		return err
	}
	if source.Balance < req.Amount {
		return domain.ErrInsufficientFunds
	}

	// Existence re-check inside the unit. Accounts are never deleted
	// today, but the unit must not trust state read before it began.
	if _, err := tx.Get(attemptCtx, req.DestID); err != nil {
		return err
	}

	if err := tx.ApplyDelta(attemptCtx, req.SourceID, -req.Amount); err != nil {
		return err
	}
	if err := tx.ApplyDelta(attemptCtx, req.DestID, req.Amount); err != nil {
		return err
	}

	commitStart := time.Now()
	if err := tx.Commit(attemptCtx); err != nil {
		return err
	}
	telemetry.CommitDuration.Observe(time.Since(commitStart).Seconds())

	return nil
}

// backoff waits before a retry: exponential in the attempt number with full
// jitter, abandoned as soon as the caller's context ends.
func (c *Coordinator) backoff(ctx context.Context, attempt int) error {
	d := backoffBase << attempt
	d += rand.N(d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Coordinator) recordOutcome(ctx context.Context, req domain.TransferRequest, result domain.TransferResult, err error) {
	span := trace.SpanFromContext(ctx)

	switch {
	case err != nil:
		if span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		slog.ErrorContext(ctx, "transfer failed",
			"source_id", req.SourceID, "dest_id", req.DestID, "error", err)

	case result.Committed:
		outcome := "committed"
		telemetry.TransfersTotal.WithLabelValues(outcome).Inc()
		telemetry.TransferAmount.WithLabelValues(outcome).Observe(float64(req.Amount))
		if span.IsRecording() {
			span.SetStatus(codes.Ok, "")
		}
		slog.InfoContext(ctx, "transfer committed",
			"source_id", req.SourceID, "dest_id", req.DestID, "amount", req.Amount)
		if c.notifier != nil {
			c.notifier.TransferCommitted(ctx, req)
		}

	default:
		outcome := strings.ToLower(string(result.Reason))
		telemetry.TransfersTotal.WithLabelValues(outcome).Inc()
		telemetry.TransferAmount.WithLabelValues(outcome).Observe(float64(req.Amount))
		if span.IsRecording() {
			span.SetAttributes(attribute.String("abort_reason", string(result.Reason)))
		}
		slog.InfoContext(ctx, "transfer aborted",
			"source_id", req.SourceID, "dest_id", req.DestID,
			"amount", req.Amount, "reason", result.Reason)
	}
}
