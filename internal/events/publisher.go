// Package events publishes committed-transfer notifications over NATS for
// downstream subscribers. Publishing is fire-and-forget: a failed publish is
// logged and dropped, and transfer outcomes never depend on it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nathanyu/bank-transfer/internal/domain"
	"github.com/nathanyu/bank-transfer/internal/telemetry"
)

// TransferSubject is where committed transfers are announced.
const TransferSubject = "ledger.transfers"

// TransferCommittedEvent is the wire form of a committed transfer
// notification.
type TransferCommittedEvent struct {
	SourceID    string    `json:"source_id"`
	DestID      string    `json:"dest_id"`
	Amount      int64     `json:"amount"`
	CommittedAt time.Time `json:"committed_at"`
}

// Publisher wraps a NATS connection for event publishing.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS at the given URL.
func NewPublisher(url string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("bank-transfer"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	return &Publisher{conn: conn}, nil
}

// TransferCommitted publishes a committed transfer on TransferSubject.
func (p *Publisher) TransferCommitted(ctx context.Context, transfer domain.TransferRequest) {
	event := TransferCommittedEvent{
		SourceID:    transfer.SourceID,
		DestID:      transfer.DestID,
		Amount:      transfer.Amount,
		CommittedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to serialize transfer event", "error", err)
		return
	}

	if err := p.conn.Publish(TransferSubject, data); err != nil {
		slog.WarnContext(ctx, "failed to publish transfer event", "error", err)
		return
	}

	telemetry.EventsPublishedTotal.WithLabelValues(TransferSubject).Inc()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}
