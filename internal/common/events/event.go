package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"affiliatehub/internal/common/middleware"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	EventCommissionCredited      = "commission.credited"
	EventBalanceChanged          = "balance.changed"
	EventWithdrawalStatusChanged = "withdrawal.status_changed"
	EventSaleUnattributed        = "sale.unattributed"
)

// CommissionCreditedData is the data for commission.credited events
type CommissionCreditedData struct {
	CommissionID          string `json:"commission_id"`
	AffiliateID           string `json:"affiliate_id"`
	UserID                string `json:"user_id"`
	Provider              string `json:"provider"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	AmountMinor           int64  `json:"amount_minor"`
	Currency              string `json:"currency"`
	Rate                  string `json:"rate"`
}

// BalanceChangedData is the data for balance.changed events
type BalanceChangedData struct {
	UserID         string `json:"user_id"`
	EntryType      string `json:"entry_type"`
	SourceType     string `json:"source_type"`
	Reference      string `json:"reference"`
	AmountMinor    int64  `json:"amount_minor"`
	AvailableMinor int64  `json:"available_minor"`
	Currency       string `json:"currency"`
	Version        int64  `json:"version"`
}

// WithdrawalStatusChangedData is the data for withdrawal.status_changed events
type WithdrawalStatusChangedData struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	FromStatus   string `json:"from_status,omitempty"`
	ToStatus     string `json:"to_status"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
}

// SaleUnattributedData is the data for sale.unattributed events
type SaleUnattributedData struct {
	Provider              string `json:"provider"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	EventKind             string `json:"event_kind"`
	AmountMinor           int64  `json:"amount_minor"`
	Currency              string `json:"currency"`
}

// Notifier publishes events without blocking or failing the caller.
// Delivery failures are logged and dropped.
type Notifier struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewNotifier creates a fire-and-forget notifier over publisher.
func NewNotifier(publisher Publisher, timeout time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, timeout: timeout, logger: logger}
}

// Notify builds an event and publishes it in the background.
func (n *Notifier) Notify(ctx context.Context, eventType, aggregateType, aggregateID string, data any) {
	if n == nil || n.publisher == nil {
		return
	}

	event, err := NewEvent(eventType, aggregateType, aggregateID, data)
	if err != nil {
		n.logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}
	event.CorrelationID = middleware.GetCorrelationID(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.publisher.Publish(pubCtx, event); err != nil {
			n.logger.Warn("notification dropped",
				"type", event.Type,
				"event_id", event.ID,
				"aggregate_id", event.AggregateID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, event *Event) error {
	p.Logger.Info("event",
		"type", event.Type,
		"event_id", event.ID,
		"aggregate_type", event.AggregateType,
		"aggregate_id", event.AggregateID,
		"data", string(event.Data),
	)
	return nil
}
