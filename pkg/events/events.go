// Package events publishes reconciliation outcomes to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentInitiated     = "payment.initiated"
	PaymentPaid          = "payment.paid"
	PaymentFailed        = "payment.failed"
	PaymentExpired       = "payment.expired"
	RefundCompleted      = "refund.completed"
	RefundFailed         = "refund.failed"
	DisbursementComplete = "disbursement.completed"
	DisbursementFailed   = "disbursement.failed"
)

type Event struct {
	Type             string          `json:"type"`
	Reference        string          `json:"reference"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	OrderID          string          `json:"order_id,omitempty"`
	UserID           string          `json:"user_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	OccurredAt       time.Time       `json:"occurred_at"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
}

// Key identifies one transition. Consumers deduplicate on it.
func (e Event) Key() string {
	return e.Type + ":" + e.Reference
}

func Decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
