package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Review is a gateway event parked for manual resolution.
type Review struct {
	ID               int64           `json:"id"`
	Kind             string          `json:"kind"`
	Reference        string          `json:"reference"`
	GatewayReference string          `json:"gateway_reference"`
	Reason           string          `json:"reason"`
	ExpectedAmount   decimal.Decimal `json:"expected_amount"`
	ExpectedCurrency string          `json:"expected_currency"`
	ReceivedAmount   decimal.Decimal `json:"received_amount"`
	ReceivedCurrency string          `json:"received_currency"`
	Payload          string          `json:"payload,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// OrderEvent is one row of the order timeline written by the order-events consumer.
type OrderEvent struct {
	ID         int64     `json:"id"`
	EventKey   string    `json:"event_key"`
	OrderID    string    `json:"order_id"`
	Type       string    `json:"type"`
	Reference  string    `json:"reference"`
	Payload    string    `json:"payload"`
	RecordedAt time.Time `json:"recorded_at"`
}
