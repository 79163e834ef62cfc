package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentExpired  PaymentStatus = "expired"
	PaymentRefunded PaymentStatus = "refunded"
)

// IsTerminal reports whether no further automatic transition leaves s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentPaid, PaymentFailed, PaymentExpired, PaymentRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"order_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Status               PaymentStatus   `json:"status"`
	PaymentMethod        string          `json:"payment_method,omitempty"`
	PaymentReference     string          `json:"payment_reference"`
	MonnifyReference     *string         `json:"monnify_reference,omitempty"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	CheckoutURL          string          `json:"checkout_url,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty"`
	Timestamps
}

func (p *Payment) IsPaid() bool {
	return p.Status == PaymentPaid
}

// IsOverdue reports whether a pending payment has passed its expiry.
func (p *Payment) IsOverdue(now time.Time) bool {
	return p.Status == PaymentPending && p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}
