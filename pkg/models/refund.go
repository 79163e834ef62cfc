package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the lifecycle shared by refunds and disbursements.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

// Lifecycle holds the initiated/completed/failed timestamp triad. Once terminal,
// exactly one of CompletedAt and FailedAt is set.
type Lifecycle struct {
	InitiatedAt   time.Time  `json:"initiated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

func (l *Lifecycle) Complete(now time.Time) {
	l.CompletedAt = &now
	l.FailedAt = nil
	l.FailureReason = ""
}

func (l *Lifecycle) Fail(now time.Time, reason string) {
	l.FailedAt = &now
	l.CompletedAt = nil
	l.FailureReason = reason
}

type Refund struct {
	ID               string          `json:"id"`
	PaymentID        string          `json:"payment_id"`
	OrderID          string          `json:"order_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           TransferStatus  `json:"status"`
	RefundReference  string          `json:"refund_reference"`
	MonnifyReference *string         `json:"monnify_reference,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	RefundType       RefundType      `json:"refund_type"`
	Lifecycle
	Timestamps
}
