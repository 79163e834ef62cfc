package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	KindPayment      EventKind = "payment"
	KindRefund       EventKind = "refund"
	KindDisbursement EventKind = "disbursement"
)

type GatewayStatus string

const (
	GatewaySuccess  GatewayStatus = "success"
	GatewayFailed   GatewayStatus = "failed"
	GatewayExpired  GatewayStatus = "expired"
	GatewayPending  GatewayStatus = "pending"
	GatewayReversed GatewayStatus = "reversed"
)

// GatewayEvent is a verified gateway notification or verification result.
// Reference is our local reference; GatewayReference is the gateway's own.
type GatewayEvent struct {
	Kind             EventKind
	Reference        string
	GatewayReference string
	Status           GatewayStatus
	Amount           decimal.Decimal
	Currency         string
	PaymentMethod    string
	Reason           string
	Payload          []byte
}

func (ev GatewayEvent) matches(amount decimal.Decimal, currency string) bool {
	return ev.Amount.Round(2).Equal(amount.Round(2)) && strings.EqualFold(ev.Currency, currency)
}

type Customer struct {
	Name  string
	Email string
}

type TransactionRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    Customer
}

type Checkout struct {
	CheckoutURL          string
	TransactionReference string
	ExpiresAt            *time.Time
}

type RefundRequest struct {
	Reference            string
	TransactionReference string
	Amount               decimal.Decimal
	Currency             string
	Reason               string
}

type DisbursementRequest struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	AccountNumber string
	BankCode      string
	Narration     string
}

// Gateway is the outbound half of the payment gateway adapter.
type Gateway interface {
	InitiateTransaction(ctx context.Context, req TransactionRequest) (*Checkout, error)
	VerifyTransaction(ctx context.Context, reference string) (*GatewayEvent, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (string, error)
	InitiateDisbursement(ctx context.Context, req DisbursementRequest) (string, error)
	ValidateBankAccount(ctx context.Context, accountNumber, bankCode string) (string, error)
}
