package monnify

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agm-payments/pkg/models"
	"agm-payments/pkg/reconcile"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "monnify-signature"

const (
	EventSuccessfulTransaction  = "SUCCESSFUL_TRANSACTION"
	EventFailedTransaction      = "FAILED_TRANSACTION"
	EventExpiredTransaction     = "EXPIRED_TRANSACTION"
	EventSuccessfulRefund       = "SUCCESSFUL_REFUND"
	EventFailedRefund           = "FAILED_REFUND"
	EventSuccessfulDisbursement = "SUCCESSFUL_DISBURSEMENT"
	EventFailedDisbursement     = "FAILED_DISBURSEMENT"
	EventReversedDisbursement   = "REVERSED_DISBURSEMENT"
)

var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body in constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Webhook is a notification as Monnify posts it.
type Webhook struct {
	EventType string    `json:"eventType"`
	EventData EventData `json:"eventData"`
	raw       []byte
}

// EventData is the union of the fields used across transaction, refund and
// disbursement notifications.
type EventData struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	PaymentStatus        string          `json:"paymentStatus"`
	PaymentMethod        string          `json:"paymentMethod"`
	Currency             string          `json:"currency"`

	RefundReference string          `json:"refundReference"`
	RefundAmount    decimal.Decimal `json:"refundAmount"`
	RefundStatus    string          `json:"refundStatus"`
	RefundReason    string          `json:"refundReason"`

	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	ResponseMessage string          `json:"responseMessage"`
}

func ParseWebhook(body []byte) (*Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if w.EventType == "" {
		return nil, errors.New("invalid webhook payload: missing eventType")
	}
	w.raw = body
	return &w, nil
}

// Marshal renders the notification body as Monnify posts it.
func (w *Webhook) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// Event translates the notification into a reconcile.GatewayEvent.
func (w *Webhook) Event() (reconcile.GatewayEvent, error) {
	d := w.EventData
	currency := d.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	ev := reconcile.GatewayEvent{Currency: strings.ToUpper(currency), Payload: w.raw}

	switch w.EventType {
	case EventSuccessfulTransaction, EventFailedTransaction, EventExpiredTransaction:
		ev.Kind = reconcile.KindPayment
		ev.Reference = d.PaymentReference
		ev.GatewayReference = d.TransactionReference
		ev.PaymentMethod = d.PaymentMethod
		switch w.EventType {
		case EventSuccessfulTransaction:
			ev.Status = reconcile.GatewaySuccess
			ev.Amount = d.AmountPaid
		case EventFailedTransaction:
			ev.Status = reconcile.GatewayFailed
		default:
			ev.Status = reconcile.GatewayExpired
		}
		if ev.Status != reconcile.GatewaySuccess {
			ev.Amount = d.TotalPayable
			if ev.Amount.IsZero() {
				ev.Amount = d.AmountPaid
			}
		}

	case EventSuccessfulRefund, EventFailedRefund:
		ev.Kind = reconcile.KindRefund
		ev.Reference = d.RefundReference
		ev.Amount = d.RefundAmount
		ev.Status = reconcile.GatewaySuccess
		if w.EventType == EventFailedRefund {
			ev.Status = reconcile.GatewayFailed
			ev.Reason = firstNonEmpty(d.ResponseMessage, d.RefundStatus)
		}

	case EventSuccessfulDisbursement, EventFailedDisbursement, EventReversedDisbursement:
		ev.Kind = reconcile.KindDisbursement
		ev.Reference = d.Reference
		ev.GatewayReference = d.TransactionReference
		ev.Amount = d.Amount
		switch w.EventType {
		case EventSuccessfulDisbursement:
			ev.Status = reconcile.GatewaySuccess
		case EventFailedDisbursement:
			ev.Status = reconcile.GatewayFailed
			ev.Reason = d.ResponseMessage
		default:
			ev.Status = reconcile.GatewayReversed
			ev.Reason = firstNonEmpty(d.ResponseMessage, "reversed by bank")
		}

	default:
		return ev, fmt.Errorf("%w: %s", ErrUnsupportedEvent, w.EventType)
	}

	if ev.Reference == "" && ev.GatewayReference == "" {
		return ev, fmt.Errorf("invalid webhook payload: %s carries no reference", w.EventType)
	}
	return ev, nil
}
