package reconcile

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateReference means a generated reference collided with a stored one. It is retried internally.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrReferenceExhaustion means every reference attempt collided.
	ErrReferenceExhaustion = errors.New("reference attempts exhausted")
	// ErrUnknownPayment is returned for gateway events that match no local payment.
	ErrUnknownPayment = errors.New("unknown payment")
	// ErrAmountMismatch is matched by *AmountMismatchError.
	ErrAmountMismatch = errors.New("amount mismatch")
	// ErrRefundExceedsPayment means the refund would take refunds past the payment amount.
	ErrRefundExceedsPayment = errors.New("refund exceeds payment")

	ErrUnknownRefund             = errors.New("unknown refund")
	ErrUnknownDisbursement       = errors.New("unknown disbursement")
	ErrPaymentNotReinitializable = errors.New("payment cannot be reinitialized")
	ErrPaymentNotPaid            = errors.New("payment is not paid")
	ErrOrderNotFound             = errors.New("order not found")
	ErrOrderNotPayable           = errors.New("order is not payable")
	ErrOrderAlreadyPaid          = errors.New("order already paid")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrBankAccountNotFound       = errors.New("bank account not found")
	ErrBankAccountExists         = errors.New("bank account already exists")
	ErrInvalidBankAccount        = errors.New("invalid bank account details")
	ErrBankAccountNotVerified    = errors.New("bank account is not verified")
	ErrBankAccountNotOwned       = errors.New("bank account does not belong to user")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrGatewayUnavailable        = errors.New("payment gateway not configured")
	ErrGatewayRejected           = errors.New("payment gateway rejected request")
)

// AmountMismatchError describes a gateway event whose amount or currency differs
// from the local record. The event is parked for manual review.
type AmountMismatchError struct {
	Reference        string
	Expected         decimal.Decimal
	ExpectedCurrency string
	Received         decimal.Decimal
	ReceivedCurrency string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for %s: expected %s %s, received %s %s",
		e.Reference, e.Expected.StringFixed(2), e.ExpectedCurrency, e.Received.StringFixed(2), e.ReceivedCurrency)
}

func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}

// errNotVisible marks a lookup miss that may resolve once a concurrent insert commits.
var errNotVisible = errors.New("record not visible yet")
