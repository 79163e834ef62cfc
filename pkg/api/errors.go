package api

import (
	"errors"
	"net/http"

	"agm-payments/pkg/reconcile"
)

var errBadRequest = errors.New("invalid request body")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, reconcile.ErrInvalidAmount),
		errors.Is(err, reconcile.ErrInvalidBankAccount):
		return http.StatusBadRequest

	case errors.Is(err, reconcile.ErrBankAccountNotOwned):
		return http.StatusForbidden

	case errors.Is(err, reconcile.ErrUnknownPayment),
		errors.Is(err, reconcile.ErrUnknownRefund),
		errors.Is(err, reconcile.ErrUnknownDisbursement),
		errors.Is(err, reconcile.ErrOrderNotFound),
		errors.Is(err, reconcile.ErrBankAccountNotFound):
		return http.StatusNotFound

	case errors.Is(err, reconcile.ErrOrderNotPayable),
		errors.Is(err, reconcile.ErrOrderAlreadyPaid),
		errors.Is(err, reconcile.ErrPaymentNotReinitializable),
		errors.Is(err, reconcile.ErrPaymentNotPaid),
		errors.Is(err, reconcile.ErrBankAccountExists),
		errors.Is(err, reconcile.ErrAmountMismatch):
		return http.StatusConflict

	case errors.Is(err, reconcile.ErrRefundExceedsPayment),
		errors.Is(err, reconcile.ErrInsufficientBalance),
		errors.Is(err, reconcile.ErrBankAccountNotVerified):
		return http.StatusUnprocessableEntity

	case errors.Is(err, reconcile.ErrGatewayRejected):
		return http.StatusBadGateway

	case errors.Is(err, reconcile.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
