// Package store persists orders, payments, refunds, disbursements and their
// supporting rows. All mutations happen inside WithTx; reads made through a Tx
// lock the rows they return until the transaction ends.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"agm-payments/pkg/models"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrInvalidRecord = errors.New("invalid record")
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	InsertStore(ctx context.Context, s *models.Store) error
	InsertOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus, paymentStatus models.PaymentStatus, now time.Time) error

	InsertPayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	GetPaymentByGatewayReference(ctx context.Context, gatewayRef string) (*models.Payment, error)
	// PaymentOrderID resolves the order of a payment by its own reference or a
	// gateway reference without locking, so callers can lock the order first.
	PaymentOrderID(ctx context.Context, reference, gatewayRef string) (string, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error)
	// ListOverduePayments does not lock; callers lock each order, then its payment.
	ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error

	InsertRefund(ctx context.Context, r *models.Refund) error
	GetRefundByReference(ctx context.Context, reference string) (*models.Refund, error)
	GetRefundByGatewayReference(ctx context.Context, gatewayRef string) (*models.Refund, error)
	ListRefundsByPayment(ctx context.Context, paymentID string) ([]*models.Refund, error)
	UpdateRefund(ctx context.Context, r *models.Refund) error

	InsertDisbursement(ctx context.Context, d *models.Disbursement) error
	GetDisbursementByReference(ctx context.Context, reference string) (*models.Disbursement, error)
	GetDisbursementByGatewayReference(ctx context.Context, gatewayRef string) (*models.Disbursement, error)
	UpdateDisbursement(ctx context.Context, d *models.Disbursement) error
	// CommittedDisbursements sums pending and completed payouts of a user.
	CommittedDisbursements(ctx context.Context, userID string) (decimal.Decimal, error)
	// Earnings sums the store-owner share of paid orders across the user's
	// stores, less pending and completed refunds on each order.
	Earnings(ctx context.Context, userID string) (decimal.Decimal, error)

	InsertBankAccount(ctx context.Context, a *models.BankAccount) error
	GetBankAccount(ctx context.Context, id string) (*models.BankAccount, error)
	ListBankAccounts(ctx context.Context, userID string) ([]*models.BankAccount, error)
	UpdateBankAccount(ctx context.Context, a *models.BankAccount) error
	ClearPrimaryBankAccount(ctx context.Context, userID string, now time.Time) error
	DeleteBankAccount(ctx context.Context, id string) error

	InsertReview(ctx context.Context, r *models.Review) error
	InsertOrderEvent(ctx context.Context, e *models.OrderEvent) error
}

// IsTransient reports whether err is worth retrying: deadlocks, lock wait
// timeouts and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213:
			return true
		}
	}
	return false
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
