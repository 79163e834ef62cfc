package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agm-payments/pkg/models"

	"github.com/shopspring/decimal"
)

type MySQL struct {
	db *sql.DB
}

func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (s *MySQL) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&mysqlTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func wrapExec(err error, what string) error {
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return fmt.Errorf("%s: %w: %v", what, ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func wrapQuery(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// Stores and orders

func (t *mysqlTx) InsertStore(ctx context.Context, s *models.Store) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO stores (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Name, s.CreatedAt, s.UpdatedAt)
	return wrapExec(err, "failed to insert store")
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	query := `INSERT INTO orders (id, store_id, order_number, customer_name, customer_email, customer_phone,
			  subtotal, discount, shipping_fee, agm_fee, total, status, payment_status, created_at, updated_at, deleted_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, o.ID, o.StoreID, o.OrderNumber, o.CustomerName, nullString(o.CustomerEmail), o.CustomerPhone,
		o.Subtotal, o.Discount, o.ShippingFee, o.AgmFee, o.Total, o.Status, o.PaymentStatus, o.CreatedAt, o.UpdatedAt, nullTime(o.DeletedAt))
	return wrapExec(err, "failed to insert order")
}

func (t *mysqlTx) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT id, store_id, order_number, customer_name, customer_email, customer_phone,
			  subtotal, discount, shipping_fee, agm_fee, total, status, payment_status, created_at, updated_at, deleted_at
			  FROM orders WHERE id = ? FOR UPDATE`

	var o models.Order
	var email sql.NullString
	var deletedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.StoreID, &o.OrderNumber, &o.CustomerName, &email, &o.CustomerPhone,
		&o.Subtotal, &o.Discount, &o.ShippingFee, &o.AgmFee, &o.Total, &o.Status, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, wrapQuery(err, "failed to get order")
	}
	o.CustomerEmail = email.String
	o.DeletedAt = timePtr(deletedAt)
	return &o, nil
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus, paymentStatus models.PaymentStatus, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ?, payment_status = ?, updated_at = ? WHERE id = ?`,
		status, paymentStatus, now, id)
	if err != nil {
		return wrapExec(err, "failed to update order status")
	}
	return requireAffected(res)
}

// Payments

const paymentColumns = `id, order_id, amount, currency, status, payment_method, payment_reference, monnify_reference,
	transaction_reference, checkout_url, paid_at, expires_at, created_at, updated_at`

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var method, monnifyRef, txRef, checkoutURL sql.NullString
	var paidAt, expiresAt sql.NullTime
	if err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Status, &method, &p.PaymentReference, &monnifyRef,
		&txRef, &checkoutURL, &paidAt, &expiresAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.PaymentMethod = method.String
	p.MonnifyReference = stringPtr(monnifyRef)
	p.TransactionReference = txRef.String
	p.CheckoutURL = checkoutURL.String
	p.PaidAt = timePtr(paidAt)
	p.ExpiresAt = timePtr(expiresAt)
	return &p, nil
}

func (t *mysqlTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, p.ID, p.OrderID, p.Amount, p.Currency, p.Status, nullString(p.PaymentMethod), p.PaymentReference,
		nullStringPtr(p.MonnifyReference), nullString(p.TransactionReference), nullString(p.CheckoutURL), nullTime(p.PaidAt), nullTime(p.ExpiresAt),
		p.CreatedAt, p.UpdatedAt)
	return wrapExec(err, "failed to insert payment")
}

func (t *mysqlTx) getPayment(ctx context.Context, column, value string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = ? FOR UPDATE`
	p, err := scanPayment(t.tx.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, wrapQuery(err, "failed to get payment")
	}
	return p, nil
}

func (t *mysqlTx) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return t.getPayment(ctx, "id", id)
}

func (t *mysqlTx) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return t.getPayment(ctx, "payment_reference", reference)
}

func (t *mysqlTx) GetPaymentByGatewayReference(ctx context.Context, gatewayRef string) (*models.Payment, error) {
	p, err := t.getPayment(ctx, "monnify_reference", gatewayRef)
	if errors.Is(err, ErrNotFound) {
		// Monnify echoes its transaction reference before we have stored it as monnify_reference.
		return t.getPayment(ctx, "transaction_reference", gatewayRef)
	}
	return p, err
}

func (t *mysqlTx) PaymentOrderID(ctx context.Context, reference, gatewayRef string) (string, error) {
	lookups := []struct{ column, value string }{
		{"payment_reference", reference},
		{"monnify_reference", gatewayRef},
		{"transaction_reference", gatewayRef},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var orderID string
		err := t.tx.QueryRowContext(ctx, `SELECT order_id FROM payments WHERE `+l.column+` = ?`, l.value).Scan(&orderID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve payment order: %w", err)
		}
		return orderID, nil
	}
	return "", ErrNotFound
}

func (t *mysqlTx) queryPayments(ctx context.Context, query string, args ...any) ([]*models.Payment, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *mysqlTx) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error) {
	return t.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ? ORDER BY created_at ASC FOR UPDATE`, orderID)
}

func (t *mysqlTx) ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
			  WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
			  ORDER BY expires_at ASC LIMIT ?`
	return t.queryPayments(ctx, query, models.PaymentPending, now, limit)
}

func (t *mysqlTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	query := `UPDATE payments SET status = ?, payment_method = ?, monnify_reference = ?, transaction_reference = ?,
			  checkout_url = ?, paid_at = ?, expires_at = ?, updated_at = ? WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, query, p.Status, nullString(p.PaymentMethod), nullStringPtr(p.MonnifyReference),
		nullString(p.TransactionReference), nullString(p.CheckoutURL), nullTime(p.PaidAt), nullTime(p.ExpiresAt), p.UpdatedAt, p.ID)
	if err != nil {
		return wrapExec(err, "failed to update payment")
	}
	return requireAffected(res)
}

// Refunds

const refundColumns = `id, payment_id, order_id, amount, currency, status, refund_reference, monnify_reference, reason,
	refund_type, initiated_at, completed_at, failed_at, failure_reason, created_at, updated_at`

func scanRefund(row scanner) (*models.Refund, error) {
	var r models.Refund
	var monnifyRef, reason, failureReason sql.NullString
	var completedAt, failedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.PaymentID, &r.OrderID, &r.Amount, &r.Currency, &r.Status, &r.RefundReference, &monnifyRef, &reason,
		&r.RefundType, &r.InitiatedAt, &completedAt, &failedAt, &failureReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.MonnifyReference = stringPtr(monnifyRef)
	r.Reason = reason.String
	r.CompletedAt = timePtr(completedAt)
	r.FailedAt = timePtr(failedAt)
	r.FailureReason = failureReason.String
	return &r, nil
}

func (t *mysqlTx) InsertRefund(ctx context.Context, r *models.Refund) error {
	query := `INSERT INTO refunds (` + refundColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, r.ID, r.PaymentID, r.OrderID, r.Amount, r.Currency, r.Status, r.RefundReference,
		nullStringPtr(r.MonnifyReference), nullString(r.Reason), r.RefundType, r.InitiatedAt, nullTime(r.CompletedAt), nullTime(r.FailedAt),
		nullString(r.FailureReason), r.CreatedAt, r.UpdatedAt)
	return wrapExec(err, "failed to insert refund")
}

func (t *mysqlTx) getRefund(ctx context.Context, column, value string) (*models.Refund, error) {
	r, err := scanRefund(t.tx.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE `+column+` = ? FOR UPDATE`, value))
	if err != nil {
		return nil, wrapQuery(err, "failed to get refund")
	}
	return r, nil
}

func (t *mysqlTx) GetRefundByReference(ctx context.Context, reference string) (*models.Refund, error) {
	return t.getRefund(ctx, "refund_reference", reference)
}

func (t *mysqlTx) GetRefundByGatewayReference(ctx context.Context, gatewayRef string) (*models.Refund, error) {
	return t.getRefund(ctx, "monnify_reference", gatewayRef)
}

func (t *mysqlTx) ListRefundsByPayment(ctx context.Context, paymentID string) ([]*models.Refund, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id = ? ORDER BY initiated_at ASC FOR UPDATE`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*models.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

func (t *mysqlTx) UpdateRefund(ctx context.Context, r *models.Refund) error {
	query := `UPDATE refunds SET status = ?, monnify_reference = ?, completed_at = ?, failed_at = ?, failure_reason = ?, updated_at = ?
			  WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, query, r.Status, nullStringPtr(r.MonnifyReference), nullTime(r.CompletedAt), nullTime(r.FailedAt),
		nullString(r.FailureReason), r.UpdatedAt, r.ID)
	if err != nil {
		return wrapExec(err, "failed to update refund")
	}
	return requireAffected(res)
}

// Disbursements

const disbursementColumns = `id, user_id, amount, currency, status, reference, monnify_reference, account_number, account_name,
	bank_code, bank_name, narration, initiated_at, completed_at, failed_at, failure_reason, created_at, updated_at`

func scanDisbursement(row scanner) (*models.Disbursement, error) {
	var d models.Disbursement
	var monnifyRef, narration, failureReason sql.NullString
	var completedAt, failedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.UserID, &d.Amount, &d.Currency, &d.Status, &d.Reference, &monnifyRef, &d.AccountNumber, &d.AccountName,
		&d.BankCode, &d.BankName, &narration, &d.InitiatedAt, &completedAt, &failedAt, &failureReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.MonnifyReference = stringPtr(monnifyRef)
	d.Narration = narration.String
	d.CompletedAt = timePtr(completedAt)
	d.FailedAt = timePtr(failedAt)
	d.FailureReason = failureReason.String
	return &d, nil
}

func (t *mysqlTx) InsertDisbursement(ctx context.Context, d *models.Disbursement) error {
	query := `INSERT INTO disbursements (` + disbursementColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, d.ID, d.UserID, d.Amount, d.Currency, d.Status, d.Reference, nullStringPtr(d.MonnifyReference),
		d.AccountNumber, d.AccountName, d.BankCode, d.BankName, nullString(d.Narration), d.InitiatedAt, nullTime(d.CompletedAt),
		nullTime(d.FailedAt), nullString(d.FailureReason), d.CreatedAt, d.UpdatedAt)
	return wrapExec(err, "failed to insert disbursement")
}

func (t *mysqlTx) getDisbursement(ctx context.Context, column, value string) (*models.Disbursement, error) {
	d, err := scanDisbursement(t.tx.QueryRowContext(ctx, `SELECT `+disbursementColumns+` FROM disbursements WHERE `+column+` = ? FOR UPDATE`, value))
	if err != nil {
		return nil, wrapQuery(err, "failed to get disbursement")
	}
	return d, nil
}

func (t *mysqlTx) GetDisbursementByReference(ctx context.Context, reference string) (*models.Disbursement, error) {
	return t.getDisbursement(ctx, "reference", reference)
}

func (t *mysqlTx) GetDisbursementByGatewayReference(ctx context.Context, gatewayRef string) (*models.Disbursement, error) {
	return t.getDisbursement(ctx, "monnify_reference", gatewayRef)
}

func (t *mysqlTx) UpdateDisbursement(ctx context.Context, d *models.Disbursement) error {
	query := `UPDATE disbursements SET status = ?, monnify_reference = ?, completed_at = ?, failed_at = ?, failure_reason = ?, updated_at = ?
			  WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, query, d.Status, nullStringPtr(d.MonnifyReference), nullTime(d.CompletedAt), nullTime(d.FailedAt),
		nullString(d.FailureReason), d.UpdatedAt, d.ID)
	if err != nil {
		return wrapExec(err, "failed to update disbursement")
	}
	return requireAffected(res)
}

func (t *mysqlTx) CommittedDisbursements(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	query := `SELECT SUM(amount) FROM disbursements WHERE user_id = ? AND status IN (?, ?) FOR UPDATE`
	if err := t.tx.QueryRowContext(ctx, query, userID, models.TransferPending, models.TransferCompleted).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum disbursements: %w", err)
	}
	return sum.Decimal, nil
}

func (t *mysqlTx) Earnings(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	query := `SELECT SUM(GREATEST(o.total - o.agm_fee - COALESCE(r.refunded, 0), 0)) FROM orders o
			  JOIN stores s ON s.id = o.store_id
			  LEFT JOIN (SELECT order_id, SUM(amount) AS refunded FROM refunds WHERE status IN (?, ?) GROUP BY order_id) r
			  ON r.order_id = o.id
			  WHERE s.user_id = ? AND o.payment_status = ? AND o.deleted_at IS NULL`
	if err := t.tx.QueryRowContext(ctx, query, models.TransferPending, models.TransferCompleted, userID, models.PaymentPaid).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum earnings: %w", err)
	}
	return sum.Decimal, nil
}

// Bank accounts

const bankAccountColumns = `id, user_id, account_number, account_name, bank_code, bank_name, is_verified, is_primary, created_at, updated_at`

func scanBankAccount(row scanner) (*models.BankAccount, error) {
	var a models.BankAccount
	if err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountName, &a.BankCode, &a.BankName, &a.IsVerified, &a.IsPrimary,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *mysqlTx) InsertBankAccount(ctx context.Context, a *models.BankAccount) error {
	query := `INSERT INTO bank_accounts (` + bankAccountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, a.ID, a.UserID, a.AccountNumber, a.AccountName, a.BankCode, a.BankName, a.IsVerified, a.IsPrimary,
		a.CreatedAt, a.UpdatedAt)
	return wrapExec(err, "failed to insert bank account")
}

func (t *mysqlTx) GetBankAccount(ctx context.Context, id string) (*models.BankAccount, error) {
	a, err := scanBankAccount(t.tx.QueryRowContext(ctx, `SELECT `+bankAccountColumns+` FROM bank_accounts WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, wrapQuery(err, "failed to get bank account")
	}
	return a, nil
}

func (t *mysqlTx) ListBankAccounts(ctx context.Context, userID string) ([]*models.BankAccount, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+bankAccountColumns+` FROM bank_accounts WHERE user_id = ? ORDER BY is_primary DESC, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.BankAccount
	for rows.Next() {
		a, err := scanBankAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (t *mysqlTx) UpdateBankAccount(ctx context.Context, a *models.BankAccount) error {
	query := `UPDATE bank_accounts SET account_name = ?, bank_name = ?, is_verified = ?, is_primary = ?, updated_at = ? WHERE id = ?`
	res, err := t.tx.ExecContext(ctx, query, a.AccountName, a.BankName, a.IsVerified, a.IsPrimary, a.UpdatedAt, a.ID)
	if err != nil {
		return wrapExec(err, "failed to update bank account")
	}
	return requireAffected(res)
}

func (t *mysqlTx) ClearPrimaryBankAccount(ctx context.Context, userID string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE bank_accounts SET is_primary = FALSE, updated_at = ? WHERE user_id = ? AND is_primary = TRUE`,
		now, userID)
	return wrapExec(err, "failed to clear primary bank account")
}

func (t *mysqlTx) DeleteBankAccount(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bank_accounts WHERE id = ?`, id)
	if err != nil {
		return wrapExec(err, "failed to delete bank account")
	}
	return requireAffected(res)
}

// Reviews and order timeline

func (t *mysqlTx) InsertReview(ctx context.Context, r *models.Review) error {
	query := `INSERT INTO reconciliation_reviews (kind, reference, gateway_reference, reason, expected_amount, expected_currency,
			  received_amount, received_currency, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var payload sql.NullString
	if r.Payload != "" {
		payload = sql.NullString{String: r.Payload, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, query, r.Kind, r.Reference, nullString(r.GatewayReference), r.Reason, r.ExpectedAmount,
		nullString(r.ExpectedCurrency), r.ReceivedAmount, nullString(r.ReceivedCurrency), payload, r.CreatedAt)
	if err != nil {
		return wrapExec(err, "failed to insert review")
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// InsertOrderEvent returns ErrDuplicateKey when the event key was already recorded.
func (t *mysqlTx) InsertOrderEvent(ctx context.Context, e *models.OrderEvent) error {
	query := `INSERT INTO order_events (event_key, order_id, type, reference, payload, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, query, e.EventKey, nullString(e.OrderID), e.Type, e.Reference, e.Payload, e.RecordedAt)
	if err != nil {
		return wrapExec(err, "failed to insert order event")
	}
	e.ID, _ = res.LastInsertId()
	return nil
}
