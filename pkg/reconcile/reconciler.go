// Package reconcile drives payments, refunds and disbursements through their
// lifecycles. Every transition happens under a row lock and is applied at most
// once, however many times the gateway delivers the event that triggers it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agm-payments/pkg/events"
	"agm-payments/pkg/models"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

// Result is the state of a payment and its order after an event was applied.
type Result struct {
	Payment            models.Payment       `json:"payment"`
	OrderID            string               `json:"order_id"`
	OrderNumber        string               `json:"order_number"`
	OrderTotal         decimal.Decimal      `json:"order_total"`
	OrderStatus        models.OrderStatus   `json:"order_status"`
	OrderPaymentStatus models.PaymentStatus `json:"order_payment_status"`
}

func (r *Result) Verified() bool {
	return r.Payment.Status == models.PaymentPaid
}

func newResult(p *models.Payment, o *models.Order) *Result {
	return &Result{
		Payment:            *p,
		OrderID:            o.ID,
		OrderNumber:        o.OrderNumber,
		OrderTotal:         o.Total,
		OrderStatus:        o.Status,
		OrderPaymentStatus: o.PaymentStatus,
	}
}

type Reconciler struct {
	base
}

// New builds a Reconciler. gw may be nil, in which case checkout and
// verification calls return ErrGatewayUnavailable.
func New(st store.Store, gw Gateway, opts Options) *Reconciler {
	return &Reconciler{base: newBase(st, gw, opts)}
}

func newPaymentEvent(typ string, p *models.Payment, b *base) events.Event {
	ev := events.Event{
		Type:       typ,
		Reference:  p.PaymentReference,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     string(p.Status),
		OccurredAt: b.now(),
	}
	if p.MonnifyReference != nil {
		ev.GatewayReference = *p.MonnifyReference
	}
	return ev
}

// RecordInitiation creates a pending payment for the order. Any other pending
// payment of the order is expired so that only one attempt is active.
func (r *Reconciler) RecordInitiation(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*models.Payment, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)
	currency = normalizeCurrency(currency)

	var payment *models.Payment
	var superseded []*models.Payment
	err := r.inTx(ctx, func(tx store.Tx) error {
		superseded = nil

		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}
		if err := checkPayable(order); err != nil {
			return err
		}
		if !amount.IsPositive() || !amount.Round(2).Equal(order.Total.Round(2)) {
			return fmt.Errorf("%w: %s does not match order total %s", ErrInvalidAmount, amount.StringFixed(2), order.Total.StringFixed(2))
		}

		superseded, err = r.expireActive(ctx, tx, order.ID, "")
		if err != nil {
			return err
		}

		payment, err = r.insertPayment(ctx, tx, order, amount, currency)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info(prefix+"Payment initiated", "order_id", orderID, "reference", payment.PaymentReference, "amount", payment.Amount.StringFixed(2), "expires_at", payment.ExpiresAt)

	evs := make([]events.Event, 0, len(superseded)+1)
	for _, p := range superseded {
		evs = append(evs, newPaymentEvent(events.PaymentExpired, p, &r.base))
	}
	r.publish(ctx, append(evs, newPaymentEvent(events.PaymentInitiated, payment, &r.base))...)
	return payment, nil
}

func checkPayable(order *models.Order) error {
	if order.PaymentStatus == models.PaymentPaid || order.PaymentStatus == models.PaymentRefunded {
		return fmt.Errorf("%w: %s", ErrOrderAlreadyPaid, order.OrderNumber)
	}
	if !order.IsPayable() {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotPayable, order.OrderNumber, order.Status)
	}
	if err := order.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return nil
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return models.DefaultCurrency
	}
	return currency
}

// expireActive marks every pending payment of the order, except keep, as expired.
func (r *Reconciler) expireActive(ctx context.Context, tx store.Tx, orderID, keep string) ([]*models.Payment, error) {
	payments, err := tx.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var expired []*models.Payment
	for _, p := range payments {
		if p.Status != models.PaymentPending || p.PaymentReference == keep {
			continue
		}
		p.Status = models.PaymentExpired
		p.Touch(r.now())
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return nil, err
		}
		expired = append(expired, p)
	}
	return expired, nil
}

func (r *Reconciler) insertPayment(ctx context.Context, tx store.Tx, order *models.Order, amount decimal.Decimal, currency string) (*models.Payment, error) {
	now := r.now()
	expiresAt := now.Add(r.opts.PaymentTTL)
	payment := &models.Payment{
		ID:        newID(),
		OrderID:   order.ID,
		Amount:    amount.Round(2),
		Currency:  currency,
		Status:    models.PaymentPending,
		ExpiresAt: &expiresAt,
	}
	payment.Touch(now)

	_, err := r.insertWithReference(utils.PaymentPrefix, func(ref string) error {
		payment.PaymentReference = ref
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus != models.PaymentPending {
		if err := tx.UpdateOrderStatus(ctx, order.ID, order.Status, models.PaymentPending, now); err != nil {
			return nil, err
		}
	}
	return payment, nil
}

// Checkout records a payment for the order total and opens a gateway checkout session for it.
func (r *Reconciler) Checkout(ctx context.Context, orderID string) (*models.Payment, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	if r.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	var order *models.Order
	err := r.inTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	payment, err := r.RecordInitiation(ctx, orderID, order.Total, models.DefaultCurrency)
	if err != nil {
		return nil, err
	}
	return r.openCheckout(ctx, payment, order)
}

func (r *Reconciler) openCheckout(ctx context.Context, payment *models.Payment, order *models.Order) (*models.Payment, error) {
	prefix := utils.LogPrefix(ctx)

	checkout, err := r.gateway.InitiateTransaction(ctx, TransactionRequest{
		Reference:   payment.PaymentReference,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Description: "Payment for order " + order.OrderNumber,
		Customer:    Customer{Name: order.CustomerName, Email: order.CustomerEmail},
	})
	if err != nil {
		slog.Error(prefix+"Failed to initiate gateway transaction", "reference", payment.PaymentReference, "error", err)
		return payment, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	var updated *models.Payment
	err = r.inTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPaymentByReference(ctx, payment.PaymentReference)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentPending {
			updated = p
			return nil
		}
		p.CheckoutURL = checkout.CheckoutURL
		p.TransactionReference = checkout.TransactionReference
		if checkout.ExpiresAt != nil && checkout.ExpiresAt.Before(*p.ExpiresAt) {
			p.ExpiresAt = checkout.ExpiresAt
		}
		p.Touch(r.now())
		updated = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return payment, err
	}

	slog.Info(prefix+"Checkout opened", "reference", updated.PaymentReference, "transaction_reference", updated.TransactionReference)
	return updated, nil
}

// ApplyGatewayEvent reconciles one gateway payment event with the local
// payment and its order. Events for payments already in a terminal status
// return the stored result without writing anything.
func (r *Reconciler) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) (*Result, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)

	var result *Result
	var published []events.Event
	var review *models.Review

	err := r.withLookupRetry(ctx, func() error {
		return r.inTx(ctx, func(tx store.Tx) error {
			result, published, review = nil, nil, nil

			order, payment, err := lockPayment(ctx, tx, ev.Reference, ev.GatewayReference)
			if err != nil {
				return err
			}

			if payment.Status.IsTerminal() {
				slog.Info(prefix+"Payment already terminal, ignoring event", "reference", payment.PaymentReference, "status", payment.Status, "event_status", ev.Status)
				result = newResult(payment, order)
				return nil
			}

			switch ev.Status {
			case GatewayPending:
				result = newResult(payment, order)
				return nil
			case GatewaySuccess, GatewayFailed, GatewayExpired:
			default:
				slog.Warn(prefix+"Unsupported gateway status, ignoring event", "reference", payment.PaymentReference, "event_status", ev.Status)
				result = newResult(payment, order)
				return nil
			}

			// Failed and expired notifications often carry no amount.
			unpriced := ev.Status != GatewaySuccess && ev.Amount.IsZero()
			if !unpriced && !ev.matches(payment.Amount, payment.Currency) {
				mismatch := &AmountMismatchError{
					Reference:        payment.PaymentReference,
					Expected:         payment.Amount,
					ExpectedCurrency: payment.Currency,
					Received:         ev.Amount,
					ReceivedCurrency: ev.Currency,
				}
				review = mismatchReview(KindPayment, ev, mismatch)
				result = newResult(payment, order)
				return mismatch
			}

			switch ev.Status {
			case GatewaySuccess:
				return r.markPaid(ctx, tx, ev, payment, order, &result, &published, &review)
			default:
				return r.markUnsuccessful(ctx, tx, ev, payment, order, &result, &published)
			}
		})
	})

	if errors.Is(err, errNotVisible) {
		slog.Warn(prefix+"Gateway event for unknown payment", "reference", ev.Reference, "gateway_reference", ev.GatewayReference, "status", ev.Status)
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayment, firstNonEmpty(ev.Reference, ev.GatewayReference))
	}
	if review != nil {
		r.flag(ctx, review)
	}
	if err != nil {
		return result, err
	}

	r.publish(ctx, published...)
	return result, nil
}

func (r *Reconciler) markPaid(ctx context.Context, tx store.Tx, ev GatewayEvent, payment *models.Payment, order *models.Order,
	result **Result, published *[]events.Event, review **models.Review) error {
	prefix := utils.LogPrefix(ctx)

	siblings, err := tx.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID != payment.ID && s.Status == models.PaymentPaid {
			*review = &models.Review{
				Kind:             string(KindPayment),
				Reference:        payment.PaymentReference,
				GatewayReference: ev.GatewayReference,
				Reason:           "order_already_paid",
				ExpectedAmount:   payment.Amount,
				ExpectedCurrency: payment.Currency,
				ReceivedAmount:   ev.Amount,
				ReceivedCurrency: ev.Currency,
				Payload:          string(ev.Payload),
			}
			*result = newResult(payment, order)
			return fmt.Errorf("%w: %s already settled by %s", ErrOrderAlreadyPaid, order.OrderNumber, s.PaymentReference)
		}
	}

	now := r.now()
	payment.Status = models.PaymentPaid
	payment.PaidAt = &now
	if ev.GatewayReference != "" {
		gatewayRef := ev.GatewayReference
		payment.MonnifyReference = &gatewayRef
	}
	if ev.PaymentMethod != "" {
		payment.PaymentMethod = strings.ToLower(ev.PaymentMethod)
	}
	payment.Touch(now)
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}

	status := order.Status
	if status == models.OrderPending {
		status = models.OrderConfirmed
	} else {
		slog.Warn(prefix+"Order not pending on payment, keeping status", "order_id", order.ID, "status", order.Status)
	}
	if err := tx.UpdateOrderStatus(ctx, order.ID, status, models.PaymentPaid, now); err != nil {
		return err
	}
	order.Status = status
	order.PaymentStatus = models.PaymentPaid

	slog.Info(prefix+"Payment marked paid", "reference", payment.PaymentReference, "order_id", order.ID, "order_status", order.Status)
	*result = newResult(payment, order)
	*published = append(*published, newPaymentEvent(events.PaymentPaid, payment, &r.base))
	return nil
}

func (r *Reconciler) markUnsuccessful(ctx context.Context, tx store.Tx, ev GatewayEvent, payment *models.Payment, order *models.Order,
	result **Result, published *[]events.Event) error {
	status, eventType := models.PaymentFailed, events.PaymentFailed
	if ev.Status == GatewayExpired {
		status, eventType = models.PaymentExpired, events.PaymentExpired
	}

	payment.Status = status
	if ev.GatewayReference != "" && payment.MonnifyReference == nil {
		gatewayRef := ev.GatewayReference
		payment.MonnifyReference = &gatewayRef
	}
	now := r.now()
	payment.Touch(now)
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return err
	}

	// A settled order is never regressed by a stale attempt.
	if order.PaymentStatus != models.PaymentPaid && order.PaymentStatus != models.PaymentRefunded {
		if err := tx.UpdateOrderStatus(ctx, order.ID, order.Status, status, now); err != nil {
			return err
		}
		order.PaymentStatus = status
	}

	slog.Info(utils.LogPrefix(ctx)+"Payment closed without settlement", "reference", payment.PaymentReference, "status", status, "order_id", order.ID)
	*result = newResult(payment, order)
	*published = append(*published, newPaymentEvent(eventType, payment, &r.base))
	return nil
}

// lockPayment locks the order owning a payment and then the payment itself.
// Every writer takes order rows before payment rows.
func lockPayment(ctx context.Context, tx store.Tx, reference, gatewayRef string) (*models.Order, *models.Payment, error) {
	orderID, err := tx.PaymentOrderID(ctx, reference, gatewayRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, errNotVisible
	}
	if err != nil {
		return nil, nil, err
	}
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	payment, err := lookupPayment(ctx, tx, reference, gatewayRef)
	if err != nil {
		return nil, nil, err
	}
	return order, payment, nil
}

func lookupPayment(ctx context.Context, tx store.Tx, reference, gatewayRef string) (*models.Payment, error) {
	if reference != "" {
		p, err := tx.GetPaymentByReference(ctx, reference)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if gatewayRef != "" {
		p, err := tx.GetPaymentByGatewayReference(ctx, gatewayRef)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errNotVisible
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Reinitialize replaces a pending or expired payment with a fresh attempt for
// the same order. The previous payment ends up expired.
func (r *Reconciler) Reinitialize(ctx context.Context, paymentReference string) (*models.Payment, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)

	var order *models.Order
	var payment *models.Payment
	var superseded []*models.Payment
	err := r.inTx(ctx, func(tx store.Tx) error {
		superseded = nil

		var previous *models.Payment
		var err error
		order, previous, err = lockPayment(ctx, tx, paymentReference, "")
		if errors.Is(err, errNotVisible) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, paymentReference)
		}
		if err != nil {
			return err
		}
		if previous.Status != models.PaymentPending && previous.Status != models.PaymentExpired {
			return fmt.Errorf("%w: %s is %s", ErrPaymentNotReinitializable, paymentReference, previous.Status)
		}
		if err := checkPayable(order); err != nil {
			return err
		}

		superseded, err = r.expireActive(ctx, tx, order.ID, "")
		if err != nil {
			return err
		}

		payment, err = r.insertPayment(ctx, tx, order, order.Total, previous.Currency)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info(prefix+"Payment reinitialized", "previous_reference", paymentReference, "reference", payment.PaymentReference, "order_id", order.ID)

	evs := make([]events.Event, 0, len(superseded)+1)
	for _, p := range superseded {
		evs = append(evs, newPaymentEvent(events.PaymentExpired, p, &r.base))
	}
	r.publish(ctx, append(evs, newPaymentEvent(events.PaymentInitiated, payment, &r.base))...)

	if r.gateway == nil {
		return payment, nil
	}
	return r.openCheckout(ctx, payment, order)
}

// Verify asks the gateway for the current state of a payment and applies it.
func (r *Reconciler) Verify(ctx context.Context, paymentReference string) (*Result, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	if r.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	ev, err := r.gateway.VerifyTransaction(ctx, paymentReference)
	if err != nil {
		return nil, fmt.Errorf("failed to verify %s with gateway: %w", paymentReference, err)
	}
	ev.Kind = KindPayment
	if ev.Reference == "" {
		ev.Reference = paymentReference
	}
	return r.ApplyGatewayEvent(ctx, *ev)
}

// Payment returns the payment and order state for a reference without changing anything.
func (r *Reconciler) Payment(ctx context.Context, paymentReference string) (*Result, error) {
	var result *Result
	err := r.inTx(ctx, func(tx store.Tx) error {
		o, p, err := lockPayment(ctx, tx, paymentReference, "")
		if errors.Is(err, errNotVisible) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, paymentReference)
		}
		if err != nil {
			return err
		}
		result = newResult(p, o)
		return nil
	})
	return result, err
}
