package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agm-payments/pkg/events"
	"agm-payments/pkg/models"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

type RefundTracker struct {
	base
}

func NewRefundTracker(st store.Store, gw Gateway, opts Options) *RefundTracker {
	return &RefundTracker{base: newBase(st, gw, opts)}
}

func (t *RefundTracker) refundEvent(typ string, rf *models.Refund) events.Event {
	ev := events.Event{
		Type:       typ,
		Reference:  rf.RefundReference,
		OrderID:    rf.OrderID,
		Amount:     rf.Amount,
		Currency:   rf.Currency,
		Status:     string(rf.Status),
		OccurredAt: t.now(),
	}
	if rf.MonnifyReference != nil {
		ev.GatewayReference = *rf.MonnifyReference
	}
	return ev
}

// committedRefunds sums the refunds of a payment that still count against it.
// Pending refunds are included so that concurrent initiations cannot overshoot.
func committedRefunds(refunds []*models.Refund, skipID string, statuses ...models.TransferStatus) decimal.Decimal {
	sum := decimal.Zero
	for _, rf := range refunds {
		if rf.ID == skipID {
			continue
		}
		for _, s := range statuses {
			if rf.Status == s {
				sum = sum.Add(rf.Amount)
				break
			}
		}
	}
	return sum
}

// Initiate records a pending refund against a paid payment and submits it to
// the gateway. A gateway rejection leaves the refund failed.
func (t *RefundTracker) Initiate(ctx context.Context, paymentReference string, amount decimal.Decimal, reason string) (*models.Refund, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)
	amount = amount.Round(2)

	var refund *models.Refund
	var payment *models.Payment
	err := t.inTx(ctx, func(tx store.Tx) error {
		var err error
		_, payment, err = lockPayment(ctx, tx, paymentReference, "")
		if errors.Is(err, errNotVisible) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, paymentReference)
		}
		if err != nil {
			return err
		}
		if !payment.IsPaid() {
			return fmt.Errorf("%w: %s is %s", ErrPaymentNotPaid, paymentReference, payment.Status)
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: refund amount must be positive", ErrInvalidAmount)
		}

		refunds, err := tx.ListRefundsByPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		remaining := payment.Amount.Sub(committedRefunds(refunds, "", models.TransferPending, models.TransferCompleted))
		if amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: %s requested, %s refundable on %s", ErrRefundExceedsPayment,
				amount.StringFixed(2), remaining.StringFixed(2), paymentReference)
		}

		refundType := models.RefundPartial
		if amount.Equal(remaining) {
			refundType = models.RefundFull
		}

		now := t.now()
		refund = &models.Refund{
			ID:         newID(),
			PaymentID:  payment.ID,
			OrderID:    payment.OrderID,
			Amount:     amount,
			Currency:   payment.Currency,
			Status:     models.TransferPending,
			Reason:     reason,
			RefundType: refundType,
			Lifecycle:  models.Lifecycle{InitiatedAt: now},
		}
		refund.Touch(now)

		_, err = t.insertWithReference(utils.RefundPrefix, func(ref string) error {
			refund.RefundReference = ref
			return tx.InsertRefund(ctx, refund)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info(prefix+"Refund initiated", "reference", refund.RefundReference, "payment_reference", paymentReference,
		"amount", refund.Amount.StringFixed(2), "type", refund.RefundType)

	if t.gateway == nil {
		slog.Warn(prefix+"No gateway configured, refund left pending", "reference", refund.RefundReference)
		return refund, nil
	}

	transactionRef := payment.TransactionReference
	if payment.MonnifyReference != nil {
		transactionRef = *payment.MonnifyReference
	}
	gatewayRef, err := t.gateway.InitiateRefund(ctx, RefundRequest{
		Reference:            refund.RefundReference,
		TransactionReference: transactionRef,
		Amount:               refund.Amount,
		Currency:             refund.Currency,
		Reason:               reason,
	})
	if err != nil {
		slog.Error(prefix+"Gateway rejected refund", "reference", refund.RefundReference, "error", err)
		failed, ferr := t.settle(ctx, refund.RefundReference, func(rf *models.Refund) {
			rf.Status = models.TransferFailed
			rf.Fail(t.now(), err.Error())
		})
		if ferr != nil {
			return refund, ferr
		}
		t.publish(ctx, t.refundEvent(events.RefundFailed, failed))
		return failed, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	if gatewayRef == "" {
		return refund, nil
	}
	return t.settle(ctx, refund.RefundReference, func(rf *models.Refund) {
		if rf.MonnifyReference == nil {
			rf.MonnifyReference = &gatewayRef
		}
	})
}

// settle applies mutate to a refund that is still pending.
func (t *RefundTracker) settle(ctx context.Context, reference string, mutate func(rf *models.Refund)) (*models.Refund, error) {
	var out *models.Refund
	err := t.inTx(ctx, func(tx store.Tx) error {
		rf, err := tx.GetRefundByReference(ctx, reference)
		if err != nil {
			return err
		}
		out = rf
		if rf.Status.IsTerminal() {
			return nil
		}
		mutate(rf)
		rf.Touch(t.now())
		return tx.UpdateRefund(ctx, rf)
	})
	return out, err
}

// ApplyGatewayEvent reconciles a refund notification. A completion that
// brings completed refunds up to the payment amount marks the payment
// refunded, and the order too when that amount is the full order total.
func (t *RefundTracker) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) (*models.Refund, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)

	var refund *models.Refund
	var review *models.Review
	var published []events.Event

	err := t.withLookupRetry(ctx, func() error {
		return t.inTx(ctx, func(tx store.Tx) error {
			refund, review, published = nil, nil, nil

			rf, err := lookupRefund(ctx, tx, ev)
			if err != nil {
				return err
			}
			refund = rf

			if rf.Status.IsTerminal() {
				slog.Info(prefix+"Refund already terminal, ignoring event", "reference", rf.RefundReference, "status", rf.Status, "event_status", ev.Status)
				return nil
			}
			if ev.Status == GatewayPending {
				return nil
			}
			if !ev.matches(rf.Amount, rf.Currency) {
				mismatch := &AmountMismatchError{
					Reference:        rf.RefundReference,
					Expected:         rf.Amount,
					ExpectedCurrency: rf.Currency,
					Received:         ev.Amount,
					ReceivedCurrency: ev.Currency,
				}
				review = mismatchReview(KindRefund, ev, mismatch)
				return mismatch
			}

			now := t.now()
			if ev.GatewayReference != "" && rf.MonnifyReference == nil {
				gatewayRef := ev.GatewayReference
				rf.MonnifyReference = &gatewayRef
			}

			if ev.Status != GatewaySuccess {
				reason := ev.Reason
				if reason == "" {
					reason = "refund " + string(ev.Status) + " at gateway"
				}
				rf.Status = models.TransferFailed
				rf.Fail(now, reason)
				rf.Touch(now)
				published = append(published, t.refundEvent(events.RefundFailed, rf))
				slog.Info(prefix+"Refund failed", "reference", rf.RefundReference, "reason", reason)
				return tx.UpdateRefund(ctx, rf)
			}

			return t.complete(ctx, tx, ev, rf, now, &review, &published)
		})
	})

	if errors.Is(err, errNotVisible) {
		slog.Warn(prefix+"Gateway event for unknown refund", "reference", ev.Reference, "gateway_reference", ev.GatewayReference)
		return nil, fmt.Errorf("%w: %s", ErrUnknownRefund, firstNonEmpty(ev.Reference, ev.GatewayReference))
	}
	if review != nil {
		t.flag(ctx, review)
	}
	if err != nil {
		return refund, err
	}

	t.publish(ctx, published...)
	return refund, nil
}

func (t *RefundTracker) complete(ctx context.Context, tx store.Tx, ev GatewayEvent, rf *models.Refund, now time.Time,
	review **models.Review, published *[]events.Event) error {
	prefix := utils.LogPrefix(ctx)

	order, err := tx.GetOrder(ctx, rf.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", rf.OrderID, err)
	}
	payment, err := tx.GetPayment(ctx, rf.PaymentID)
	if err != nil {
		return fmt.Errorf("failed to load payment %s: %w", rf.PaymentID, err)
	}
	refunds, err := tx.ListRefundsByPayment(ctx, payment.ID)
	if err != nil {
		return err
	}

	refunded := committedRefunds(refunds, rf.ID, models.TransferCompleted).Add(rf.Amount)
	if refunded.GreaterThan(payment.Amount) {
		*review = &models.Review{
			Kind:             string(KindRefund),
			Reference:        rf.RefundReference,
			GatewayReference: ev.GatewayReference,
			Reason:           "refund_exceeds_payment",
			ExpectedAmount:   payment.Amount.Sub(refunded.Sub(rf.Amount)),
			ExpectedCurrency: payment.Currency,
			ReceivedAmount:   ev.Amount,
			ReceivedCurrency: ev.Currency,
			Payload:          string(ev.Payload),
		}
		return fmt.Errorf("%w: completing %s would refund %s of %s", ErrRefundExceedsPayment,
			rf.RefundReference, refunded.StringFixed(2), payment.Amount.StringFixed(2))
	}

	rf.Status = models.TransferCompleted
	rf.Complete(now)
	rf.Touch(now)
	if err := tx.UpdateRefund(ctx, rf); err != nil {
		return err
	}
	*published = append(*published, t.refundEvent(events.RefundCompleted, rf))
	slog.Info(prefix+"Refund completed", "reference", rf.RefundReference, "amount", rf.Amount.StringFixed(2), "refunded_total", refunded.StringFixed(2))

	if !refunded.Equal(payment.Amount) {
		return nil
	}

	if payment.Status == models.PaymentPaid {
		payment.Status = models.PaymentRefunded
		payment.Touch(now)
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
	}

	if refunded.Equal(order.Total.Round(2)) && order.PaymentStatus == models.PaymentPaid {
		if err := tx.UpdateOrderStatus(ctx, order.ID, order.Status, models.PaymentRefunded, now); err != nil {
			return err
		}
		slog.Info(prefix+"Order fully refunded", "order_id", order.ID, "payment_reference", payment.PaymentReference)
	}
	return nil
}

func lookupRefund(ctx context.Context, tx store.Tx, ev GatewayEvent) (*models.Refund, error) {
	if ev.Reference != "" {
		rf, err := tx.GetRefundByReference(ctx, ev.Reference)
		if err == nil {
			return rf, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if ev.GatewayReference != "" {
		rf, err := tx.GetRefundByGatewayReference(ctx, ev.GatewayReference)
		if err == nil {
			return rf, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errNotVisible
}
