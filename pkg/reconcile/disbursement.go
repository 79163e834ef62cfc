package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agm-payments/pkg/events"
	"agm-payments/pkg/models"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

// DisbursementTracker pays out store earnings to a user's verified bank account.
type DisbursementTracker struct {
	base
}

func NewDisbursementTracker(st store.Store, gw Gateway, opts Options) *DisbursementTracker {
	return &DisbursementTracker{base: newBase(st, gw, opts)}
}

func (t *DisbursementTracker) disbursementEvent(typ string, d *models.Disbursement) events.Event {
	ev := events.Event{
		Type:       typ,
		Reference:  d.Reference,
		UserID:     d.UserID,
		Amount:     d.Amount,
		Currency:   d.Currency,
		Status:     string(d.Status),
		OccurredAt: t.now(),
	}
	if d.MonnifyReference != nil {
		ev.GatewayReference = *d.MonnifyReference
	}
	return ev
}

// Available returns the earnings of a user that are not yet paid out or
// committed to a pending payout.
func (t *DisbursementTracker) Available(ctx context.Context, userID string) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := t.inTx(ctx, func(tx store.Tx) error {
		var err error
		available, err = availableBalance(ctx, tx, userID)
		return err
	})
	return available, err
}

func availableBalance(ctx context.Context, tx store.Tx, userID string) (decimal.Decimal, error) {
	committed, err := tx.CommittedDisbursements(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	earnings, err := tx.Earnings(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return earnings.Sub(committed), nil
}

// Initiate records a pending disbursement to bankAccountID and submits it to
// the gateway. The account must belong to userID and be verified.
func (t *DisbursementTracker) Initiate(ctx context.Context, userID, bankAccountID string, amount decimal.Decimal) (*models.Disbursement, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)
	amount = amount.Round(2)

	var disbursement *models.Disbursement
	err := t.inTx(ctx, func(tx store.Tx) error {
		account, err := tx.GetBankAccount(ctx, bankAccountID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBankAccountNotFound, bankAccountID)
		}
		if err != nil {
			return err
		}
		if account.UserID != userID {
			return fmt.Errorf("%w: %s", ErrBankAccountNotOwned, bankAccountID)
		}
		if !account.IsVerified {
			return fmt.Errorf("%w: %s", ErrBankAccountNotVerified, bankAccountID)
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: disbursement amount must be positive", ErrInvalidAmount)
		}

		available, err := availableBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(available) {
			return fmt.Errorf("%w: %s requested, %s available", ErrInsufficientBalance, amount.StringFixed(2), available.StringFixed(2))
		}

		now := t.now()
		disbursement = &models.Disbursement{
			ID:            newID(),
			UserID:        userID,
			Amount:        amount,
			Currency:      models.DefaultCurrency,
			Status:        models.TransferPending,
			AccountNumber: account.AccountNumber,
			AccountName:   account.AccountName,
			BankCode:      account.BankCode,
			BankName:      account.BankName,
			Narration:     "AGM earnings payout",
			Lifecycle:     models.Lifecycle{InitiatedAt: now},
		}
		disbursement.Touch(now)

		_, err = t.insertWithReference(utils.DisbursementPrefix, func(ref string) error {
			disbursement.Reference = ref
			return tx.InsertDisbursement(ctx, disbursement)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info(prefix+"Disbursement initiated", "reference", disbursement.Reference, "user_id", userID,
		"amount", disbursement.Amount.StringFixed(2), "bank_code", disbursement.BankCode)

	if t.gateway == nil {
		slog.Warn(prefix+"No gateway configured, disbursement left pending", "reference", disbursement.Reference)
		return disbursement, nil
	}

	gatewayRef, err := t.gateway.InitiateDisbursement(ctx, DisbursementRequest{
		Reference:     disbursement.Reference,
		Amount:        disbursement.Amount,
		Currency:      disbursement.Currency,
		AccountNumber: disbursement.AccountNumber,
		BankCode:      disbursement.BankCode,
		Narration:     disbursement.Narration,
	})
	if err != nil {
		slog.Error(prefix+"Gateway rejected disbursement", "reference", disbursement.Reference, "error", err)
		failed, ferr := t.settle(ctx, disbursement.Reference, func(d *models.Disbursement) {
			d.Status = models.TransferFailed
			d.Fail(t.now(), err.Error())
		})
		if ferr != nil {
			return disbursement, ferr
		}
		t.publish(ctx, t.disbursementEvent(events.DisbursementFailed, failed))
		return failed, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	if gatewayRef == "" {
		return disbursement, nil
	}
	return t.settle(ctx, disbursement.Reference, func(d *models.Disbursement) {
		if d.MonnifyReference == nil {
			d.MonnifyReference = &gatewayRef
		}
	})
}

func (t *DisbursementTracker) settle(ctx context.Context, reference string, mutate func(d *models.Disbursement)) (*models.Disbursement, error) {
	var out *models.Disbursement
	err := t.inTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDisbursementByReference(ctx, reference)
		if err != nil {
			return err
		}
		out = d
		if d.Status.IsTerminal() {
			return nil
		}
		mutate(d)
		d.Touch(t.now())
		return tx.UpdateDisbursement(ctx, d)
	})
	return out, err
}

// ApplyGatewayEvent reconciles a disbursement notification. A reversal of an
// already completed payout is parked for review and leaves the row as is.
func (t *DisbursementTracker) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) (*models.Disbursement, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)

	var disbursement *models.Disbursement
	var review *models.Review
	var published []events.Event

	err := t.withLookupRetry(ctx, func() error {
		return t.inTx(ctx, func(tx store.Tx) error {
			disbursement, review, published = nil, nil, nil

			d, err := lookupDisbursement(ctx, tx, ev)
			if err != nil {
				return err
			}
			disbursement = d

			if d.Status.IsTerminal() {
				if d.Status == models.TransferCompleted && ev.Status == GatewayReversed {
					review = &models.Review{
						Kind:             string(KindDisbursement),
						Reference:        d.Reference,
						GatewayReference: ev.GatewayReference,
						Reason:           "reversed_after_completion",
						ExpectedAmount:   d.Amount,
						ExpectedCurrency: d.Currency,
						ReceivedAmount:   ev.Amount,
						ReceivedCurrency: ev.Currency,
						Payload:          string(ev.Payload),
					}
					return nil
				}
				slog.Info(prefix+"Disbursement already terminal, ignoring event", "reference", d.Reference, "status", d.Status, "event_status", ev.Status)
				return nil
			}
			if ev.Status == GatewayPending {
				return nil
			}
			if !ev.matches(d.Amount, d.Currency) {
				mismatch := &AmountMismatchError{
					Reference:        d.Reference,
					Expected:         d.Amount,
					ExpectedCurrency: d.Currency,
					Received:         ev.Amount,
					ReceivedCurrency: ev.Currency,
				}
				review = mismatchReview(KindDisbursement, ev, mismatch)
				return mismatch
			}

			now := t.now()
			if ev.GatewayReference != "" && d.MonnifyReference == nil {
				gatewayRef := ev.GatewayReference
				d.MonnifyReference = &gatewayRef
			}

			if ev.Status == GatewaySuccess {
				d.Status = models.TransferCompleted
				d.Complete(now)
				published = append(published, t.disbursementEvent(events.DisbursementComplete, d))
				slog.Info(prefix+"Disbursement completed", "reference", d.Reference, "amount", d.Amount.StringFixed(2))
			} else {
				reason := ev.Reason
				if reason == "" {
					reason = "disbursement " + string(ev.Status) + " at gateway"
				}
				d.Status = models.TransferFailed
				d.Fail(now, reason)
				published = append(published, t.disbursementEvent(events.DisbursementFailed, d))
				slog.Info(prefix+"Disbursement failed", "reference", d.Reference, "reason", reason)
			}
			d.Touch(now)
			return tx.UpdateDisbursement(ctx, d)
		})
	})

	if errors.Is(err, errNotVisible) {
		slog.Warn(prefix+"Gateway event for unknown disbursement", "reference", ev.Reference, "gateway_reference", ev.GatewayReference)
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisbursement, firstNonEmpty(ev.Reference, ev.GatewayReference))
	}
	if review != nil {
		t.flag(ctx, review)
	}
	if err != nil {
		return disbursement, err
	}

	t.publish(ctx, published...)
	return disbursement, nil
}

func lookupDisbursement(ctx context.Context, tx store.Tx, ev GatewayEvent) (*models.Disbursement, error) {
	if ev.Reference != "" {
		d, err := tx.GetDisbursementByReference(ctx, ev.Reference)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if ev.GatewayReference != "" {
		d, err := tx.GetDisbursementByGatewayReference(ctx, ev.GatewayReference)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errNotVisible
}
