package reconcile

import (
	"context"
	"log/slog"
	"time"

	"agm-payments/pkg/events"
	"agm-payments/pkg/models"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"
)

const sweepBatchSize = 100

// ExpireStale marks pending payments past their expiry as expired and returns
// how many were changed. Running it again changes nothing.
func (r *Reconciler) ExpireStale(ctx context.Context) (int, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	prefix := utils.LogPrefix(ctx)
	total := 0

	for {
		var expired []*models.Payment
		err := r.inTx(ctx, func(tx store.Tx) error {
			expired = nil
			now := r.now()

			overdue, err := tx.ListOverduePayments(ctx, now, sweepBatchSize)
			if err != nil {
				return err
			}

			for _, candidate := range overdue {
				order, err := tx.GetOrder(ctx, candidate.OrderID)
				if err != nil {
					return err
				}
				p, err := tx.GetPayment(ctx, candidate.ID)
				if err != nil {
					return err
				}
				if !p.IsOverdue(now) {
					continue
				}
				p.Status = models.PaymentExpired
				p.Touch(now)
				if err := tx.UpdatePayment(ctx, p); err != nil {
					return err
				}

				if order.PaymentStatus == models.PaymentPending {
					if err := tx.UpdateOrderStatus(ctx, order.ID, order.Status, models.PaymentExpired, now); err != nil {
						return err
					}
				}
				expired = append(expired, p)
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += len(expired)
		evs := make([]events.Event, 0, len(expired))
		for _, p := range expired {
			evs = append(evs, newPaymentEvent(events.PaymentExpired, p, &r.base))
		}
		r.publish(ctx, evs...)

		if len(expired) < sweepBatchSize {
			break
		}
	}

	if total > 0 {
		slog.Info(prefix+"Expired stale payments", "count", total)
	}
	return total, nil
}

// RunSweeper calls ExpireStale every interval until ctx is cancelled.
func (r *Reconciler) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			sweepCtx := utils.WithCorrelationID(ctx, utils.GenerateCorrelationID())
			if _, err := r.ExpireStale(sweepCtx); err != nil {
				slog.Error(utils.LogPrefix(sweepCtx)+"Expiry sweep failed", "error", err)
			}
		}
	}
}
