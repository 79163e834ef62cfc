// Package timeline records published payment events against their order.
package timeline

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
)

type Recorder struct {
	store store.Store
	now   func() time.Time
}

func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st, now: time.Now}
}

// Record writes one timeline row per event key. A redelivered event is
// reported as a duplicate and leaves the timeline unchanged.
func (r *Recorder) Record(ctx context.Context, data []byte) (recorded bool, err error) {
	ev, err := events.Decode(data)
	if err != nil {
		return false, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Type == "" || ev.Reference == "" {
		return false, fmt.Errorf("event without type or reference: %s", string(data))
	}

	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = utils.GenerateCorrelationID()
	}
	ctx = utils.WithCorrelationID(ctx, correlationID)
	logPrefix := utils.LogPrefix(ctx)

	slog.Info(logPrefix+"Received "+ev.Type+" message", "reference", ev.Reference, "order_id", ev.OrderID)

	row := &models.OrderEvent{
		EventKey:   ev.Key(),
		OrderID:    ev.OrderID,
		Type:       ev.Type,
		Reference:  ev.Reference,
		Payload:    string(data),
		RecordedAt: r.now(),
	}
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertOrderEvent(ctx, row)
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		slog.Info(logPrefix+"Event already recorded, skipping", "event_key", row.EventKey)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info(logPrefix+"Event recorded", "event_key", row.EventKey, "id", row.ID)
	return true, nil
}
