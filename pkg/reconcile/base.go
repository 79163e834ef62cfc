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
)

type Options struct {
	PaymentTTL        time.Duration
	ReferenceAttempts int
	LookupRetries     int
	LookupBackoff     time.Duration
	WriteRetries      int
	WriteBackoff      time.Duration
	References        utils.ReferenceGenerator
	Publisher         events.Publisher
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PaymentTTL <= 0 {
		o.PaymentTTL = 24 * time.Hour
	}
	if o.ReferenceAttempts <= 0 {
		o.ReferenceAttempts = 5
	}
	if o.LookupRetries < 0 {
		o.LookupRetries = 0
	}
	if o.LookupBackoff <= 0 {
		o.LookupBackoff = 200 * time.Millisecond
	}
	if o.WriteRetries < 0 {
		o.WriteRetries = 0
	}
	if o.WriteBackoff <= 0 {
		o.WriteBackoff = 50 * time.Millisecond
	}
	if o.References == nil {
		o.References = utils.References
	}
	if o.Publisher == nil {
		o.Publisher = events.Noop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// base carries what the reconciler and both trackers share.
type base struct {
	store   store.Store
	gateway Gateway
	opts    Options
}

func newBase(st store.Store, gw Gateway, opts Options) base {
	return base{store: st, gateway: gw, opts: opts.withDefaults()}
}

func (b *base) now() time.Time {
	return b.opts.Now()
}

// inTx runs fn in a transaction, retrying only transient storage failures.
func (b *base) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	backoff := b.opts.WriteBackoff
	for attempt := 0; ; attempt++ {
		err := b.store.WithTx(ctx, fn)
		if err == nil || !store.IsTransient(err) || attempt >= b.opts.WriteRetries {
			return err
		}

		slog.Warn(utils.LogPrefix(ctx)+"Transient storage error, retrying", "attempt", attempt+1, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

// withLookupRetry re-runs fn while it reports errNotVisible: a webhook can
// overtake the commit of the row it refers to.
func (b *base) withLookupRetry(ctx context.Context, fn func() error) error {
	backoff := b.opts.LookupBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, errNotVisible) || attempt >= b.opts.LookupRetries {
			return err
		}

		slog.Info(utils.LogPrefix(ctx)+"Reference not visible yet, waiting", "attempt", attempt+1, "backoff", backoff)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// insertWithReference retries insert with fresh references while the storage
// layer reports a unique key collision.
func (b *base) insertWithReference(prefix string, insert func(ref string) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt < b.opts.ReferenceAttempts; attempt++ {
		ref := b.opts.References.Generate(prefix)
		err := insert(ref)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return "", err
		}
		lastErr = fmt.Errorf("%w: %s", ErrDuplicateReference, ref)
		slog.Warn("Reference collision, regenerating", "prefix", prefix, "attempt", attempt+1)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrReferenceExhaustion, b.opts.ReferenceAttempts, lastErr)
}

func (b *base) publish(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		ev.CorrelationID = utils.CorrelationID(ctx)
		if err := b.opts.Publisher.Publish(ctx, ev); err != nil {
			slog.Error(utils.LogPrefix(ctx)+"Failed to publish event", "type", ev.Type, "reference", ev.Reference, "error", err)
		}
	}
}

// flag parks an event for manual review in its own transaction, since the
// transaction that detected the problem has been rolled back.
func (b *base) flag(ctx context.Context, review *models.Review) {
	review.CreatedAt = b.now()
	err := b.inTx(ctx, func(tx store.Tx) error {
		return tx.InsertReview(ctx, review)
	})
	if err != nil {
		slog.Error(utils.LogPrefix(ctx)+"Failed to flag event for review", "reference", review.Reference, "reason", review.Reason, "error", err)
		return
	}
	slog.Warn(utils.LogPrefix(ctx)+"Event flagged for manual review", "kind", review.Kind, "reference", review.Reference, "reason", review.Reason)
}

func mismatchReview(kind EventKind, ev GatewayEvent, m *AmountMismatchError) *models.Review {
	return &models.Review{
		Kind:             string(kind),
		Reference:        m.Reference,
		GatewayReference: ev.GatewayReference,
		Reason:           "amount_mismatch",
		ExpectedAmount:   m.Expected,
		ExpectedCurrency: m.ExpectedCurrency,
		ReceivedAmount:   m.Received,
		ReceivedCurrency: m.ReceivedCurrency,
		Payload:          string(ev.Payload),
	}
}

func newID() string {
	return utils.GenerateUUID7()
}
