package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agm-payments/pkg/models"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. WithTx holds a single lock for the whole
// transaction, which gives the same single-writer guarantee as row locks, and
// restores a snapshot when fn fails.
type Memory struct {
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	stores        map[string]models.Store
	orders        map[string]models.Order
	payments      map[string]models.Payment
	refunds       map[string]models.Refund
	disbursements map[string]models.Disbursement
	bankAccounts  map[string]models.BankAccount
	reviews       []models.Review
	orderEvents   map[string]models.OrderEvent
}

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		stores:        map[string]models.Store{},
		orders:        map[string]models.Order{},
		payments:      map[string]models.Payment{},
		refunds:       map[string]models.Refund{},
		disbursements: map[string]models.Disbursement{},
		bankAccounts:  map[string]models.BankAccount{},
		orderEvents:   map[string]models.OrderEvent{},
	}}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d memoryData) clone() memoryData {
	return memoryData{
		stores:        cloneMap(d.stores),
		orders:        cloneMap(d.orders),
		payments:      cloneMap(d.payments),
		refunds:       cloneMap(d.refunds),
		disbursements: cloneMap(d.disbursements),
		bankAccounts:  cloneMap(d.bankAccounts),
		reviews:       append([]models.Review(nil), d.reviews...),
		orderEvents:   cloneMap(d.orderEvents),
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&memoryTx{d: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reviews returns a copy of the manual review queue.
func (m *Memory) Reviews() []models.Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Review(nil), m.data.reviews...)
}

// OrderEvents returns a copy of the recorded order timeline.
func (m *Memory) OrderEvents() []models.OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OrderEvent, 0, len(m.data.orderEvents))
	for _, e := range m.data.orderEvents {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryTx struct {
	d *memoryData
}

func (t *memoryTx) InsertStore(_ context.Context, s *models.Store) error {
	if _, ok := t.d.stores[s.ID]; ok {
		return ErrDuplicateKey
	}
	t.d.stores[s.ID] = *s
	return nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o *models.Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if _, ok := t.d.orders[o.ID]; ok {
		return ErrDuplicateKey
	}
	for _, existing := range t.d.orders {
		if existing.OrderNumber == o.OrderNumber {
			return ErrDuplicateKey
		}
	}
	t.d.orders[o.ID] = *o
	return nil
}

func (t *memoryTx) GetOrder(_ context.Context, id string) (*models.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, id string, status models.OrderStatus, paymentStatus models.PaymentStatus, now time.Time) error {
	o, ok := t.d.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = now
	t.d.orders[id] = o
	return nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p *models.Payment) error {
	if _, ok := t.d.payments[p.ID]; ok {
		return ErrDuplicateKey
	}
	for _, existing := range t.d.payments {
		if existing.PaymentReference == p.PaymentReference || sameRef(existing.MonnifyReference, p.MonnifyReference) {
			return ErrDuplicateKey
		}
	}
	t.d.payments[p.ID] = *p
	return nil
}

func sameRef(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (t *memoryTx) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	p, ok := t.d.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) GetPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	for _, p := range t.d.payments {
		if p.PaymentReference == reference {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) GetPaymentByGatewayReference(_ context.Context, gatewayRef string) (*models.Payment, error) {
	for _, p := range t.d.payments {
		if (p.MonnifyReference != nil && *p.MonnifyReference == gatewayRef) || (p.TransactionReference != "" && p.TransactionReference == gatewayRef) {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) PaymentOrderID(ctx context.Context, reference, gatewayRef string) (string, error) {
	for _, p := range t.d.payments {
		if reference != "" && p.PaymentReference == reference {
			return p.OrderID, nil
		}
	}
	if gatewayRef == "" {
		return "", ErrNotFound
	}
	p, err := t.GetPaymentByGatewayReference(ctx, gatewayRef)
	if err != nil {
		return "", err
	}
	return p.OrderID, nil
}

func (t *memoryTx) ListPaymentsByOrder(_ context.Context, orderID string) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range t.d.payments {
		if p.OrderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) ListOverduePayments(_ context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range t.d.payments {
		if p.IsOverdue(now) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) UpdatePayment(_ context.Context, p *models.Payment) error {
	if _, ok := t.d.payments[p.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range t.d.payments {
		if id != p.ID && sameRef(existing.MonnifyReference, p.MonnifyReference) {
			return ErrDuplicateKey
		}
	}
	t.d.payments[p.ID] = *p
	return nil
}

func (t *memoryTx) InsertRefund(_ context.Context, r *models.Refund) error {
	if _, ok := t.d.refunds[r.ID]; ok {
		return ErrDuplicateKey
	}
	for _, existing := range t.d.refunds {
		if existing.RefundReference == r.RefundReference || sameRef(existing.MonnifyReference, r.MonnifyReference) {
			return ErrDuplicateKey
		}
	}
	t.d.refunds[r.ID] = *r
	return nil
}

func (t *memoryTx) GetRefundByReference(_ context.Context, reference string) (*models.Refund, error) {
	for _, r := range t.d.refunds {
		if r.RefundReference == reference {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) GetRefundByGatewayReference(_ context.Context, gatewayRef string) (*models.Refund, error) {
	for _, r := range t.d.refunds {
		if r.MonnifyReference != nil && *r.MonnifyReference == gatewayRef {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) ListRefundsByPayment(_ context.Context, paymentID string) ([]*models.Refund, error) {
	var out []*models.Refund
	for _, r := range t.d.refunds {
		if r.PaymentID == paymentID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	return out, nil
}

func (t *memoryTx) UpdateRefund(_ context.Context, r *models.Refund) error {
	if _, ok := t.d.refunds[r.ID]; !ok {
		return ErrNotFound
	}
	t.d.refunds[r.ID] = *r
	return nil
}

func (t *memoryTx) InsertDisbursement(_ context.Context, d *models.Disbursement) error {
	if _, ok := t.d.disbursements[d.ID]; ok {
		return ErrDuplicateKey
	}
	for _, existing := range t.d.disbursements {
		if existing.Reference == d.Reference || sameRef(existing.MonnifyReference, d.MonnifyReference) {
			return ErrDuplicateKey
		}
	}
	t.d.disbursements[d.ID] = *d
	return nil
}

func (t *memoryTx) GetDisbursementByReference(_ context.Context, reference string) (*models.Disbursement, error) {
	for _, d := range t.d.disbursements {
		if d.Reference == reference {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) GetDisbursementByGatewayReference(_ context.Context, gatewayRef string) (*models.Disbursement, error) {
	for _, d := range t.d.disbursements {
		if d.MonnifyReference != nil && *d.MonnifyReference == gatewayRef {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) UpdateDisbursement(_ context.Context, d *models.Disbursement) error {
	if _, ok := t.d.disbursements[d.ID]; !ok {
		return ErrNotFound
	}
	t.d.disbursements[d.ID] = *d
	return nil
}

func (t *memoryTx) CommittedDisbursements(_ context.Context, userID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, d := range t.d.disbursements {
		if d.UserID == userID && (d.Status == models.TransferPending || d.Status == models.TransferCompleted) {
			sum = sum.Add(d.Amount)
		}
	}
	return sum, nil
}

func (t *memoryTx) Earnings(_ context.Context, userID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, o := range t.d.orders {
		s, ok := t.d.stores[o.StoreID]
		if !ok || s.UserID != userID || o.IsDeleted() || o.PaymentStatus != models.PaymentPaid {
			continue
		}
		payout := o.Payout()
		for _, r := range t.d.refunds {
			if r.OrderID == o.ID && (r.Status == models.TransferPending || r.Status == models.TransferCompleted) {
				payout = payout.Sub(r.Amount)
			}
		}
		if payout.IsPositive() {
			sum = sum.Add(payout)
		}
	}
	return sum, nil
}

func (t *memoryTx) InsertBankAccount(_ context.Context, a *models.BankAccount) error {
	for _, existing := range t.d.bankAccounts {
		if existing.ID == a.ID || (existing.UserID == a.UserID && existing.AccountNumber == a.AccountNumber && existing.BankCode == a.BankCode) {
			return ErrDuplicateKey
		}
	}
	t.d.bankAccounts[a.ID] = *a
	return nil
}

func (t *memoryTx) GetBankAccount(_ context.Context, id string) (*models.BankAccount, error) {
	a, ok := t.d.bankAccounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memoryTx) ListBankAccounts(_ context.Context, userID string) ([]*models.BankAccount, error) {
	var out []*models.BankAccount
	for _, a := range t.d.bankAccounts {
		if a.UserID == userID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memoryTx) UpdateBankAccount(_ context.Context, a *models.BankAccount) error {
	if _, ok := t.d.bankAccounts[a.ID]; !ok {
		return ErrNotFound
	}
	t.d.bankAccounts[a.ID] = *a
	return nil
}

func (t *memoryTx) ClearPrimaryBankAccount(_ context.Context, userID string, now time.Time) error {
	for id, a := range t.d.bankAccounts {
		if a.UserID == userID && a.IsPrimary {
			a.IsPrimary = false
			a.UpdatedAt = now
			t.d.bankAccounts[id] = a
		}
	}
	return nil
}

func (t *memoryTx) DeleteBankAccount(_ context.Context, id string) error {
	if _, ok := t.d.bankAccounts[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.bankAccounts, id)
	return nil
}

func (t *memoryTx) InsertReview(_ context.Context, r *models.Review) error {
	r.ID = int64(len(t.d.reviews) + 1)
	t.d.reviews = append(t.d.reviews, *r)
	return nil
}

func (t *memoryTx) InsertOrderEvent(_ context.Context, e *models.OrderEvent) error {
	if _, ok := t.d.orderEvents[e.EventKey]; ok {
		return ErrDuplicateKey
	}
	e.ID = int64(len(t.d.orderEvents) + 1)
	t.d.orderEvents[e.EventKey] = *e
	return nil
}
