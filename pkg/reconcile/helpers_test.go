package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agm-payments/pkg/events"
	"agm-payments/pkg/models"
	"agm-payments/pkg/store"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeGateway struct {
	mu            sync.Mutex
	checkoutErr   error
	refundErr     error
	disburseErr   error
	accountName   string
	verify        map[string]*GatewayEvent
	transactions  []TransactionRequest
	refunds       []RefundRequest
	disbursements []DisbursementRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{accountName: "ADA LOVELACE", verify: map[string]*GatewayEvent{}}
}

func (g *fakeGateway) InitiateTransaction(_ context.Context, req TransactionRequest) (*Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.transactions = append(g.transactions, req)
	return &Checkout{
		CheckoutURL:          "https://sandbox.monnify.test/checkout/" + req.Reference,
		TransactionReference: "MNFY|TX|" + req.Reference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*GatewayEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.verify[reference]
	if !ok {
		return nil, errors.New("transaction not found")
	}
	out := *ev
	return &out, nil
}

func (g *fakeGateway) InitiateRefund(_ context.Context, req RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return "MNFY|RF|" + req.Reference, nil
}

func (g *fakeGateway) InitiateDisbursement(_ context.Context, req DisbursementRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disburseErr != nil {
		return "", g.disburseErr
	}
	g.disbursements = append(g.disbursements, req)
	return "MNFY|DS|" + req.Reference, nil
}

func (g *fakeGateway) ValidateBankAccount(_ context.Context, accountNumber, bankCode string) (string, error) {
	if accountNumber == "0000000000" {
		return "", errors.New("account not found")
	}
	return g.accountName, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// flakyStore fails the first failures transactions with a deadlock.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	}
	return f.Store.WithTx(ctx, fn)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     *store.Memory
	gateway   *fakeGateway
	publisher *recordingPublisher
	clock     *clock
	opts      Options
}

func newFixture() *fixture {
	f := &fixture{
		store:     store.NewMemory(),
		gateway:   newFakeGateway(),
		publisher: &recordingPublisher{},
		clock:     newClock(),
	}
	f.opts = Options{
		PaymentTTL:    time.Hour,
		LookupRetries: 1,
		LookupBackoff: time.Millisecond,
		WriteRetries:  2,
		WriteBackoff:  time.Millisecond,
		Publisher:     f.publisher,
		Now:           f.clock.Now,
	}
	return f
}

func (f *fixture) reconciler() *Reconciler {
	return New(f.store, f.gateway, f.opts)
}

func (f *fixture) seedOrder(t *testing.T, id, total string) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := &models.Order{
		ID:            id,
		StoreID:       "store-1",
		OrderNumber:   "AGM-" + id,
		CustomerName:  "Chidi Okafor",
		CustomerEmail: "chidi@example.com",
		Subtotal:      dec(total),
		Total:         dec(total),
		Status:        models.OrderPending,
		PaymentStatus: models.PaymentPending,
	}
	order.Touch(f.clock.Now())
	require.NoError(t, order.Validate())

	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.InsertStore(ctx, &models.Store{ID: "store-1", UserID: "user-1", Name: "Mama Put"})
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return err
		}
		return tx.InsertOrder(ctx, order)
	}))
	return order
}

func (f *fixture) order(t *testing.T, id string) *models.Order {
	t.Helper()
	var order *models.Order
	require.NoError(t, f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(context.Background(), id)
		return err
	}))
	return order
}

func (f *fixture) payment(t *testing.T, reference string) *models.Payment {
	t.Helper()
	var payment *models.Payment
	require.NoError(t, f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		payment, err = tx.GetPaymentByReference(context.Background(), reference)
		return err
	}))
	return payment
}

func (f *fixture) pendingPayments(t *testing.T, orderID string) int {
	t.Helper()
	n := 0
	require.NoError(t, f.store.WithTx(context.Background(), func(tx store.Tx) error {
		payments, err := tx.ListPaymentsByOrder(context.Background(), orderID)
		for _, p := range payments {
			if p.Status == models.PaymentPending {
				n++
			}
		}
		return err
	}))
	return n
}

// pay records a payment for the order and settles it through a success event.
func (f *fixture) pay(t *testing.T, r *Reconciler, orderID, amount string) *models.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := r.RecordInitiation(ctx, orderID, dec(amount), "NGN")
	require.NoError(t, err)
	_, err = r.ApplyGatewayEvent(ctx, GatewayEvent{
		Kind:             KindPayment,
		Reference:        p.PaymentReference,
		GatewayReference: "MNFY|" + p.PaymentReference,
		Status:           GatewaySuccess,
		Amount:           dec(amount),
		Currency:         "NGN",
	})
	require.NoError(t, err)
	return f.payment(t, p.PaymentReference)
}

// tracingStore records, per transaction, which kinds of rows were locked and
// in what order. mutateOrder, when set, edits every order read through it.
type tracingStore struct {
	store.Store
	mu          sync.Mutex
	txs         [][]string
	mutateOrder func(*models.Order)
}

func (s *tracingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	s.txs = append(s.txs, nil)
	idx := len(s.txs) - 1
	s.mu.Unlock()
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&tracingTx{Tx: tx, store: s, idx: idx})
	})
}

func (s *tracingStore) record(idx int, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[idx] = append(s.txs[idx], kind)
}

// mixedTxs returns the lock sequences of transactions that touched both an
// order and a payment.
func (s *tracingStore) mixedTxs() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]string
	for _, locks := range s.txs {
		var order, payment bool
		for _, kind := range locks {
			order = order || kind == "order"
			payment = payment || kind == "payment"
		}
		if order && payment {
			out = append(out, locks)
		}
	}
	return out
}

type tracingTx struct {
	store.Tx
	store *tracingStore
	idx   int
}

func (t *tracingTx) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	t.store.record(t.idx, "order")
	o, err := t.Tx.GetOrder(ctx, id)
	if err == nil && t.store.mutateOrder != nil {
		t.store.mutateOrder(o)
	}
	return o, err
}

func (t *tracingTx) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	t.store.record(t.idx, "payment")
	return t.Tx.GetPayment(ctx, id)
}

func (t *tracingTx) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	t.store.record(t.idx, "payment")
	return t.Tx.GetPaymentByReference(ctx, reference)
}

func (t *tracingTx) GetPaymentByGatewayReference(ctx context.Context, gatewayRef string) (*models.Payment, error) {
	t.store.record(t.idx, "payment")
	return t.Tx.GetPaymentByGatewayReference(ctx, gatewayRef)
}

func (t *tracingTx) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*models.Payment, error) {
	t.store.record(t.idx, "payment")
	return t.Tx.ListPaymentsByOrder(ctx, orderID)
}
