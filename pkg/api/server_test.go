package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agm-payments/pkg/models"
	"agm-payments/pkg/monnify"
	"agm-payments/pkg/reconcile"
	"agm-payments/pkg/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type stubGateway struct{}

func (stubGateway) InitiateTransaction(_ context.Context, req reconcile.TransactionRequest) (*reconcile.Checkout, error) {
	return &reconcile.Checkout{
		CheckoutURL:          "https://sandbox.monnify.test/checkout/" + req.Reference,
		TransactionReference: "MNFY|" + req.Reference,
	}, nil
}

func (stubGateway) VerifyTransaction(context.Context, string) (*reconcile.GatewayEvent, error) {
	return nil, errors.New("not supported")
}

func (stubGateway) InitiateRefund(context.Context, reconcile.RefundRequest) (string, error) {
	return "", nil
}

func (stubGateway) InitiateDisbursement(_ context.Context, req reconcile.DisbursementRequest) (string, error) {
	return "MFDS|" + req.Reference, nil
}

func (stubGateway) ValidateBankAccount(_ context.Context, accountNumber, _ string) (string, error) {
	if accountNumber == "0000000000" {
		return "", errors.New("account not found")
	}
	return "NGOZI ADEYEMI", nil
}

type testEnv struct {
	store  *store.Memory
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	opts := reconcile.Options{
		PaymentTTL:    time.Hour,
		LookupBackoff: time.Millisecond,
		WriteBackoff:  time.Millisecond,
	}
	gw := stubGateway{}
	srv := &Server{
		Payments:      reconcile.New(st, gw, opts),
		Refunds:       reconcile.NewRefundTracker(st, gw, opts),
		Disbursements: reconcile.NewDisbursementTracker(st, gw, opts),
		BankAccounts:  reconcile.NewBankAccounts(st, gw, opts),
		WebhookSecret: testSecret,
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{store: st, server: srv, http: ts}
}

func (e *testEnv) seedOrder(t *testing.T, id, total string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	order := &models.Order{
		ID:            id,
		StoreID:       "store-1",
		OrderNumber:   "AGM-" + id,
		CustomerName:  "Chidi Okafor",
		CustomerPhone: "08030000000",
		Subtotal:      decimal.RequireFromString(total),
		Total:         decimal.RequireFromString(total),
		Status:        models.OrderPending,
		PaymentStatus: models.PaymentPending,
	}
	order.Touch(now)
	require.NoError(t, e.store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.InsertStore(ctx, &models.Store{ID: "store-1", UserID: "user-1", Name: "Mama Put"})
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return err
		}
		return tx.InsertOrder(ctx, order)
	}))
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return e.send(t, req)
}

func (e *testEnv) webhook(t *testing.T, body string, signature string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/api/v1/webhooks/monnify", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(monnify.SignatureHeader, signature)
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func paymentWebhook(eventType, reference, amount string) string {
	return fmt.Sprintf(`{"eventType":%q,"eventData":{"paymentReference":%q,"transactionReference":"MNFY|%s",`+
		`"amountPaid":%s,"totalPayable":%s,"paymentMethod":"CARD","currency":"NGN"}}`,
		eventType, reference, reference, amount, amount)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(CorrelationHeader))
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(CorrelationHeader, "ABC123")
	resp, _ := env.send(t, req)
	assert.Equal(t, "ABC123", resp.Header.Get(CorrelationHeader))

	for _, forged := range []string{"abc123", "ABC123] injected", strings.Repeat("A", 200)} {
		req, err := http.NewRequest(http.MethodGet, env.http.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set(CorrelationHeader, forged)
		resp, _ := env.send(t, req)
		id := resp.Header.Get(CorrelationHeader)
		assert.NotEqual(t, forged, id)
		assert.Regexp(t, `^[A-Z0-9]{6}$`, id)
	}
}

func TestCheckoutThenWebhookConfirmsOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")

	resp, payment := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ref := payment["payment_reference"].(string)
	assert.Contains(t, payment["checkout_url"], ref)
	assert.Equal(t, "pending", payment["status"])

	body := paymentWebhook(monnify.EventSuccessfulTransaction, ref, "5000.00")
	for i := 0; i < 2; i++ {
		resp, out := env.webhook(t, body, monnify.Sign([]byte(body), testSecret))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "processed", out["status"])
	}

	resp, result := env.do(t, http.MethodGet, "/api/v1/payments/"+ref, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", result["order_status"])
	assert.Equal(t, "paid", result["order_payment_status"])
	assert.Equal(t, "paid", result["payment"].(map[string]interface{})["status"])
	assert.Equal(t, "card", result["payment"].(map[string]interface{})["payment_method"])
}

func TestWebhookSignatureIsCheckedFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")

	_, payment := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	ref := payment["payment_reference"].(string)
	body := paymentWebhook(monnify.EventSuccessfulTransaction, ref, "5000.00")

	resp, _ := env.webhook(t, body, monnify.Sign([]byte(body), "someone-else"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.webhook(t, body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, result := env.do(t, http.MethodGet, "/api/v1/payments/"+ref, nil)
	assert.Equal(t, "pending", result["order_payment_status"])
}

func TestWebhookWithoutSecret(t *testing.T) {
	env := newTestEnv(t)
	env.server.WebhookSecret = ""
	body := `{"eventType":"MANDATE_UPDATE","eventData":{}}`

	resp, out := env.webhook(t, body, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", out["status"])

	env.server.Production = true
	resp, _ = env.webhook(t, body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookOutcomes(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")
	_, payment := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	ref := payment["payment_reference"].(string)

	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{
			name:   "unknown reference is acknowledged",
			body:   paymentWebhook(monnify.EventSuccessfulTransaction, "PAY-UNKNOWN", "5000.00"),
			status: http.StatusOK,
			want:   "unknown_reference",
		},
		{
			name:   "amount mismatch is flagged",
			body:   paymentWebhook(monnify.EventSuccessfulTransaction, ref, "4500.00"),
			status: http.StatusOK,
			want:   "flagged_for_review",
		},
		{
			name:   "unsupported event is ignored",
			body:   `{"eventType":"SETTLEMENT","eventData":{}}`,
			status: http.StatusOK,
			want:   "ignored",
		},
		{
			name:   "malformed payload",
			body:   `{"eventType":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "event without reference",
			body:   `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"amountPaid":1}}`,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := env.webhook(t, tt.body, monnify.Sign([]byte(tt.body), testSecret))
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.want != "" {
				assert.Equal(t, tt.want, out["status"])
			}
		})
	}

	_, result := env.do(t, http.MethodGet, "/api/v1/payments/"+ref, nil)
	assert.Equal(t, "pending", result["payment"].(map[string]interface{})["status"], "mismatch leaves the payment pending")
	assert.Len(t, env.store.Reviews(), 1)
}

func TestPaymentErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")

	resp, out := env.do(t, http.MethodPost, "/api/v1/orders/missing/checkout", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, out["error"], "order not found")

	resp, _ = env.do(t, http.MethodGet, "/api/v1/payments/PAY-NOPE", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, payment := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	ref := payment["payment_reference"].(string)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/refunds", map[string]string{"amount": "100"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "refund requires a paid payment")

	body := paymentWebhook(monnify.EventSuccessfulTransaction, ref, "5000.00")
	env.webhook(t, body, monnify.Sign([]byte(body), testSecret))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/reinitialize", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "order already paid")

	resp, _ = env.do(t, http.MethodGet, "/api/v1/payments/verify/"+ref, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "gateway lookup failure")
}

func TestReinitializeExpiredPayment(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")

	_, first := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	ref := first["payment_reference"].(string)

	body := paymentWebhook(monnify.EventExpiredTransaction, ref, "5000.00")
	resp, _ := env.webhook(t, body, monnify.Sign([]byte(body), testSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, second := env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/reinitialize", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, ref, second["payment_reference"])
	assert.Equal(t, "pending", second["status"])
	assert.NotEmpty(t, second["checkout_url"])
}

func TestRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")
	_, payment := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	ref := payment["payment_reference"].(string)
	body := paymentWebhook(monnify.EventSuccessfulTransaction, ref, "5000.00")
	env.webhook(t, body, monnify.Sign([]byte(body), testSecret))

	resp, refund := env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/refunds", map[string]interface{}{"amount": 2000, "reason": "damaged"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "partial", refund["refund_type"])
	assert.Equal(t, "pending", refund["status"])

	resp, out := env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/refunds", map[string]interface{}{"amount": "3000.01"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, out["error"], "refund exceeds payment")

	resp, _ = env.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/refunds", map[string]interface{}{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	refundBody := fmt.Sprintf(`{"eventType":"SUCCESSFUL_REFUND","eventData":{"refundReference":%q,"refundAmount":2000,"refundStatus":"COMPLETED"}}`,
		refund["refund_reference"])
	resp, out = env.webhook(t, refundBody, monnify.Sign([]byte(refundBody), testSecret))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", out["status"])

	_, result := env.do(t, http.MethodGet, "/api/v1/payments/"+ref, nil)
	assert.Equal(t, "paid", result["order_payment_status"], "partial refund keeps the order paid")
}

func TestBankAccountsAndDisbursements(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "order-1", "5000.00")
	_, payment := env.do(t, http.MethodPost, "/api/v1/orders/order-1/checkout", nil)
	body := paymentWebhook(monnify.EventSuccessfulTransaction, payment["payment_reference"].(string), "5000.00")
	env.webhook(t, body, monnify.Sign([]byte(body), testSecret))

	resp, _ := env.do(t, http.MethodPost, "/api/v1/users/user-1/bank-accounts", map[string]string{
		"account_number": "12345", "bank_code": "058", "bank_name": "GTBank",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, account := env.do(t, http.MethodPost, "/api/v1/users/user-1/bank-accounts", map[string]string{
		"account_number": "0123456789", "account_name": "Ngozi A", "bank_code": "058", "bank_name": "GTBank",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	accountID := account["id"].(string)
	assert.Equal(t, true, account["is_primary"])
	assert.Equal(t, false, account["is_verified"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/user-1/bank-accounts", map[string]string{
		"account_number": "0123456789", "bank_code": "058", "bank_name": "GTBank",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	payout := map[string]interface{}{"user_id": "user-1", "bank_account_id": accountID, "amount": "3000"}
	resp, _ = env.do(t, http.MethodPost, "/api/v1/disbursements", payout)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "account not verified")

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/user-2/bank-accounts/"+accountID+"/verify", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, account = env.do(t, http.MethodPost, "/api/v1/users/user-1/bank-accounts/"+accountID+"/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, account["is_verified"])
	assert.Equal(t, "NGOZI ADEYEMI", account["account_name"])

	resp, d := env.do(t, http.MethodPost, "/api/v1/disbursements", payout)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", d["status"])

	payout["amount"] = "2000.01"
	resp, _ = env.do(t, http.MethodPost, "/api/v1/disbursements", payout)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "insufficient balance")

	resp, _ = env.do(t, http.MethodPost, "/api/v1/disbursements", map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, list := env.do(t, http.MethodGet, "/api/v1/users/user-1/bank-accounts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, list["total_count"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/user-1/bank-accounts/"+accountID+"/primary", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/users/user-1/bank-accounts/"+accountID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/users/user-1/bank-accounts/"+accountID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListBanks(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/api/v1/payments/banks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var banks []models.Bank
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&banks))
	assert.Contains(t, banks, models.Bank{Name: "Guaranty Trust Bank Plc (GTBank)", Code: "058"})
	for _, b := range banks {
		assert.NotEmpty(t, b.Code)
		assert.NotEqual(t, "unknown", b.Code)
	}
}

func TestResolveBankAccountStoresNothing(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/bank-accounts/resolve", map[string]string{
		"account_number": "0123456789",
		"bank_code":      "058",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NGOZI ADEYEMI", body["account_name"])
	assert.Equal(t, "0123456789", body["account_number"])
	assert.Equal(t, "Guaranty Trust Bank Plc (GTBank)", body["bank_name"])

	accounts, err := env.server.BankAccounts.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/bank-accounts/resolve", map[string]string{"account_number": "12345", "bank_code": "058"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/bank-accounts/resolve", map[string]string{"account_number": "0000000000", "bank_code": "058"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
