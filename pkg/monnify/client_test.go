package monnify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agm-payments/pkg/config"
	"agm-payments/pkg/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMonnify struct {
	logins     atomic.Int32
	rejectNext atomic.Bool

	mu          sync.Mutex
	lastInit    map[string]interface{}
	queryStatus string
}

func (f *fakeMonnify) setStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryStatus = status
}

func (f *fakeMonnify) status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryStatus
}

func (f *fakeMonnify) initBody() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInit
}

func (f *fakeMonnify) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.logins.Add(1)
		writeJSON(w, map[string]interface{}{
			"requestSuccessful": true,
			"responseBody":      map[string]interface{}{"accessToken": "token-" + string(rune('0'+n)), "expiresIn": 300},
		})
	})

	authorized := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if f.rejectNext.CompareAndSwap(true, false) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if len(r.Header.Get("Authorization")) < len("Bearer token-") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/api/v1/merchant/transactions/init-transaction", authorized(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastInit = body
		f.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"requestSuccessful": true,
			"responseBody": map[string]interface{}{
				"transactionReference": "MNFY|20260302|000001",
				"paymentReference":     body["paymentReference"],
				"checkoutUrl":          "https://sandbox.sdk.monnify.com/checkout/MNFY|20260302|000001",
			},
		})
	}))

	mux.HandleFunc("/api/v2/merchant/transactions/query", authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"requestSuccessful": true,
			"responseBody": map[string]interface{}{
				"transactionReference": "MNFY|20260302|000001",
				"paymentReference":     r.URL.Query().Get("paymentReference"),
				"amountPaid":           4999.5,
				"totalPayable":         5000,
				"paymentStatus":        f.status(),
				"paymentMethod":        "ACCOUNT_TRANSFER",
				"currency":             "NGN",
			},
		})
	}))

	mux.HandleFunc("/api/v1/disbursements/account/validate", authorized(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("accountNumber") == "0000000000" {
			writeJSON(w, map[string]interface{}{"requestSuccessful": false, "responseCode": "99", "responseMessage": "Account not found"})
			return
		}
		writeJSON(w, map[string]interface{}{
			"requestSuccessful": true,
			"responseBody":      map[string]interface{}{"accountNumber": r.URL.Query().Get("accountNumber"), "accountName": "NGOZI ADEYEMI", "bankCode": "058"},
		})
	}))

	mux.HandleFunc("/api/v2/disbursements/single", authorized(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, map[string]interface{}{
			"requestSuccessful": true,
			"responseBody":      map[string]interface{}{"reference": body["reference"], "status": "PENDING", "transactionReference": "MFDS|" + body["reference"].(string)},
		})
	}))

	mux.HandleFunc("/api/v1/refunds/initiate-refund", authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"requestSuccessful": true,
			"responseBody":      map[string]interface{}{"refundStatus": "IN_PROGRESS"},
		})
	}))

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*Client, *fakeMonnify) {
	t.Helper()
	fake := &fakeMonnify{queryStatus: "PAID"}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(config.Monnify{
		BaseURL:      srv.URL + "/",
		APIKey:       "key",
		SecretKey:    "secret",
		ContractCode: "7059707855",
		Timeout:      2 * time.Second,
	})
	return c, fake
}

func TestInitiateTransaction(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	checkout, err := c.InitiateTransaction(ctx, reconcile.TransactionRequest{
		Reference:   "PAY-0192F3A1-K7Q2M9XZ",
		Amount:      decimal.RequireFromString("5000"),
		Currency:    "NGN",
		Description: "Payment for order AGM-1001",
		Customer:    reconcile.Customer{Name: "Chidi Okafor"},
	})
	require.NoError(t, err)

	assert.Equal(t, "MNFY|20260302|000001", checkout.TransactionReference)
	assert.Contains(t, checkout.CheckoutURL, "checkout")
	body := fake.initBody()
	assert.Equal(t, 5000.0, body["amount"], "amount is sent as a JSON number")
	assert.Equal(t, "7059707855", body["contractCode"])
	assert.Equal(t, "customer@example.com", body["customerEmail"])
}

func TestAccessTokenIsCached(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.ValidateBankAccount(ctx, "0123456789", "058")
	require.NoError(t, err)
	_, err = c.ValidateBankAccount(ctx, "0123456789", "058")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.logins.Load())

	now = now.Add(4*time.Minute + time.Second)
	_, err = c.ValidateBankAccount(ctx, "0123456789", "058")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.logins.Load(), "token refreshed a minute before expiry")

	fake.rejectNext.Store(true)
	name, err := c.ValidateBankAccount(ctx, "0123456789", "058")
	require.NoError(t, err)
	assert.Equal(t, "NGOZI ADEYEMI", name)
	assert.Equal(t, int32(3), fake.logins.Load(), "401 forces a fresh login")
}

func TestLoginFailure(t *testing.T) {
	c, _ := newTestClient(t)
	c.cfg.SecretKey = "wrong"

	_, err := c.ValidateBankAccount(context.Background(), "0123456789", "058")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monnify login failed")
}

func TestVerifyTransaction(t *testing.T) {
	tests := []struct {
		status string
		want   reconcile.GatewayStatus
		amount string
	}{
		{status: "PAID", want: reconcile.GatewaySuccess, amount: "4999.5"},
		{status: "OVERPAID", want: reconcile.GatewaySuccess, amount: "4999.5"},
		{status: "PENDING", want: reconcile.GatewayPending, amount: "5000"},
		{status: "PARTIALLY_PAID", want: reconcile.GatewayPending, amount: "5000"},
		{status: "FAILED", want: reconcile.GatewayFailed, amount: "5000"},
		{status: "EXPIRED", want: reconcile.GatewayExpired, amount: "5000"},
		{status: "SOMETHING_NEW", want: reconcile.GatewayPending, amount: "5000"},
	}

	c, fake := newTestClient(t)
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			fake.setStatus(tt.status)
			ev, err := c.VerifyTransaction(context.Background(), "PAY-0192F3A1-K7Q2M9XZ")
			require.NoError(t, err)

			assert.Equal(t, reconcile.KindPayment, ev.Kind)
			assert.Equal(t, tt.want, ev.Status)
			assert.Equal(t, "PAY-0192F3A1-K7Q2M9XZ", ev.Reference)
			assert.Equal(t, "MNFY|20260302|000001", ev.GatewayReference)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(ev.Amount), "amount %s", ev.Amount)
		})
	}
}

func TestValidateBankAccountRejected(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.ValidateBankAccount(context.Background(), "0000000000", "058")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Account not found", apiErr.Message)
}

func TestInitiateDisbursementAndRefund(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	ref, err := c.InitiateDisbursement(ctx, reconcile.DisbursementRequest{
		Reference:     "DSB-0192F3A1-ABCDEFGH",
		Amount:        decimal.RequireFromString("3000"),
		AccountNumber: "0123456789",
		BankCode:      "058",
	})
	require.NoError(t, err)
	assert.Equal(t, "MFDS|DSB-0192F3A1-ABCDEFGH", ref)

	ref, err = c.InitiateRefund(ctx, reconcile.RefundRequest{
		Reference:            "RFD-0192F3A1-ABCDEFGH",
		TransactionReference: "MNFY|20260302|000001",
		Amount:               decimal.RequireFromString("2000"),
	})
	require.NoError(t, err)
	assert.Empty(t, ref)
}
