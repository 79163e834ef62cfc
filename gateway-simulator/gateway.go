package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"agm-payments/pkg/httpclient"
	"agm-payments/pkg/models"
	"agm-payments/pkg/monnify"
	"agm-payments/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
)

// Odds are the outcome percentages applied to simulated requests.
type Odds struct {
	Fail      int
	Expire    int
	Underpay  int
	Duplicate int
}

type transaction struct {
	PaymentReference     string
	TransactionReference string
	Amount               decimal.Decimal
	Currency             string
	Status               string
	Method               string
	PaidAmount           decimal.Decimal
}

// Gateway mimics the parts of the Monnify API the payment service calls and
// settles every accepted request later through a signed webhook.
type Gateway struct {
	webhookURL string
	secret     string
	delay      time.Duration
	odds       Odds
	client     *httpclient.Client

	mu           sync.Mutex
	rng          *rand.Rand
	transactions map[string]*transaction
	wg           sync.WaitGroup
}

func NewGateway(webhookURL, secret string, delay time.Duration, odds Odds) *Gateway {
	return &Gateway{
		webhookURL:   webhookURL,
		secret:       secret,
		delay:        delay,
		odds:         odds,
		client:       httpclient.NewClient(10 * time.Second),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		transactions: make(map[string]*transaction),
	}
}

type envelope struct {
	RequestSuccessful bool        `json:"requestSuccessful"`
	ResponseMessage   string      `json:"responseMessage"`
	ResponseCode      string      `json:"responseCode"`
	ResponseBody      interface{} `json:"responseBody,omitempty"`
}

func ok(w http.ResponseWriter, r *http.Request, body interface{}) {
	render.JSON(w, r, envelope{RequestSuccessful: true, ResponseMessage: "success", ResponseCode: "0", ResponseBody: body})
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, envelope{ResponseMessage: message, ResponseCode: code})
}

func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Post("/api/v1/auth/login", g.login)
	r.Group(func(r chi.Router) {
		r.Use(bearerOnly)
		r.Post("/api/v1/merchant/transactions/init-transaction", g.initTransaction)
		r.Get("/api/v2/merchant/transactions/query", g.queryTransaction)
		r.Post("/api/v1/refunds/initiate-refund", g.initiateRefund)
		r.Post("/api/v2/disbursements/single", g.disbursement)
		r.Get("/api/v1/disbursements/account/validate", g.validateAccount)
	})
	return r
}

func bearerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer sim-") {
			reject(w, r, http.StatusUnauthorized, "99", "invalid access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		reject(w, r, http.StatusUnauthorized, "99", "missing credentials")
		return
	}
	ok(w, r, map[string]interface{}{"accessToken": "sim-" + utils.GenerateCorrelationID(), "expiresIn": 3600})
}

func (g *Gateway) roll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(100)
}

func (g *Gateway) initTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount           decimal.Decimal `json:"amount"`
		PaymentReference string          `json:"paymentReference"`
		CurrencyCode     string          `json:"currencyCode"`
		PaymentMethods   []string        `json:"paymentMethods"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.PaymentReference == "" || !req.Amount.IsPositive() {
		reject(w, r, http.StatusBadRequest, "D01", "invalid transaction request")
		return
	}

	g.mu.Lock()
	if _, exists := g.transactions[req.PaymentReference]; exists {
		g.mu.Unlock()
		reject(w, r, http.StatusBadRequest, "D02", "duplicate payment reference")
		return
	}
	tx := &transaction{
		PaymentReference:     req.PaymentReference,
		TransactionReference: "MNFY|SIM|" + strings.ToUpper(utils.GenerateCorrelationID()),
		Amount:               req.Amount,
		Currency:             req.CurrencyCode,
		Status:               "PENDING",
	}
	if tx.Currency == "" {
		tx.Currency = models.DefaultCurrency
	}
	g.transactions[tx.PaymentReference] = tx
	g.mu.Unlock()

	slog.Info("Transaction initialized", "payment_reference", tx.PaymentReference, "amount", tx.Amount.StringFixed(2))
	g.later(func() { g.settleTransaction(tx.PaymentReference) })

	ok(w, r, map[string]string{
		"transactionReference": tx.TransactionReference,
		"paymentReference":     tx.PaymentReference,
		"checkoutUrl":          "http://" + r.Host + "/checkout/" + tx.PaymentReference,
	})
}

// settleTransaction decides the fate of a pending transaction and notifies
// the merchant.
func (g *Gateway) settleTransaction(reference string) {
	chance := g.roll()

	g.mu.Lock()
	tx := g.transactions[reference]
	event := monnify.EventSuccessfulTransaction
	switch {
	case chance < g.odds.Fail:
		tx.Status, event = "FAILED", monnify.EventFailedTransaction
	case chance < g.odds.Fail+g.odds.Expire:
		tx.Status, event = "EXPIRED", monnify.EventExpiredTransaction
	case chance < g.odds.Fail+g.odds.Expire+g.odds.Underpay:
		tx.Status = "PAID"
		tx.PaidAmount = tx.Amount.Sub(decimal.NewFromInt(100))
	default:
		tx.Status = "PAID"
		tx.PaidAmount = tx.Amount
	}
	if tx.Status == "PAID" {
		tx.Method = "ACCOUNT_TRANSFER"
		if g.rng.Intn(2) == 0 {
			tx.Method = "CARD"
		}
	}
	data := monnify.EventData{
		TransactionReference: tx.TransactionReference,
		PaymentReference:     tx.PaymentReference,
		AmountPaid:           tx.PaidAmount,
		TotalPayable:         tx.Amount,
		PaymentStatus:        tx.Status,
		PaymentMethod:        tx.Method,
		Currency:             tx.Currency,
	}
	g.mu.Unlock()

	g.notify(&monnify.Webhook{EventType: event, EventData: data})
}

func (g *Gateway) queryTransaction(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("paymentReference")
	g.mu.Lock()
	tx, found := g.transactions[reference]
	var snapshot transaction
	if found {
		snapshot = *tx
	}
	g.mu.Unlock()

	if !found {
		reject(w, r, http.StatusNotFound, "99", "transaction not found")
		return
	}
	ok(w, r, map[string]interface{}{
		"transactionReference": snapshot.TransactionReference,
		"paymentReference":     snapshot.PaymentReference,
		"amountPaid":           snapshot.PaidAmount,
		"totalPayable":         snapshot.Amount,
		"paymentStatus":        snapshot.Status,
		"paymentMethod":        snapshot.Method,
		"currency":             snapshot.Currency,
	})
}

func (g *Gateway) initiateRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionReference string          `json:"transactionReference"`
		RefundReference      string          `json:"refundReference"`
		RefundAmount         decimal.Decimal `json:"refundAmount"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.RefundReference == "" {
		reject(w, r, http.StatusBadRequest, "R01", "invalid refund request")
		return
	}

	slog.Info("Refund accepted", "refund_reference", req.RefundReference, "amount", req.RefundAmount.StringFixed(2))
	g.later(func() {
		data := monnify.EventData{
			TransactionReference: req.TransactionReference,
			RefundReference:      req.RefundReference,
			RefundAmount:         req.RefundAmount,
			RefundStatus:         "COMPLETED",
			Currency:             models.DefaultCurrency,
		}
		event := monnify.EventSuccessfulRefund
		if g.roll() < g.odds.Fail {
			event, data.RefundStatus, data.ResponseMessage = monnify.EventFailedRefund, "FAILED", "Refund declined by issuer"
		}
		g.notify(&monnify.Webhook{EventType: event, EventData: data})
	})
	ok(w, r, map[string]string{"refundReference": req.RefundReference, "refundStatus": "IN_PROGRESS"})
}

func (g *Gateway) disbursement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Reference string          `json:"reference"`
		Currency  string          `json:"currency"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Reference == "" {
		reject(w, r, http.StatusBadRequest, "T01", "invalid disbursement request")
		return
	}

	transactionReference := "MFDS|SIM|" + strings.ToUpper(utils.GenerateCorrelationID())
	slog.Info("Disbursement accepted", "reference", req.Reference, "amount", req.Amount.StringFixed(2))
	g.later(func() {
		data := monnify.EventData{
			Reference:            req.Reference,
			TransactionReference: transactionReference,
			Amount:               req.Amount,
			Status:               "SUCCESS",
			Currency:             models.DefaultCurrency,
		}
		event := monnify.EventSuccessfulDisbursement
		if g.roll() < g.odds.Fail {
			event, data.Status, data.ResponseMessage = monnify.EventFailedDisbursement, "FAILED", "Beneficiary bank unavailable"
		}
		g.notify(&monnify.Webhook{EventType: event, EventData: data})
	})
	ok(w, r, map[string]string{"reference": req.Reference, "status": "PENDING", "transactionReference": transactionReference})
}

func (g *Gateway) validateAccount(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("accountNumber")
	bankCode := r.URL.Query().Get("bankCode")
	if len(number) != 10 || strings.HasPrefix(number, "000") {
		reject(w, r, http.StatusBadRequest, "99", "could not resolve account")
		return
	}
	ok(w, r, map[string]string{"accountNumber": number, "accountName": "SIMULATED HOLDER " + number[6:], "bankCode": bankCode})
}

func (g *Gateway) later(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		time.Sleep(g.delay)
		fn()
	}()
}

// notify posts the webhook, occasionally twice, the way a retrying gateway
// would.
func (g *Gateway) notify(hook *monnify.Webhook) {
	body, err := hook.Marshal()
	if err != nil {
		slog.Error("Failed to encode webhook", "error", err)
		return
	}

	deliveries := 1
	if g.roll() < g.odds.Duplicate {
		deliveries = 2
	}
	headers := map[string]string{monnify.SignatureHeader: monnify.Sign(body, g.secret)}
	for i := 1; i <= deliveries; i++ {
		resp, err := g.client.Send(context.Background(), http.MethodPost, g.webhookURL, json.RawMessage(body), headers)
		if err != nil {
			slog.Warn("Webhook delivery failed", "event", hook.EventType, "delivery", i, "error", err)
			continue
		}
		resp.Body.Close()
		slog.Info("Webhook delivered", "event", hook.EventType, "delivery", i, "status", resp.StatusCode)
	}
}

// Wait blocks until every scheduled webhook has been attempted.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
