// Package monnify talks to the Monnify payment gateway: outbound API calls
// and inbound webhook verification.
package monnify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"agm-payments/pkg/config"
	"agm-payments/pkg/httpclient"
	"agm-payments/pkg/models"
	"agm-payments/pkg/reconcile"
	"agm-payments/pkg/utils"
)

const (
	loginPath           = "/api/v1/auth/login"
	initTransactionPath = "/api/v1/merchant/transactions/init-transaction"
	queryTransaction    = "/api/v2/merchant/transactions/query"
	initiateRefundPath  = "/api/v1/refunds/initiate-refund"
	disbursementPath    = "/api/v2/disbursements/single"
	validateAccountPath = "/api/v1/disbursements/account/validate"

	// Tokens live for five minutes unless Monnify says otherwise.
	defaultTokenTTL  = 5 * time.Minute
	tokenRefreshLead = time.Minute
)

// Client implements reconcile.Gateway against the Monnify REST API. It is
// safe for concurrent use; the bearer token is shared and refreshed lazily.
type Client struct {
	cfg  config.Monnify
	http *httpclient.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ reconcile.Gateway = (*Client)(nil)

func NewClient(cfg config.Monnify) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: httpclient.NewClient(timeout),
		now:  time.Now,
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.APIKey + ":" + c.cfg.SecretKey))
	var resp envelope[loginResponse]
	err := c.http.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+loginPath, nil,
		map[string]string{"Authorization": "Basic " + credentials}, &resp)
	if err != nil {
		return "", fmt.Errorf("monnify login failed: %w", err)
	}
	if !resp.RequestSuccessful || resp.ResponseBody.AccessToken == "" {
		return "", fmt.Errorf("monnify login failed: %w", &APIError{Code: resp.ResponseCode, Message: resp.ResponseMessage})
	}

	ttl := defaultTokenTTL
	if resp.ResponseBody.ExpiresIn > 0 {
		ttl = time.Duration(resp.ResponseBody.ExpiresIn) * time.Second
	}
	c.token = resp.ResponseBody.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenRefreshLead)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// call performs an authenticated request and unwraps the response envelope.
// A 401 drops the cached token and retries once.
func call[T any](ctx context.Context, c *Client, method, path string, payload interface{}) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return zero, err
		}

		var resp envelope[T]
		err = c.http.DoJSON(ctx, method, c.cfg.BaseURL+path, payload,
			map[string]string{"Authorization": "Bearer " + token}, &resp)

		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized && attempt == 0 {
			slog.Warn(utils.LogPrefix(ctx)+"Monnify token rejected, logging in again", "path", path)
			c.resetToken()
			continue
		}
		if err != nil {
			return zero, fmt.Errorf("monnify %s %s: %w", method, path, err)
		}
		if !resp.RequestSuccessful {
			return zero, &APIError{Code: resp.ResponseCode, Message: resp.ResponseMessage}
		}
		return resp.ResponseBody, nil
	}
}

func (c *Client) InitiateTransaction(ctx context.Context, req reconcile.TransactionRequest) (*reconcile.Checkout, error) {
	email := req.Customer.Email
	if email == "" {
		email = "customer@example.com"
	}
	currency := req.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	body, err := call[initTransactionResponse](ctx, c, http.MethodPost, initTransactionPath, initTransactionRequest{
		Amount:             amount(req.Amount),
		CustomerName:       req.Customer.Name,
		CustomerEmail:      email,
		PaymentReference:   req.Reference,
		PaymentDescription: req.Description,
		CurrencyCode:       currency,
		ContractCode:       c.cfg.ContractCode,
		RedirectURL:        c.cfg.RedirectURL,
		PaymentMethods:     []string{"CARD", "ACCOUNT_TRANSFER"},
	})
	if err != nil {
		return nil, err
	}

	slog.Info(utils.LogPrefix(ctx)+"Monnify transaction initialized", "reference", req.Reference, "transaction_reference", body.TransactionReference)
	return &reconcile.Checkout{
		CheckoutURL:          body.CheckoutURL,
		TransactionReference: body.TransactionReference,
	}, nil
}

// mapPaymentStatus translates Monnify's paymentStatus. Unknown values are
// treated as pending so they never close a payment.
func mapPaymentStatus(status string) reconcile.GatewayStatus {
	switch strings.ToUpper(status) {
	case "PAID", "OVERPAID":
		return reconcile.GatewaySuccess
	case "FAILED", "CANCELLED", "REVERSED":
		return reconcile.GatewayFailed
	case "EXPIRED":
		return reconcile.GatewayExpired
	default:
		return reconcile.GatewayPending
	}
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*reconcile.GatewayEvent, error) {
	path := queryTransaction + "?paymentReference=" + url.QueryEscape(reference)
	body, err := call[transactionStatus](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	status := mapPaymentStatus(body.PaymentStatus)
	paid := body.AmountPaid
	if status != reconcile.GatewaySuccess {
		paid = body.TotalPayable
	}
	currency := body.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	return &reconcile.GatewayEvent{
		Kind:             reconcile.KindPayment,
		Reference:        firstNonEmpty(body.PaymentReference, reference),
		GatewayReference: body.TransactionReference,
		Status:           status,
		Amount:           paid,
		Currency:         currency,
		PaymentMethod:    body.PaymentMethod,
	}, nil
}

// InitiateRefund submits a refund. Monnify identifies refunds by our own
// reference, so no separate gateway reference is returned.
func (c *Client) InitiateRefund(ctx context.Context, req reconcile.RefundRequest) (string, error) {
	reason := req.Reason
	if reason == "" {
		reason = "Customer refund"
	}
	body, err := call[refundResponse](ctx, c, http.MethodPost, initiateRefundPath, refundRequest{
		TransactionReference: req.TransactionReference,
		RefundReference:      req.Reference,
		RefundAmount:         amount(req.Amount),
		RefundReason:         reason,
	})
	if err != nil {
		return "", err
	}
	if strings.EqualFold(body.RefundStatus, "FAILED") {
		return "", &APIError{Code: "REFUND_FAILED", Message: "refund rejected by gateway"}
	}
	return "", nil
}

func (c *Client) InitiateDisbursement(ctx context.Context, req reconcile.DisbursementRequest) (string, error) {
	currency := req.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	body, err := call[disbursementResponse](ctx, c, http.MethodPost, disbursementPath, disbursementRequest{
		Amount:                   amount(req.Amount),
		Reference:                req.Reference,
		Narration:                req.Narration,
		DestinationBankCode:      req.BankCode,
		DestinationAccountNumber: req.AccountNumber,
		Currency:                 currency,
		SourceAccountNumber:      c.cfg.SourceAccount,
	})
	if err != nil {
		return "", err
	}
	if strings.EqualFold(body.Status, "FAILED") {
		return "", &APIError{Code: "DISBURSEMENT_FAILED", Message: "disbursement rejected by gateway"}
	}
	return body.TransactionReference, nil
}

func (c *Client) ValidateBankAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	q := url.Values{}
	q.Set("accountNumber", accountNumber)
	q.Set("bankCode", bankCode)
	body, err := call[accountValidation](ctx, c, http.MethodGet, validateAccountPath+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	return body.AccountName, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
