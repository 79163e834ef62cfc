package monnify

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// envelope is the wrapper Monnify puts around every API response.
type envelope[T any] struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseCode      string `json:"responseCode"`
	ResponseBody      T      `json:"responseBody"`
}

// APIError is returned when Monnify answers with requestSuccessful=false.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("monnify error %s: %s", e.Code, e.Message)
}

// amount renders a decimal as a JSON number, which is what Monnify expects.
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

type initTransactionRequest struct {
	Amount             json.Number `json:"amount"`
	CustomerName       string      `json:"customerName"`
	CustomerEmail      string      `json:"customerEmail"`
	PaymentReference   string      `json:"paymentReference"`
	PaymentDescription string      `json:"paymentDescription"`
	CurrencyCode       string      `json:"currencyCode"`
	ContractCode       string      `json:"contractCode"`
	RedirectURL        string      `json:"redirectUrl,omitempty"`
	PaymentMethods     []string    `json:"paymentMethods"`
}

type initTransactionResponse struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

type transactionStatus struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	PaymentStatus        string          `json:"paymentStatus"`
	PaymentMethod        string          `json:"paymentMethod"`
	Currency             string          `json:"currency"`
}

type refundRequest struct {
	TransactionReference string      `json:"transactionReference"`
	RefundReference      string      `json:"refundReference"`
	RefundAmount         json.Number `json:"refundAmount"`
	RefundReason         string      `json:"refundReason"`
	CustomerNote         string      `json:"customerNote,omitempty"`
}

type refundResponse struct {
	RefundReference string `json:"refundReference"`
	RefundStatus    string `json:"refundStatus"`
}

type disbursementRequest struct {
	Amount                   json.Number `json:"amount"`
	Reference                string      `json:"reference"`
	Narration                string      `json:"narration"`
	DestinationBankCode      string      `json:"destinationBankCode"`
	DestinationAccountNumber string      `json:"destinationAccountNumber"`
	Currency                 string      `json:"currency"`
	SourceAccountNumber      string      `json:"sourceAccountNumber"`
}

type disbursementResponse struct {
	Reference            string `json:"reference"`
	Status               string `json:"status"`
	TransactionReference string `json:"transactionReference"`
}

type accountValidation struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankCode      string `json:"bankCode"`
}
