package models

import "github.com/shopspring/decimal"

type Disbursement struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           TransferStatus  `json:"status"`
	Reference        string          `json:"reference"`
	MonnifyReference *string         `json:"monnify_reference,omitempty"`
	AccountNumber    string          `json:"account_number"`
	AccountName      string          `json:"account_name"`
	BankCode         string          `json:"bank_code"`
	BankName         string          `json:"bank_name"`
	Narration        string          `json:"narration,omitempty"`
	Lifecycle
	Timestamps
}

type BankAccount struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	IsVerified    bool   `json:"is_verified"`
	IsPrimary     bool   `json:"is_primary"`
	Timestamps
}
