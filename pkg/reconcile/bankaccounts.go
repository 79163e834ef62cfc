package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agm-payments/pkg/models"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"
)

// BankAccountInput is what a user submits when adding a payout account.
type BankAccountInput struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

func (in BankAccountInput) validate() error {
	if len(in.AccountNumber) != 10 || strings.Trim(in.AccountNumber, "0123456789") != "" {
		return fmt.Errorf("%w: account number must be 10 digits", ErrInvalidBankAccount)
	}
	if in.BankCode == "" {
		return fmt.Errorf("%w: bank code is required", ErrInvalidBankAccount)
	}
	return nil
}

// BankAccounts manages the payout accounts disbursements are sent to.
type BankAccounts struct {
	base
}

func NewBankAccounts(st store.Store, gw Gateway, opts Options) *BankAccounts {
	return &BankAccounts{base: newBase(st, gw, opts)}
}

// Add stores a new unverified account. The first account of a user becomes primary.
func (b *BankAccounts) Add(ctx context.Context, userID string, in BankAccountInput) (*models.BankAccount, error) {
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.BankCode = strings.TrimSpace(in.BankCode)
	if err := in.validate(); err != nil {
		return nil, err
	}

	var account *models.BankAccount
	err := b.inTx(ctx, func(tx store.Tx) error {
		existing, err := tx.ListBankAccounts(ctx, userID)
		if err != nil {
			return err
		}

		now := b.now()
		account = &models.BankAccount{
			ID:            newID(),
			UserID:        userID,
			AccountNumber: in.AccountNumber,
			AccountName:   strings.TrimSpace(in.AccountName),
			BankCode:      in.BankCode,
			BankName:      strings.TrimSpace(in.BankName),
			IsPrimary:     len(existing) == 0,
		}
		account.Touch(now)

		err = tx.InsertBankAccount(ctx, account)
		if errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s at %s", ErrBankAccountExists, in.AccountNumber, in.BankCode)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info(utils.LogPrefix(ctx)+"Bank account added", "user_id", userID, "account_id", account.ID, "primary", account.IsPrimary)
	return account, nil
}

func (b *BankAccounts) List(ctx context.Context, userID string) ([]*models.BankAccount, error) {
	var accounts []*models.BankAccount
	err := b.inTx(ctx, func(tx store.Tx) error {
		var err error
		accounts, err = tx.ListBankAccounts(ctx, userID)
		return err
	})
	return accounts, err
}

// owned loads an account and checks it belongs to userID.
func owned(ctx context.Context, tx store.Tx, userID, accountID string) (*models.BankAccount, error) {
	account, err := tx.GetBankAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBankAccountNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrBankAccountNotOwned, accountID)
	}
	return account, nil
}

func (b *BankAccounts) SetPrimary(ctx context.Context, userID, accountID string) (*models.BankAccount, error) {
	var account *models.BankAccount
	err := b.inTx(ctx, func(tx store.Tx) error {
		var err error
		account, err = owned(ctx, tx, userID, accountID)
		if err != nil {
			return err
		}
		if account.IsPrimary {
			return nil
		}
		now := b.now()
		if err := tx.ClearPrimaryBankAccount(ctx, userID, now); err != nil {
			return err
		}
		account.IsPrimary = true
		account.Touch(now)
		return tx.UpdateBankAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Delete removes an account. When the primary account goes, the oldest
// remaining account takes its place.
func (b *BankAccounts) Delete(ctx context.Context, userID, accountID string) error {
	err := b.inTx(ctx, func(tx store.Tx) error {
		account, err := owned(ctx, tx, userID, accountID)
		if err != nil {
			return err
		}
		if err := tx.DeleteBankAccount(ctx, account.ID); err != nil {
			return err
		}
		if !account.IsPrimary {
			return nil
		}

		remaining, err := tx.ListBankAccounts(ctx, userID)
		if err != nil || len(remaining) == 0 {
			return err
		}
		next := remaining[0]
		for _, a := range remaining[1:] {
			if a.CreatedAt.Before(next.CreatedAt) {
				next = a
			}
		}
		next.IsPrimary = true
		next.Touch(b.now())
		return tx.UpdateBankAccount(ctx, next)
	})
	if err != nil {
		return err
	}

	slog.Info(utils.LogPrefix(ctx)+"Bank account deleted", "user_id", userID, "account_id", accountID)
	return nil
}

// ResolvedAccount is the gateway's view of an account number, not yet stored.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

// Resolve looks up the holder's name for an account without storing anything,
// so users can confirm it before adding the account.
func (b *BankAccounts) Resolve(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	in := BankAccountInput{AccountNumber: strings.TrimSpace(accountNumber), BankCode: strings.TrimSpace(bankCode)}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if b.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	name, err := b.gateway.ValidateBankAccount(ctx, in.AccountNumber, in.BankCode)
	if err != nil {
		slog.Warn(utils.LogPrefix(ctx)+"Bank account lookup failed", "bank_code", in.BankCode, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: gateway returned no account name", ErrGatewayRejected)
	}
	return &ResolvedAccount{
		AccountNumber: in.AccountNumber,
		AccountName:   name,
		BankCode:      in.BankCode,
		BankName:      models.BankName(in.BankCode),
	}, nil
}

// Verify resolves the account holder's name with the gateway. The resolved
// name replaces whatever the user entered.
func (b *BankAccounts) Verify(ctx context.Context, userID, accountID string) (*models.BankAccount, error) {
	ctx = utils.EnsureCorrelationID(ctx)
	if b.gateway == nil {
		return nil, ErrGatewayUnavailable
	}
	prefix := utils.LogPrefix(ctx)

	var account *models.BankAccount
	err := b.inTx(ctx, func(tx store.Tx) error {
		var err error
		account, err = owned(ctx, tx, userID, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if account.IsVerified {
		return account, nil
	}

	name, err := b.gateway.ValidateBankAccount(ctx, account.AccountNumber, account.BankCode)
	if err != nil {
		slog.Warn(prefix+"Bank account validation failed", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: gateway returned no account name", ErrGatewayRejected)
	}

	err = b.inTx(ctx, func(tx store.Tx) error {
		var err error
		account, err = owned(ctx, tx, userID, accountID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(account.AccountName, name) && account.AccountName != "" {
			slog.Info(prefix+"Replacing entered account name with resolved name", "account_id", accountID)
		}
		account.AccountName = strings.TrimSpace(name)
		account.IsVerified = true
		account.Touch(b.now())
		return tx.UpdateBankAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	slog.Info(prefix+"Bank account verified", "user_id", userID, "account_id", accountID)
	return account, nil
}
