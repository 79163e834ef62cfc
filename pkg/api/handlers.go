package api

import (
	"fmt"
	"net/http"

	"agm-payments/pkg/models"
	"agm-payments/pkg/reconcile"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
)

func decode(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payment, err := s.Payments.Checkout(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, payment)
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := s.Payments.Payment(ctx, chi.URLParam(r, "reference"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := s.Payments.Verify(ctx, chi.URLParam(r, "reference"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"verified": result.Verified(),
		"result":   result,
	})
}

func (s *Server) reinitializePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payment, err := s.Payments.Reinitialize(ctx, chi.URLParam(r, "reference"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, payment)
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (s *Server) initiateRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refundRequest
	if err := decode(r, &req); err != nil {
		fail(ctx, w, r, err)
		return
	}

	refund, err := s.Refunds.Initiate(ctx, chi.URLParam(r, "reference"), req.Amount, req.Reason)
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, refund)
}

type disbursementRequest struct {
	UserID        string          `json:"user_id"`
	BankAccountID string          `json:"bank_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

func (s *Server) initiateDisbursement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req disbursementRequest
	if err := decode(r, &req); err != nil {
		fail(ctx, w, r, err)
		return
	}
	if req.UserID == "" || req.BankAccountID == "" {
		fail(ctx, w, r, fmt.Errorf("%w: user_id and bank_account_id are required", errBadRequest))
		return
	}

	d, err := s.Disbursements.Initiate(ctx, req.UserID, req.BankAccountID, req.Amount)
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, d)
}

func (s *Server) listBankAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := s.BankAccounts.List(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"total_count":   len(accounts),
		"bank_accounts": accounts,
	})
}

func listBanks(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, models.NigerianBanks)
}

type resolveRequest struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

func (s *Server) resolveBankAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveRequest
	if err := decode(r, &req); err != nil {
		fail(ctx, w, r, err)
		return
	}

	resolved, err := s.BankAccounts.Resolve(ctx, req.AccountNumber, req.BankCode)
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	render.JSON(w, r, resolved)
}

func (s *Server) addBankAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in reconcile.BankAccountInput
	if err := decode(r, &in); err != nil {
		fail(ctx, w, r, err)
		return
	}

	account, err := s.BankAccounts.Add(ctx, chi.URLParam(r, "userID"), in)
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, account)
}

func (s *Server) setPrimaryBankAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.BankAccounts.SetPrimary(ctx, chi.URLParam(r, "userID"), chi.URLParam(r, "accountID"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	render.JSON(w, r, account)
}

func (s *Server) verifyBankAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.BankAccounts.Verify(ctx, chi.URLParam(r, "userID"), chi.URLParam(r, "accountID"))
	if err != nil {
		fail(ctx, w, r, err)
		return
	}
	render.JSON(w, r, account)
}

func (s *Server) deleteBankAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.BankAccounts.Delete(ctx, chi.URLParam(r, "userID"), chi.URLParam(r, "accountID")); err != nil {
		fail(ctx, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
