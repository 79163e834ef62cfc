// Package api exposes the reconciler and trackers over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"agm-payments/pkg/reconcile"
	"agm-payments/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// CorrelationHeader lets callers thread their own correlation ID through the logs.
const CorrelationHeader = "X-Correlation-ID"

type Server struct {
	Payments      *reconcile.Reconciler
	Refunds       *reconcile.RefundTracker
	Disbursements *reconcile.DisbursementTracker
	BankAccounts  *reconcile.BankAccounts

	// WebhookSecret verifies the monnify-signature header. When empty, webhooks
	// are accepted unsigned unless Production is set.
	WebhookSecret string
	Production    bool
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(correlation)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", healthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Timeout(30*time.Second)).Post("/orders/{orderID}/checkout", s.checkout)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/banks", listBanks)
			r.Get("/verify/{reference}", s.verifyPayment)
			r.Get("/{reference}", s.getPayment)
			r.Post("/{reference}/reinitialize", s.reinitializePayment)
			r.Post("/{reference}/refunds", s.initiateRefund)
		})

		r.Post("/disbursements", s.initiateDisbursement)
		r.Post("/bank-accounts/resolve", s.resolveBankAccount)

		r.Route("/users/{userID}/bank-accounts", func(r chi.Router) {
			r.Get("/", s.listBankAccounts)
			r.Post("/", s.addBankAccount)
			r.Post("/{accountID}/primary", s.setPrimaryBankAccount)
			r.Post("/{accountID}/verify", s.verifyBankAccount)
			r.Delete("/{accountID}", s.deleteBankAccount)
		})

		r.Post("/webhooks/monnify", s.monnifyWebhook)
	})

	return r
}

// correlation attaches a correlation ID to the request context and echoes it
// back. Caller IDs that are not six characters of A-Z0-9 are replaced.
func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if !utils.ValidCorrelationID(id) {
			id = utils.GenerateCorrelationID()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(utils.WithCorrelationID(r.Context(), id)))
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// fail maps err onto a status code. Server-side failures are logged and hidden
// from the caller.
func fail(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		slog.Error(utils.LogPrefix(ctx)+"Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		slog.Warn(utils.LogPrefix(ctx)+"Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	respond(w, r, status, errorResponse{Error: msg})
}
