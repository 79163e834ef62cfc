package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"agm-payments/pkg/monnify"
	"agm-payments/pkg/reconcile"
	"agm-payments/pkg/utils"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Status string `json:"status"`
}

// monnifyWebhook verifies, parses and applies a gateway notification. Outcomes
// the gateway cannot fix by redelivering are acknowledged with 200.
func (s *Server) monnifyWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	if !s.signatureValid(ctx, body, r.Header.Get(monnify.SignatureHeader)) {
		slog.Warn(utils.LogPrefix(ctx)+"Webhook signature rejected", "remote", r.RemoteAddr)
		respond(w, r, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	hook, err := monnify.ParseWebhook(body)
	if err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ev, err := hook.Event()
	if errors.Is(err, monnify.ErrUnsupportedEvent) {
		slog.Info(utils.LogPrefix(ctx)+"Ignoring webhook", "event_type", hook.EventType)
		respond(w, r, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}
	if err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	slog.Info(utils.LogPrefix(ctx)+"Webhook received", "event_type", hook.EventType, "reference", ev.Reference, "gateway_reference", ev.GatewayReference)

	err = s.dispatch(ctx, ev)
	status, outcome := webhookOutcome(err)
	switch {
	case status >= http.StatusInternalServerError:
		slog.Error(utils.LogPrefix(ctx)+"Webhook processing failed", "reference", ev.Reference, "error", err)
		respond(w, r, status, errorResponse{Error: "internal error"})
		return
	case err != nil:
		slog.Warn(utils.LogPrefix(ctx)+"Webhook not applied", "reference", ev.Reference, "outcome", outcome, "error", err)
	}
	respond(w, r, status, webhookResponse{Status: outcome})
}

func (s *Server) signatureValid(ctx context.Context, body []byte, signature string) bool {
	if s.WebhookSecret == "" {
		if s.Production {
			slog.Error(utils.LogPrefix(ctx) + "MONNIFY_WEBHOOK_SECRET is not configured, rejecting webhook")
			return false
		}
		slog.Warn(utils.LogPrefix(ctx) + "No webhook secret configured, skipping signature check")
		return true
	}
	return monnify.VerifySignature(body, signature, s.WebhookSecret)
}

func (s *Server) dispatch(ctx context.Context, ev reconcile.GatewayEvent) error {
	var err error
	switch ev.Kind {
	case reconcile.KindPayment:
		_, err = s.Payments.ApplyGatewayEvent(ctx, ev)
	case reconcile.KindRefund:
		_, err = s.Refunds.ApplyGatewayEvent(ctx, ev)
	case reconcile.KindDisbursement:
		_, err = s.Disbursements.ApplyGatewayEvent(ctx, ev)
	}
	return err
}

func webhookOutcome(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "processed"
	case errors.Is(err, reconcile.ErrUnknownPayment),
		errors.Is(err, reconcile.ErrUnknownRefund),
		errors.Is(err, reconcile.ErrUnknownDisbursement):
		return http.StatusOK, "unknown_reference"
	case errors.Is(err, reconcile.ErrAmountMismatch),
		errors.Is(err, reconcile.ErrOrderAlreadyPaid),
		errors.Is(err, reconcile.ErrRefundExceedsPayment):
		return http.StatusOK, "flagged_for_review"
	}
	return http.StatusInternalServerError, "error"
}
