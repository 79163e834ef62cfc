package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agm-payments/pkg/models"
	"agm-payments/pkg/monnify"
	"agm-payments/pkg/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableAlignsAndTruncates(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, "Demo").
		AddColumn("Name", 8, AlignLeft).
		AddColumn("Amount", 12, AlignRight)
	table.PrintHeader()
	table.PrintRow("a-very-long-reference", "₦5000.00")
	table.PrintRow("only-one-cell")
	table.PrintFooter()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Demo:", lines[0])
	assert.Equal(t, "│ a-ve...│    ₦5000.00│", lines[4])
	for _, line := range lines[1:] {
		assert.Equal(t, 23, len([]rune(line)), line)
	}
}

func TestTableEmptyRow(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, "").AddColumn("A", 4, AlignLeft).AddColumn("B", 5, AlignLeft)
	table.PrintEmptyRow("none")
	assert.Equal(t, "│   none   │\n", buf.String())
}

func TestDayRange(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	label, start, end, err := dayRange("", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", label, "23:30 UTC is already the next day in Lagos")
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	label, _, _, err = dayRange("2026-02-14", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-14", label)

	_, _, _, err = dayRange("14/02/2026", now)
	assert.Error(t, err)
}

func TestRenderSettlementTotals(t *testing.T) {
	paidAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderSettlement(&buf, &settlement{
		Day: "2026-03-02",
		Payments: []paymentLine{
			{Reference: "PAY-1", OrderNumber: "AGM-1", Amount: decimal.RequireFromString("5000"), Method: "card", Status: models.PaymentPaid, PaidAt: paidAt},
			{Reference: "PAY-2", OrderNumber: "AGM-2", Amount: decimal.RequireFromString("1250.50"), Method: "account_transfer", Status: models.PaymentRefunded, PaidAt: paidAt},
		},
		Refunds: []refundLine{
			{Reference: "RFD-1", OrderNumber: "AGM-2", Type: models.RefundFull, Amount: decimal.RequireFromString("1250.50"), Status: models.TransferCompleted, InitiatedAt: paidAt},
			{Reference: "RFD-2", OrderNumber: "AGM-1", Type: models.RefundPartial, Amount: decimal.RequireFromString("100"), Status: models.TransferPending, InitiatedAt: paidAt},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Total collected: ₦6250.50 (2 payments)")
	assert.Contains(t, out, "Total refunded: ₦1250.50")
	assert.Contains(t, out, "Total paid out: ₦0.00")
	assert.Contains(t, out, "No disbursements")
	assert.Contains(t, out, "2026-03-02 10:00:00")
}

func TestRenderReviews(t *testing.T) {
	var buf bytes.Buffer
	renderReviews(&buf, []models.Review{{
		ID: 7, Kind: "payment", Reference: "PAY-1", Reason: "amount_mismatch",
		ExpectedAmount: decimal.RequireFromString("5000"), ExpectedCurrency: "NGN",
		ReceivedAmount: decimal.RequireFromString("4500"), ReceivedCurrency: "NGN",
	}})
	assert.Contains(t, buf.String(), "amount_mismatch")
	assert.Contains(t, buf.String(), "4500.00 NGN")
	assert.Contains(t, buf.String(), "Total reviews: 1")
}

func TestWebhookBody(t *testing.T) {
	tests := []struct {
		event string
		kind  reconcile.EventKind
	}{
		{monnify.EventSuccessfulTransaction, reconcile.KindPayment},
		{monnify.EventExpiredTransaction, reconcile.KindPayment},
		{monnify.EventFailedRefund, reconcile.KindRefund},
		{monnify.EventReversedDisbursement, reconcile.KindDisbursement},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			body, err := webhookBody(tt.event, "REF-1", decimal.RequireFromString("10"))
			require.NoError(t, err)
			w, err := monnify.ParseWebhook(body)
			require.NoError(t, err)
			ev, err := w.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, "REF-1", ev.Reference)
		})
	}

	_, err := webhookBody("SETTLEMENT", "REF-1", decimal.Zero)
	assert.ErrorIs(t, err, monnify.ErrUnsupportedEvent)
}

func TestPostWebhookSignsEveryDelivery(t *testing.T) {
	deliveries := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !monnify.VerifySignature(body, r.Header.Get(monnify.SignatureHeader), "whsec") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		deliveries++
		w.Write([]byte(`{"status":"processed"}`))
	}))
	defer srv.Close()

	body, err := webhookBody(monnify.EventSuccessfulTransaction, "PAY-1", decimal.RequireFromString("5000"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, postWebhook(context.Background(), &out, srv.URL, body, "whsec", 3))
	assert.Equal(t, 3, deliveries)
	assert.Contains(t, out.String(), "Delivery 3: 200")
}
