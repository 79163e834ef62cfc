package monnify

import (
	"testing"

	"agm-payments/pkg/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"PAY-1"}}`)
	sig := Sign(body, "whsec")

	assert.Len(t, sig, 128)
	assert.True(t, VerifySignature(body, sig, "whsec"))
	assert.True(t, VerifySignature(body, " "+sig+" ", "whsec"))
	assert.False(t, VerifySignature(body, sig, "other"))
	assert.False(t, VerifySignature(append(body, ' '), sig, "whsec"))
	assert.False(t, VerifySignature(body, "", "whsec"))
	assert.False(t, VerifySignature(body, sig, ""))
}

func TestWebhookEvent(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		kind      reconcile.EventKind
		status    reconcile.GatewayStatus
		reference string
		gateway   string
		amount    string
		reason    string
	}{
		{
			name: "successful transaction",
			body: `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"PAY-1","transactionReference":"MNFY|1",
				"amountPaid":5000.00,"totalPayable":5000.00,"paymentMethod":"CARD","currency":"NGN","paymentStatus":"PAID"}}`,
			kind: reconcile.KindPayment, status: reconcile.GatewaySuccess, reference: "PAY-1", gateway: "MNFY|1", amount: "5000.00",
		},
		{
			name: "failed transaction uses the payable amount",
			body: `{"eventType":"FAILED_TRANSACTION","eventData":{"paymentReference":"PAY-2","transactionReference":"MNFY|2",
				"amountPaid":0,"totalPayable":"1250.50"}}`,
			kind: reconcile.KindPayment, status: reconcile.GatewayFailed, reference: "PAY-2", gateway: "MNFY|2", amount: "1250.50",
		},
		{
			name: "expired transaction",
			body: `{"eventType":"EXPIRED_TRANSACTION","eventData":{"paymentReference":"PAY-3","totalPayable":300}}`,
			kind: reconcile.KindPayment, status: reconcile.GatewayExpired, reference: "PAY-3", amount: "300",
		},
		{
			name: "successful refund",
			body: `{"eventType":"SUCCESSFUL_REFUND","eventData":{"refundReference":"RFD-1","transactionReference":"MNFY|1",
				"refundAmount":2000,"refundStatus":"COMPLETED"}}`,
			kind: reconcile.KindRefund, status: reconcile.GatewaySuccess, reference: "RFD-1", amount: "2000",
		},
		{
			name: "failed refund",
			body: `{"eventType":"FAILED_REFUND","eventData":{"refundReference":"RFD-2","refundAmount":10,"refundStatus":"FAILED",
				"responseMessage":"Insufficient balance"}}`,
			kind: reconcile.KindRefund, status: reconcile.GatewayFailed, reference: "RFD-2", amount: "10", reason: "Insufficient balance",
		},
		{
			name: "successful disbursement",
			body: `{"eventType":"SUCCESSFUL_DISBURSEMENT","eventData":{"reference":"DSB-1","transactionReference":"MFDS|1",
				"amount":3000,"currency":"NGN","status":"SUCCESS"}}`,
			kind: reconcile.KindDisbursement, status: reconcile.GatewaySuccess, reference: "DSB-1", gateway: "MFDS|1", amount: "3000",
		},
		{
			name: "failed disbursement",
			body: `{"eventType":"FAILED_DISBURSEMENT","eventData":{"reference":"DSB-2","amount":10,
				"responseMessage":"Beneficiary bank unavailable"}}`,
			kind: reconcile.KindDisbursement, status: reconcile.GatewayFailed, reference: "DSB-2", amount: "10",
			reason: "Beneficiary bank unavailable",
		},
		{
			name:   "reversed disbursement",
			body:   `{"eventType":"REVERSED_DISBURSEMENT","eventData":{"reference":"DSB-3","amount":10}}`,
			kind:   reconcile.KindDisbursement, status: reconcile.GatewayReversed, reference: "DSB-3", amount: "10",
			reason: "reversed by bank",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWebhook([]byte(tt.body))
			require.NoError(t, err)

			ev, err := w.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.status, ev.Status)
			assert.Equal(t, tt.reference, ev.Reference)
			assert.Equal(t, tt.gateway, ev.GatewayReference)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(ev.Amount), "amount %s", ev.Amount)
			assert.Equal(t, "NGN", ev.Currency)
			assert.Equal(t, tt.reason, ev.Reason)
			assert.Equal(t, tt.body, string(ev.Payload))
		})
	}
}

func TestWebhookRejectsBadPayloads(t *testing.T) {
	_, err := ParseWebhook([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`{"eventData":{}}`))
	assert.Error(t, err)

	w, err := ParseWebhook([]byte(`{"eventType":"MANDATE_UPDATE","eventData":{}}`))
	require.NoError(t, err)
	_, err = w.Event()
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	w, err = ParseWebhook([]byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"amountPaid":1}}`))
	require.NoError(t, err)
	_, err = w.Event()
	assert.Error(t, err)
}

func TestWebhookMarshalRoundTrip(t *testing.T) {
	w := &Webhook{
		EventType: EventSuccessfulRefund,
		EventData: EventData{RefundReference: "RFD-9", RefundAmount: decimal.RequireFromString("150.25"), Currency: "NGN"},
	}
	body, err := w.Marshal()
	require.NoError(t, err)

	parsed, err := ParseWebhook(body)
	require.NoError(t, err)
	ev, err := parsed.Event()
	require.NoError(t, err)
	assert.Equal(t, reconcile.KindRefund, ev.Kind)
	assert.Equal(t, "RFD-9", ev.Reference)
	assert.True(t, decimal.RequireFromString("150.25").Equal(ev.Amount))
	assert.True(t, VerifySignature(body, Sign(body, "s"), "s"))
}
