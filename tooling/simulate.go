package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"agm-payments/pkg/config"
	"agm-payments/pkg/httpclient"
	"agm-payments/pkg/models"
	"agm-payments/pkg/monnify"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const (
	simStoreID = "sim-store"
	simUserID  = "sim-user"
)

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Create orders and open checkouts against a running payment service",
		Long: `Seeds pending orders directly in the database and opens a checkout for each
through the payment service. Point MONNIFY_BASE_URL of the service at the
gateway-simulator to have the payments settled by (possibly duplicated) webhooks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			count, _ := cmd.Flags().GetInt("count")
			workers, _ := cmd.Flags().GetInt("workers")
			service, _ := cmd.Flags().GetString("service")
			return runSimulator(cmd.Context(), store.NewMySQL(db), strings.TrimRight(service, "/"), count, workers)
		},
	}
	cmd.Flags().IntP("count", "c", 10, "Number of orders to create")
	cmd.Flags().IntP("workers", "w", 4, "Concurrent workers")
	cmd.Flags().String("service", "http://localhost:8001", "Payment service base URL")
	return cmd
}

func runSimulator(ctx context.Context, st store.Store, service string, count, workers int) error {
	if workers < 1 {
		workers = 1
	}
	fmt.Printf("Starting simulation with %d orders using %d goroutines\n", count, workers)

	err := st.WithTx(ctx, func(tx store.Tx) error {
		s := &models.Store{ID: simStoreID, UserID: simUserID, Name: "Simulation Store"}
		s.Touch(time.Now())
		return tx.InsertStore(ctx, s)
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return fmt.Errorf("failed to seed simulation store: %w", err)
	}

	jobs := make(chan int)
	results := make(chan string, count)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				results <- runSimulationIteration(ctx, st, service, n)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 1; i <= count; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	successCount, failedCount := 0, 0
	for result := range results {
		if strings.Contains(result, "SUCCESS") {
			successCount++
		} else {
			failedCount++
		}
		fmt.Println(result)
	}

	fmt.Printf("\nSimulation completed. Success: %d, Failed: %d\n", successCount, failedCount)
	return nil
}

func randomOrder() *models.Order {
	subtotal := decimal.NewFromInt(int64(500 + rand.Intn(20)*250))
	shipping := decimal.NewFromInt(int64(rand.Intn(3) * 500))
	agmFee := subtotal.Mul(decimal.NewFromFloat(0.015)).Round(2)

	o := &models.Order{
		ID:            utils.GenerateUUID7(),
		StoreID:       simStoreID,
		OrderNumber:   "SIM-" + utils.GenerateCorrelationID() + utils.GenerateCorrelationID(),
		CustomerName:  "Simulated Customer",
		CustomerEmail: "sim@example.com",
		CustomerPhone: "08000000000",
		Subtotal:      subtotal,
		ShippingFee:   shipping,
		AgmFee:        agmFee,
		Status:        models.OrderPending,
		PaymentStatus: models.PaymentPending,
	}
	o.Total = o.ComputeTotal()
	o.Touch(time.Now())
	return o
}

func runSimulationIteration(ctx context.Context, st store.Store, service string, iteration int) string {
	correlationID := utils.GenerateCorrelationID()
	ctx = utils.WithCorrelationID(ctx, correlationID)
	logPrefix := utils.LogPrefix(ctx)

	order := randomOrder()
	err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return fmt.Sprintf("Iteration %d [%s]: FAILED to create order - %v", iteration, correlationID, err)
	}
	slog.Info(logPrefix+"Order created for simulation", "iteration", iteration, "order_id", order.ID, "total", order.Total.StringFixed(2))

	client := httpclient.NewClient(10 * time.Second)
	resp, err := client.Send(ctx, http.MethodPost, service+"/api/v1/orders/"+order.ID+"/checkout", nil,
		map[string]string{"X-Correlation-ID": correlationID})
	if err != nil {
		if client.IsTimeoutError(err) {
			return fmt.Sprintf("Iteration %d [%s]: TIMEOUT - Order: %s", iteration, correlationID, order.OrderNumber)
		}
		return fmt.Sprintf("Iteration %d [%s]: FAILED checkout - %v", iteration, correlationID, err)
	}

	var payment models.Payment
	decodeErr := client.DecodeJSONResponse(resp, &payment)
	if resp.StatusCode != http.StatusCreated || decodeErr != nil {
		return fmt.Sprintf("Iteration %d [%s]: FAILED checkout - status %d", iteration, correlationID, resp.StatusCode)
	}

	return fmt.Sprintf("Iteration %d [%s]: SUCCESS - Order: %s, Amount: %s, Reference: %s",
		iteration, correlationID, order.OrderNumber, order.Total.StringFixed(2), payment.PaymentReference)
}

func sendWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-webhook <reference>",
		Short: "Sign and post a Monnify webhook to a running payment service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			event, _ := cmd.Flags().GetString("event")
			amount, _ := cmd.Flags().GetString("amount")
			target, _ := cmd.Flags().GetString("url")
			secret, _ := cmd.Flags().GetString("secret")
			times, _ := cmd.Flags().GetInt("times")
			if secret == "" {
				secret = cfg.Monnify.WebhookSecret
			}

			d, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			body, err := webhookBody(strings.ToUpper(event), args[0], d)
			if err != nil {
				return err
			}
			return postWebhook(cmd.Context(), cmd.OutOrStdout(), target, body, secret, times)
		},
	}
	cmd.Flags().StringP("event", "e", monnify.EventSuccessfulTransaction, "Monnify eventType")
	cmd.Flags().StringP("amount", "a", "0", "Amount carried by the event")
	cmd.Flags().String("url", "http://localhost:8001/api/v1/webhooks/monnify", "Webhook endpoint")
	cmd.Flags().String("secret", "", "Signing secret, defaults to MONNIFY_WEBHOOK_SECRET")
	cmd.Flags().IntP("times", "t", 1, "Deliver the same webhook this many times")
	return cmd
}

// webhookBody builds the notification for reference. The event type decides
// which reference field is filled.
func webhookBody(eventType, reference string, amount decimal.Decimal) ([]byte, error) {
	w := &monnify.Webhook{EventType: eventType}
	switch eventType {
	case monnify.EventSuccessfulTransaction, monnify.EventFailedTransaction, monnify.EventExpiredTransaction:
		status := map[string]string{
			monnify.EventSuccessfulTransaction: "PAID",
			monnify.EventFailedTransaction:     "FAILED",
			monnify.EventExpiredTransaction:    "EXPIRED",
		}[eventType]
		w.EventData = monnify.EventData{
			PaymentReference:     reference,
			TransactionReference: "MNFY|SIM|" + reference,
			AmountPaid:           amount,
			TotalPayable:         amount,
			PaymentStatus:        status,
			PaymentMethod:        "ACCOUNT_TRANSFER",
			Currency:             models.DefaultCurrency,
		}
	case monnify.EventSuccessfulRefund, monnify.EventFailedRefund:
		w.EventData = monnify.EventData{RefundReference: reference, RefundAmount: amount, Currency: models.DefaultCurrency}
	case monnify.EventSuccessfulDisbursement, monnify.EventFailedDisbursement, monnify.EventReversedDisbursement:
		w.EventData = monnify.EventData{Reference: reference, Amount: amount, Currency: models.DefaultCurrency}
	default:
		return nil, fmt.Errorf("%w: %s", monnify.ErrUnsupportedEvent, eventType)
	}
	return w.Marshal()
}

func postWebhook(ctx context.Context, out io.Writer, target string, body []byte, secret string, times int) error {
	client := httpclient.NewClient(10 * time.Second)
	headers := map[string]string{}
	if secret != "" {
		headers[monnify.SignatureHeader] = monnify.Sign(body, secret)
	}

	for i := 1; i <= times; i++ {
		resp, err := client.Send(ctx, http.MethodPost, target, json.RawMessage(body), headers)
		if err != nil {
			return fmt.Errorf("delivery %d failed: %w", i, err)
		}
		var reply map[string]interface{}
		_ = client.DecodeJSONResponse(resp, &reply)
		fmt.Fprintf(out, "Delivery %d: %d %v\n", i, resp.StatusCode, reply)
	}
	return nil
}
