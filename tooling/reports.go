package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"agm-payments/pkg/models"

	"github.com/shopspring/decimal"
)

const displayTime = "2006-01-02 15:04:05"

func lagosLocation() *time.Location {
	loc, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		loc = time.FixedZone("Africa/Lagos", 60*60)
	}
	return loc
}

// dayRange returns the Lagos calendar day named by day (today when empty).
func dayRange(day string, now time.Time) (string, time.Time, time.Time, error) {
	loc := lagosLocation()
	var start time.Time
	if day == "" {
		now = now.In(loc)
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	} else {
		var err error
		start, err = time.ParseInLocation("2006-01-02", day, loc)
		if err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", day, err)
		}
	}
	return start.Format("2006-01-02"), start, start.AddDate(0, 0, 1), nil
}

type paymentLine struct {
	Reference   string
	OrderNumber string
	Amount      decimal.Decimal
	Method      string
	Status      models.PaymentStatus
	PaidAt      time.Time
}

type refundLine struct {
	Reference   string
	OrderNumber string
	Type        models.RefundType
	Amount      decimal.Decimal
	Status      models.TransferStatus
	InitiatedAt time.Time
}

type disbursementLine struct {
	Reference   string
	AccountName string
	BankName    string
	Amount      decimal.Decimal
	Status      models.TransferStatus
	InitiatedAt time.Time
}

type settlement struct {
	Day           string
	Payments      []paymentLine
	Refunds       []refundLine
	Disbursements []disbursementLine
}

func printSettlement(ctx context.Context, out io.Writer, db *sql.DB, day string) error {
	label, start, end, err := dayRange(day, time.Now())
	if err != nil {
		return err
	}
	slog.Info("Printing settlement", "date", label, "start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))

	s, err := loadSettlement(ctx, db, label, start, end)
	if err != nil {
		return err
	}
	renderSettlement(out, s)
	return nil
}

func loadSettlement(ctx context.Context, db *sql.DB, label string, start, end time.Time) (*settlement, error) {
	s := &settlement{Day: label}

	rows, err := db.QueryContext(ctx, `SELECT p.payment_reference, o.order_number, p.amount, COALESCE(p.payment_method, ''), p.status, p.paid_at
			  FROM payments p JOIN orders o ON o.id = p.order_id
			  WHERE p.paid_at >= ? AND p.paid_at < ?
			  ORDER BY p.paid_at ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	for rows.Next() {
		var l paymentLine
		if err := rows.Scan(&l.Reference, &l.OrderNumber, &l.Amount, &l.Method, &l.Status, &l.PaidAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		s.Payments = append(s.Payments, l)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT r.refund_reference, o.order_number, r.refund_type, r.amount, r.status, r.initiated_at
			  FROM refunds r JOIN orders o ON o.id = r.order_id
			  WHERE r.initiated_at >= ? AND r.initiated_at < ?
			  ORDER BY r.initiated_at ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	for rows.Next() {
		var l refundLine
		if err := rows.Scan(&l.Reference, &l.OrderNumber, &l.Type, &l.Amount, &l.Status, &l.InitiatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		s.Refunds = append(s.Refunds, l)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT reference, account_name, bank_name, amount, status, initiated_at
			  FROM disbursements
			  WHERE initiated_at >= ? AND initiated_at < ?
			  ORDER BY initiated_at ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query disbursements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l disbursementLine
		if err := rows.Scan(&l.Reference, &l.AccountName, &l.BankName, &l.Amount, &l.Status, &l.InitiatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan disbursement: %w", err)
		}
		s.Disbursements = append(s.Disbursements, l)
	}
	return s, rows.Err()
}

func naira(d decimal.Decimal) string {
	return "₦" + d.StringFixed(2)
}

func renderSettlement(out io.Writer, s *settlement) {
	loc := lagosLocation()

	collected := decimal.Zero
	t := NewTable(out, "Payments for "+s.Day+" ("+loc.String()+")").
		AddColumn("Reference", 28, AlignLeft).
		AddColumn("Order", 14, AlignLeft).
		AddColumn("Amount", 14, AlignRight).
		AddColumn("Method", 18, AlignLeft).
		AddColumn("Status", 10, AlignLeft).
		AddColumn("Paid At", 21, AlignLeft)
	t.PrintHeader()
	if len(s.Payments) == 0 {
		t.PrintEmptyRow("No payments settled")
	}
	for _, p := range s.Payments {
		collected = collected.Add(p.Amount)
		t.PrintRow(p.Reference, p.OrderNumber, naira(p.Amount), p.Method, p.Status, p.PaidAt.In(loc).Format(displayTime))
	}
	t.PrintFooter()

	refunded := decimal.Zero
	t = NewTable(out, "Refunds").
		AddColumn("Reference", 28, AlignLeft).
		AddColumn("Order", 14, AlignLeft).
		AddColumn("Type", 9, AlignLeft).
		AddColumn("Amount", 14, AlignRight).
		AddColumn("Status", 11, AlignLeft).
		AddColumn("Initiated At", 21, AlignLeft)
	t.PrintHeader()
	if len(s.Refunds) == 0 {
		t.PrintEmptyRow("No refunds")
	}
	for _, r := range s.Refunds {
		if r.Status == models.TransferCompleted {
			refunded = refunded.Add(r.Amount)
		}
		t.PrintRow(r.Reference, r.OrderNumber, r.Type, naira(r.Amount), r.Status, r.InitiatedAt.In(loc).Format(displayTime))
	}
	t.PrintFooter()

	paidOut := decimal.Zero
	t = NewTable(out, "Disbursements").
		AddColumn("Reference", 28, AlignLeft).
		AddColumn("Account", 22, AlignLeft).
		AddColumn("Bank", 14, AlignLeft).
		AddColumn("Amount", 14, AlignRight).
		AddColumn("Status", 11, AlignLeft).
		AddColumn("Initiated At", 21, AlignLeft)
	t.PrintHeader()
	if len(s.Disbursements) == 0 {
		t.PrintEmptyRow("No disbursements")
	}
	for _, d := range s.Disbursements {
		if d.Status == models.TransferCompleted {
			paidOut = paidOut.Add(d.Amount)
		}
		t.PrintRow(d.Reference, d.AccountName, d.BankName, naira(d.Amount), d.Status, d.InitiatedAt.In(loc).Format(displayTime))
	}
	t.PrintFooter()

	fmt.Fprintf(out, "Total collected: %s (%d payments)\n", naira(collected), len(s.Payments))
	fmt.Fprintf(out, "Total refunded: %s\n", naira(refunded))
	fmt.Fprintf(out, "Total paid out: %s\n", naira(paidOut))
}

func loadReviews(ctx context.Context, db *sql.DB, limit int) ([]models.Review, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, kind, reference, COALESCE(gateway_reference, ''), reason,
			  COALESCE(expected_amount, 0), COALESCE(expected_currency, ''), COALESCE(received_amount, 0), COALESCE(received_currency, ''), created_at
			  FROM reconciliation_reviews
			  ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var out []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.Kind, &r.Reference, &r.GatewayReference, &r.Reason,
			&r.ExpectedAmount, &r.ExpectedCurrency, &r.ReceivedAmount, &r.ReceivedCurrency, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func renderReviews(out io.Writer, reviews []models.Review) {
	loc := lagosLocation()
	t := NewTable(out, "Manual review queue").
		AddColumn("ID", 5, AlignRight).
		AddColumn("Kind", 14, AlignLeft).
		AddColumn("Reference", 28, AlignLeft).
		AddColumn("Reason", 26, AlignLeft).
		AddColumn("Expected", 18, AlignRight).
		AddColumn("Received", 18, AlignRight).
		AddColumn("Created At", 21, AlignLeft)
	t.PrintHeader()
	if len(reviews) == 0 {
		t.PrintEmptyRow("Nothing to review")
	}
	for _, r := range reviews {
		t.PrintRow(r.ID, r.Kind, r.Reference, r.Reason,
			r.ExpectedAmount.StringFixed(2)+" "+r.ExpectedCurrency,
			r.ReceivedAmount.StringFixed(2)+" "+r.ReceivedCurrency,
			r.CreatedAt.In(loc).Format(displayTime))
	}
	t.PrintFooter()
	fmt.Fprintf(out, "Total reviews: %d\n", len(reviews))
}
