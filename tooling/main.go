package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"

	"agm-payments/pkg/config"
	"agm-payments/pkg/database"
	"agm-payments/pkg/events"
	"agm-payments/pkg/reconcile"
	"agm-payments/pkg/store"
	"agm-payments/pkg/utils"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tooling",
		Short:        "Operational commands for the AGM payments stack",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(resetDBCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(settlementCmd())
	rootCmd.AddCommand(reviewsCmd())
	rootCmd.AddCommand(sendWebhookCmd())

	ctx, stop := signal.NotifyContext(utils.EnsureCorrelationID(context.Background()), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB loads configuration and connects to MySQL for commands that need it.
func openDB() (config.Config, *sql.DB, error) {
	cfg := config.Load()
	db, err := database.Open(cfg.Database)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, db, nil
}

func resetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resetdb",
		Short: "Drop and recreate all tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.ResetTables(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database reset completed")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending payments past their expiry once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			opts := reconcile.Options{WriteRetries: cfg.WriteRetries}
			if cfg.EventBroker == "nats" {
				nc, err := events.ConnectNATS(cfg.NATSURL)
				if err != nil {
					return fmt.Errorf("failed to connect to NATS: %w", err)
				}
				defer nc.Close()
				opts.Publisher = nc
			}

			r := reconcile.New(store.NewMySQL(db), nil, opts)
			n, err := r.ExpireStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d payment(s)\n", n)
			return nil
		},
	}
}

func settlementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlement",
		Short: "Print today's paid payments, refunds and disbursements",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			day, _ := cmd.Flags().GetString("date")
			return printSettlement(cmd.Context(), cmd.OutOrStdout(), db, day)
		},
	}
	cmd.Flags().StringP("date", "d", "", "Day to report in YYYY-MM-DD (Africa/Lagos), default today")
	return cmd
}

func reviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List gateway events parked for manual review",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			reviews, err := loadReviews(cmd.Context(), db, limit)
			if err != nil {
				return err
			}
			renderReviews(cmd.OutOrStdout(), reviews)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Maximum reviews to show")
	return cmd
}
