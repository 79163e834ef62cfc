package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"agm-payments/pkg/config"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL with parseTime and the Lagos (WAT) session timezone.
func Open(cfg config.Database) (*sql.DB, error) {
	// time_zone is a session variable, so it goes in the DSN to apply to every pooled connection.
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=Africa%%2FLagos&time_zone=%%27%%2B01%%3A00%%27",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS stores (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_stores_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL,
		order_number VARCHAR(50) NOT NULL,
		customer_name VARCHAR(255) NOT NULL,
		customer_email VARCHAR(255) NULL,
		customer_phone VARCHAR(20) NOT NULL,
		subtotal DECIMAL(12,2) NOT NULL,
		discount DECIMAL(12,2) NOT NULL DEFAULT 0,
		shipping_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
		agm_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
		total DECIMAL(12,2) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME NULL,
		UNIQUE KEY uq_orders_number (order_number),
		INDEX idx_orders_store (store_id),
		INDEX idx_orders_payment_status (payment_status),
		CONSTRAINT fk_orders_store FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(36) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'NGN',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_method VARCHAR(20) NULL,
		payment_reference VARCHAR(100) NOT NULL,
		monnify_reference VARCHAR(100) NULL,
		transaction_reference VARCHAR(100) NULL,
		checkout_url VARCHAR(500) NULL,
		paid_at DATETIME NULL,
		expires_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_payments_reference (payment_reference),
		UNIQUE KEY uq_payments_monnify (monnify_reference),
		INDEX idx_payments_order (order_id),
		INDEX idx_payments_status_expiry (status, expires_at),
		CONSTRAINT fk_payments_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS refunds (
		id VARCHAR(36) PRIMARY KEY,
		payment_id VARCHAR(36) NOT NULL,
		order_id VARCHAR(36) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'NGN',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		refund_reference VARCHAR(100) NOT NULL,
		monnify_reference VARCHAR(100) NULL,
		reason VARCHAR(500) NULL,
		refund_type VARCHAR(20) NOT NULL DEFAULT 'full',
		initiated_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		failed_at DATETIME NULL,
		failure_reason VARCHAR(500) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_refunds_reference (refund_reference),
		UNIQUE KEY uq_refunds_monnify (monnify_reference),
		INDEX idx_refunds_payment (payment_id),
		CONSTRAINT fk_refunds_payment FOREIGN KEY (payment_id) REFERENCES payments(id) ON DELETE CASCADE,
		CONSTRAINT fk_refunds_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		account_number VARCHAR(20) NOT NULL,
		account_name VARCHAR(255) NOT NULL,
		bank_code VARCHAR(10) NOT NULL,
		bank_name VARCHAR(255) NOT NULL,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY unique_account (user_id, account_number, bank_code),
		INDEX idx_bank_accounts_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS disbursements (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'NGN',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		reference VARCHAR(100) NOT NULL,
		monnify_reference VARCHAR(100) NULL,
		account_number VARCHAR(20) NOT NULL,
		account_name VARCHAR(255) NOT NULL,
		bank_code VARCHAR(10) NOT NULL,
		bank_name VARCHAR(100) NOT NULL,
		narration VARCHAR(255) NULL,
		initiated_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		failed_at DATETIME NULL,
		failure_reason VARCHAR(500) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_disbursements_reference (reference),
		UNIQUE KEY uq_disbursements_monnify (monnify_reference),
		INDEX idx_disbursements_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_reviews (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		kind VARCHAR(20) NOT NULL,
		reference VARCHAR(100) NOT NULL,
		gateway_reference VARCHAR(100) NULL,
		reason VARCHAR(255) NOT NULL,
		expected_amount DECIMAL(12,2) NULL,
		expected_currency VARCHAR(3) NULL,
		received_amount DECIMAL(12,2) NULL,
		received_currency VARCHAR(3) NULL,
		payload JSON NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_reviews_reference (reference)
	)`,
	`CREATE TABLE IF NOT EXISTS order_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		event_key VARCHAR(255) NOT NULL,
		order_id VARCHAR(36) NULL,
		type VARCHAR(50) NOT NULL,
		reference VARCHAR(100) NOT NULL,
		payload JSON NULL,
		recorded_at DATETIME NOT NULL,
		UNIQUE KEY uq_order_events_key (event_key),
		INDEX idx_order_events_order (order_id)
	)`,
}

func CreateTables(db *sql.DB) error {
	for _, query := range tables {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func ResetTables(db *sql.DB) error {
	dropOrder := []string{"order_events", "reconciliation_reviews", "disbursements", "bank_accounts", "refunds", "payments", "orders", "stores"}

	for _, table := range dropOrder {
		query := fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
		if _, err := db.Exec(query); err != nil {
			slog.Error("Failed to drop table", "table", table, "error", err)
		} else {
			slog.Info("Table dropped", "table", table)
		}
	}

	if err := CreateTables(db); err != nil {
		return fmt.Errorf("failed to recreate tables: %w", err)
	}

	slog.Info("All tables dropped and recreated successfully")
	return nil
}
