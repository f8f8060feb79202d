package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations with sqlite column types.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		email TEXT,
		full_name TEXT,
		avatar_url TEXT,
		bio TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		subscription_status TEXT NOT NULL DEFAULT 'inactive',
		stripe_customer_id TEXT UNIQUE,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES profiles(id),
		stripe_subscription_id TEXT NOT NULL UNIQUE,
		stripe_price_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_period_start DATETIME,
		current_period_end DATETIME,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// ApplySQLiteSchema creates the tables on a sqlite connection. Postgres uses goose migrations.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if conn.Dialector.Name() != "sqlite" {
		return fmt.Errorf("sqlite schema requested for %s connection", conn.Dialector.Name())
	}
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
