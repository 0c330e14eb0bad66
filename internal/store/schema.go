/**
 * @description
 * This file bootstraps the database schema for the ledger-service. EnsureSchema
 * runs idempotent CREATE TABLE statements and seeds the singleton ledger_state
 * row so a fresh database is usable immediately and an existing one is left
 * untouched.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pool.
 */

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS strategies (
		id              BIGINT PRIMARY KEY,
		protocol        TEXT NOT NULL,
		apy_bps         BIGINT NOT NULL DEFAULT 0,
		risk_score      INT NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		allocated_funds BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_accounts (
		user_id      UUID PRIMARY KEY,
		risk_profile TEXT NOT NULL DEFAULT 'moderate',
		total_value  BIGINT NOT NULL DEFAULT 0 CHECK (total_value >= 0),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS allocations (
		user_id     UUID NOT NULL,
		strategy_id BIGINT NOT NULL REFERENCES strategies(id),
		share_bps   INT NOT NULL CHECK (share_bps >= 0 AND share_bps <= 10000),
		PRIMARY KEY (user_id, strategy_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_state (
		id                 INT PRIMARY KEY CHECK (id = 1),
		next_strategy_id   BIGINT NOT NULL DEFAULT 0,
		total_funds_locked BIGINT NOT NULL DEFAULT 0 CHECK (total_funds_locked >= 0),
		asset_contract     TEXT NOT NULL DEFAULT '',
		paused             BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`INSERT INTO ledger_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
}

// EnsureSchema creates the ledger tables and seeds the singleton state row.
// Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
