package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var migrations = []struct {
	name string
	stmt string
}{
	{
		name: "create gift_code_inventory",
		stmt: `
			CREATE TABLE IF NOT EXISTS gift_code_inventory (
				id BIGSERIAL PRIMARY KEY,
				code VARCHAR(64) UNIQUE NOT NULL,
				denomination BIGINT NOT NULL CHECK (denomination > 0),
				status VARCHAR(16) NOT NULL DEFAULT 'AVAILABLE'
					CHECK (status IN ('AVAILABLE', 'ALLOCATED', 'REDEEMED', 'EXPIRED', 'FAILED')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				metadata JSONB
			)`,
	},
	{
		name: "index gift_code_inventory status",
		stmt: `CREATE INDEX IF NOT EXISTS idx_gift_code_inventory_status ON gift_code_inventory (status, denomination)`,
	},
	{
		name: "create checkout_sessions",
		stmt: `
			CREATE TABLE IF NOT EXISTS checkout_sessions (
				id BIGSERIAL PRIMARY KEY,
				session_id VARCHAR(64) UNIQUE NOT NULL CHECK (session_id ~ '^session-[a-f0-9]+$'),
				user_id VARCHAR(255),
				source_url TEXT NOT NULL,
				cart_total_cents BIGINT NOT NULL CHECK (cart_total_cents > 0),
				current_balance_cents BIGINT NOT NULL CHECK (current_balance_cents >= 0),
				top_up_amount_cents BIGINT NOT NULL CHECK (top_up_amount_cents >= 0),
				status VARCHAR(16) NOT NULL DEFAULT 'CREATED'
					CHECK (status IN ('CREATED', 'PENDING', 'PAID', 'PROCESSING', 'FULFILLED', 'COMPLETED', 'EXPIRED', 'FAILED')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				metadata JSONB
			)`,
	},
	{
		name: "index checkout_sessions expiry",
		stmt: `CREATE INDEX IF NOT EXISTS idx_checkout_sessions_status_expires ON checkout_sessions (status, expires_at)`,
	},
	{
		name: "add checkout_sessions payment_tx_hash",
		stmt: `ALTER TABLE checkout_sessions ADD COLUMN IF NOT EXISTS payment_tx_hash VARCHAR(66)`,
	},
	{
		name: "index checkout_sessions payment_tx_hash",
		stmt: `CREATE UNIQUE INDEX IF NOT EXISTS idx_checkout_sessions_payment_tx_hash ON checkout_sessions (payment_tx_hash)`,
	},
}

// Migrate creates the tables and indexes if they don't exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", m.name, err)
		}
	}
	return nil
}
