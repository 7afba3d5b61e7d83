package database

import "database/sql"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              TEXT PRIMARY KEY,
		balance         BIGINT NOT NULL DEFAULT 0,
		total_purchased BIGINT NOT NULL DEFAULT 0,
		total_used      BIGINT NOT NULL DEFAULT 0,
		version         BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL REFERENCES accounts(id),
		amount         BIGINT NOT NULL,
		kind           TEXT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after  BIGINT NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		reference      TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created
		ON ledger_entries (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 TEXT PRIMARY KEY,
		account_id         TEXT NOT NULL REFERENCES accounts(id),
		operation          TEXT NOT NULL,
		parameters         JSONB NOT NULL DEFAULT '{}',
		status             TEXT NOT NULL,
		progress           INT NOT NULL DEFAULT 0,
		credits_reserved   BIGINT NOT NULL DEFAULT 0,
		input_images       JSONB,
		output_images      JSONB,
		error_message      TEXT,
		callback_url       TEXT,
		processing_seconds DOUBLE PRECISION,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at         TIMESTAMPTZ,
		completed_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_account_created
		ON jobs (account_id, created_at)`,
}

// Migrate applies the schema. Statements are idempotent so running at
// every startup is safe.
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
