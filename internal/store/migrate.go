package store

import (
	"context"
	"fmt"
)

// Timestamps are stored as unix nanoseconds so both drivers read them back
// without dialect specific parsing.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'staff',
		phone         TEXT NOT NULL DEFAULT '',
		address       TEXT NOT NULL DEFAULT '',
		created_at    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		qr_type     TEXT NOT NULL,
		scan_date   TEXT NOT NULL,
		scan_time   TEXT NOT NULL,
		scanned_by  TEXT NOT NULL,
		scanned_at  BIGINT NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
		latitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
		user_agent  TEXT NOT NULL DEFAULT '',
		ip_address  TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'confirmed',
		notes       TEXT NOT NULL DEFAULT '',
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_members (
		record_id         TEXT NOT NULL,
		position          INTEGER NOT NULL,
		name              TEXT NOT NULL,
		age               INTEGER NOT NULL CHECK (age >= 0),
		is_child          BOOLEAN NOT NULL DEFAULT FALSE,
		phone             TEXT NOT NULL DEFAULT '',
		address           TEXT NOT NULL DEFAULT '',
		emergency_contact TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (record_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_date_scanned ON attendance_records (scan_date, scanned_at)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_scanner ON attendance_records (scanned_by, scanned_at)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_status ON attendance_records (status)`,
}

// Migrate creates the tables and indexes when they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Reset removes every row, keeping the schema. Used by the seed command.
func (d *DB) Reset(ctx context.Context) error {
	for _, table := range []string{"attendance_members", "attendance_records", "refresh_tokens", "users"} {
		if _, err := d.Client.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}
