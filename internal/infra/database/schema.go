package database

import (
	"context"
	"database/sql"
	"fmt"

	"workflow_digest/internal/domain/notification"
)

const pendingUniqueIndex = "notifications_one_pending_idx"

// schema creates the digest engine's own tables. Workflow tables (cycles,
// tasks, access control) belong to the workflow system and are only read.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notification_types (
		name        TEXT PRIMARY KEY,
		template    TEXT NOT NULL,
		is_explicit BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id                BIGSERIAL PRIMARY KEY,
		object_kind       TEXT NOT NULL,
		object_id         BIGINT NOT NULL,
		notification_type TEXT NOT NULL REFERENCES notification_types (name),
		created_at        TIMESTAMPTZ NOT NULL,
		sent_at           TIMESTAMPTZ NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + pendingUniqueIndex + `
		ON notifications (object_kind, object_id, notification_type)
		WHERE sent_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS notifications_pending_created_idx
		ON notifications (created_at, id)
		WHERE sent_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS notification_marks (
		object_kind       TEXT NOT NULL,
		object_id         BIGINT NOT NULL,
		notification_type TEXT NOT NULL REFERENCES notification_types (name),
		mark_key          TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (object_kind, object_id, notification_type, mark_key)
	)`,
	`CREATE TABLE IF NOT EXISTS run_checkpoints (
		name      TEXT PRIMARY KEY,
		last_date DATE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_locks (
		day         DATE PRIMARY KEY,
		holder      TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		released_at TIMESTAMPTZ NULL
	)`,
}

// EnsureSchema creates missing tables and seeds the notification type catalog.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	const seed = `INSERT INTO notification_types (name, template, is_explicit)
	              VALUES ($1, $2, $3)
	              ON CONFLICT (name) DO UPDATE SET template = EXCLUDED.template, is_explicit = EXCLUDED.is_explicit`
	for _, t := range notification.Catalog() {
		if _, err := tx.ExecContext(ctx, seed, t.Name, t.Template, t.Explicit); err != nil {
			return fmt.Errorf("failed to seed notification type %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
