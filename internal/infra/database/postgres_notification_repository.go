// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"workflow_digest/internal/domain/notification"

	"github.com/lib/pq" // For pq.Array and pq.Error
)

// Custom errors specific to notification repository
var ErrNotificationNotFound = fmt.Errorf("pending notification not found")

const (
	uniqueViolation    pq.ErrorCode = "23505"
	maxUpsertAttempts               = 3
)

// PostgresNotificationRepository implements notification.Ledger and notification.MarkStore.
type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// --- Ledger Methods ---

// UpsertPending inserts a pending row and falls back to the existing one when
// the partial unique index rejects the insert.
func (r *PostgresNotificationRepository) UpsertPending(ctx context.Context, object notification.ObjectRef, t notification.TypeName, createdAt time.Time) (*notification.Event, bool, error) {
	query := `INSERT INTO notifications (object_kind, object_id, notification_type, created_at)
               VALUES ($1, $2, $3, $4)
               RETURNING id`

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		ev := &notification.Event{Object: object, Type: t, CreatedAt: createdAt}
		err := r.db.QueryRowContext(ctx, query, object.Kind, object.ID, t, createdAt).Scan(&ev.ID)
		if err == nil {
			return ev, true, nil
		}
		if !isUniqueViolation(err, pendingUniqueIndex) {
			return nil, false, fmt.Errorf("error creating pending notification: %w", err)
		}

		existing, err := r.findPending(ctx, object, t)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotificationNotFound) {
			return nil, false, err
		}
		// The conflicting row was sent between the insert and the lookup.
	}
	return nil, false, fmt.Errorf("%w: %s %s", notification.ErrLedgerConstraintViolation, object, t)
}

func (r *PostgresNotificationRepository) findPending(ctx context.Context, object notification.ObjectRef, t notification.TypeName) (*notification.Event, error) {
	query := `SELECT id, object_kind, object_id, notification_type, created_at, sent_at
               FROM notifications
               WHERE object_kind = $1 AND object_id = $2 AND notification_type = $3 AND sent_at IS NULL`
	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, object.Kind, object.ID, t))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("error getting pending notification: %w", err)
	}
	return ev, nil
}

func (r *PostgresNotificationRepository) MarkSent(ctx context.Context, ids []int64, sentAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE notifications SET sent_at = $1 WHERE id = ANY($2) AND sent_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, sentAt, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("error marking notifications sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n, nil
}

// Pending issues a fresh query each time the sequence is ranged over.
func (r *PostgresNotificationRepository) Pending(ctx context.Context, filter notification.PendingFilter) iter.Seq2[*notification.Event, error] {
	return func(yield func(*notification.Event, error) bool) {
		query, args := pendingQuery(filter)
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("error querying pending notifications: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				yield(nil, fmt.Errorf("error scanning notification row: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error iterating notification rows: %w", err))
		}
	}
}

func pendingQuery(filter notification.PendingFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, object_kind, object_id, notification_type, created_at, sent_at
               FROM notifications WHERE sent_at IS NULL`)
	var args []any
	if !filter.AsOf.IsZero() {
		args = append(args, filter.AsOf)
		fmt.Fprintf(&b, " AND created_at <= $%d", len(args))
	}
	if filter.Object != nil {
		args = append(args, filter.Object.Kind, filter.Object.ID)
		fmt.Fprintf(&b, " AND object_kind = $%d AND object_id = $%d", len(args)-1, len(args))
	}
	b.WriteString(" ORDER BY created_at, id")
	return b.String(), args
}

func (r *PostgresNotificationRepository) DeletePending(ctx context.Context, object notification.ObjectRef, types ...notification.TypeName) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	query := `DELETE FROM notifications
               WHERE object_kind = $1 AND object_id = $2 AND notification_type = ANY($3) AND sent_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, object.Kind, object.ID, pq.Array(typeNames(types)))
	if err != nil {
		return 0, fmt.Errorf("error deleting pending notifications: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresNotificationRepository) Reset(ctx context.Context) error {
	query := `TRUNCATE notifications, notification_marks, run_checkpoints, dispatch_locks RESTART IDENTITY`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("error resetting notification ledger: %w", err)
	}
	return nil
}

// --- TransitionMark Methods ---

func (r *PostgresNotificationRepository) HasMark(ctx context.Context, mark notification.TransitionMark) (bool, error) {
	query := `SELECT EXISTS (
                  SELECT 1 FROM notification_marks
                  WHERE object_kind = $1 AND object_id = $2 AND notification_type = $3 AND mark_key = $4)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, mark.Object.Kind, mark.Object.ID, mark.Type, mark.Key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking transition mark: %w", err)
	}
	return exists, nil
}

// RecordTransition inserts the mark and its pending event in one transaction.
// A mark that already exists leaves the ledger untouched.
func (r *PostgresNotificationRepository) RecordTransition(ctx context.Context, mark notification.TransitionMark, createdAt time.Time) (bool, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("error starting transition transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	markQuery := `INSERT INTO notification_marks (object_kind, object_id, notification_type, mark_key)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT DO NOTHING`
	res, err := tx.ExecContext(ctx, markQuery, mark.Object.Kind, mark.Object.ID, mark.Type, mark.Key)
	if err != nil {
		return false, false, fmt.Errorf("error recording transition mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return false, false, nil
	}

	// The partial unique index is the conflict target, so an existing pending
	// row absorbs the transition without aborting the transaction.
	eventQuery := `INSERT INTO notifications (object_kind, object_id, notification_type, created_at)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (object_kind, object_id, notification_type) WHERE sent_at IS NULL DO NOTHING
               RETURNING id`
	var id int64
	created := true
	err = tx.QueryRowContext(ctx, eventQuery, mark.Object.Kind, mark.Object.ID, mark.Type, createdAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
	} else if err != nil {
		return false, false, fmt.Errorf("error creating pending notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("error committing transition: %w", err)
	}
	return true, created, nil
}

func (r *PostgresNotificationRepository) ClearMarks(ctx context.Context, object notification.ObjectRef, types ...notification.TypeName) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	query := `DELETE FROM notification_marks
               WHERE object_kind = $1 AND object_id = $2 AND notification_type = ANY($3)`
	res, err := r.db.ExecContext(ctx, query, object.Kind, object.ID, pq.Array(typeNames(types)))
	if err != nil {
		return 0, fmt.Errorf("error clearing transition marks: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*notification.Event, error) {
	ev := &notification.Event{}
	if err := row.Scan(&ev.ID, &ev.Object.Kind, &ev.Object.ID, &ev.Type, &ev.CreatedAt, &ev.SentAt); err != nil {
		return nil, err
	}
	return ev, nil
}

func typeNames(types []notification.TypeName) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// isUniqueViolation reports whether err is a unique violation, optionally on
// a specific constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
