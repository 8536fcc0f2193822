package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workflow_digest/internal/domain/notification"
)

const classificationCheckpoint = "classification"

// PostgresRunRepository implements notification.CheckpointStore and notification.DispatchLock.
type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

func (r *PostgresRunRepository) LoadCheckpoint(ctx context.Context) (notification.RunCheckpoint, error) {
	query := `SELECT last_date FROM run_checkpoints WHERE name = $1`
	var last time.Time
	err := r.db.QueryRowContext(ctx, query, classificationCheckpoint).Scan(&last)
	if err != nil {
		if err == sql.ErrNoRows {
			return notification.RunCheckpoint{}, nil
		}
		return notification.RunCheckpoint{}, fmt.Errorf("error loading run checkpoint: %w", err)
	}
	return notification.RunCheckpoint{LastDate: notification.Day(last)}, nil
}

// SaveCheckpoint keeps the later of the stored and given dates.
func (r *PostgresRunRepository) SaveCheckpoint(ctx context.Context, cp notification.RunCheckpoint) error {
	if cp.IsEmpty() {
		return nil
	}
	query := `INSERT INTO run_checkpoints (name, last_date) VALUES ($1, $2)
               ON CONFLICT (name) DO UPDATE SET last_date = GREATEST(run_checkpoints.last_date, EXCLUDED.last_date)`
	if _, err := r.db.ExecContext(ctx, query, classificationCheckpoint, cp.LastDate); err != nil {
		return fmt.Errorf("error saving run checkpoint: %w", err)
	}
	return nil
}

// AcquireDispatch takes the day's lease unless another holder has it and it
// has not expired.
func (r *PostgresRunRepository) AcquireDispatch(ctx context.Context, lease notification.DispatchLease) (bool, error) {
	query := `INSERT INTO dispatch_locks (day, holder, acquired_at, expires_at)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (day) DO UPDATE
                   SET holder = EXCLUDED.holder,
                       acquired_at = EXCLUDED.acquired_at,
                       expires_at = EXCLUDED.expires_at,
                       released_at = NULL
                   WHERE dispatch_locks.released_at IS NOT NULL
                      OR dispatch_locks.expires_at <= EXCLUDED.acquired_at
               RETURNING holder`
	var holder string
	err := r.db.QueryRowContext(ctx, query, notification.Day(lease.Day), lease.Holder, lease.AcquiredAt, lease.ExpiresAt).Scan(&holder)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("error acquiring dispatch lease: %w", err)
	}
	return holder == lease.Holder, nil
}

func (r *PostgresRunRepository) ReleaseDispatch(ctx context.Context, lease notification.DispatchLease, releasedAt time.Time) error {
	query := `UPDATE dispatch_locks SET released_at = $1 WHERE day = $2 AND holder = $3 AND released_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, releasedAt, notification.Day(lease.Day), lease.Holder); err != nil {
		return fmt.Errorf("error releasing dispatch lease: %w", err)
	}
	return nil
}
