package database

import (
	"context"
	"database/sql"
	"fmt"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresWorkflowRepository reads cycles and tasks from the workflow
// system's tables. Recipient columns hold comma separated role names.
type PostgresWorkflowRepository struct {
	db     *sql.DB
	roles  *notification.RoleRegistry
	logger *logrus.Entry
}

func NewPostgresWorkflowRepository(db *sql.DB, roles *notification.RoleRegistry, logger *logrus.Entry) *PostgresWorkflowRepository {
	return &PostgresWorkflowRepository{
		db:     db,
		roles:  roles,
		logger: logger.WithField("component", "workflow_repository"),
	}
}

const cycleColumns = `c.id, c.workflow_id, c.title, c.status, c.is_current, c.is_verification_needed,
                      c.recipients, c.digest_roles, c.created_at`

const taskColumns = `t.id, t.cycle_id, t.title, t.status, t.end_date, c.is_verification_needed,
                     t.recipients, t.digest_roles, t.created_at`

func (r *PostgresWorkflowRepository) ListActiveCycles(ctx context.Context) ([]*workflow.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles c WHERE c.is_current = TRUE ORDER BY c.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying active cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]*workflow.Cycle, 0)
	byID := make(map[int64]*workflow.Cycle)
	ids := make([]int64, 0)
	for rows.Next() {
		c, err := r.scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cycle row: %w", err)
		}
		cycles = append(cycles, c)
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}
	if len(ids) == 0 {
		return cycles, nil
	}

	taskQuery := `SELECT ` + taskColumns + `
               FROM cycle_task_group_object_tasks t
               JOIN cycles c ON c.id = t.cycle_id
               WHERE t.cycle_id = ANY($1)
               ORDER BY t.cycle_id, t.id`
	taskRows, err := r.db.QueryContext(ctx, taskQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying cycle tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		t, err := r.scanTask(taskRows)
		if err != nil {
			return nil, fmt.Errorf("error scanning task row: %w", err)
		}
		if c, ok := byID[t.CycleID]; ok {
			c.Tasks = append(c.Tasks, t)
		}
	}
	if err := taskRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return cycles, nil
}

func (r *PostgresWorkflowRepository) FindObject(ctx context.Context, ref notification.ObjectRef) (workflow.Object, error) {
	var (
		obj workflow.Object
		err error
	)
	switch ref.Kind {
	case notification.ObjectKindCycle:
		query := `SELECT ` + cycleColumns + ` FROM cycles c WHERE c.id = $1`
		obj, err = r.scanCycle(r.db.QueryRowContext(ctx, query, ref.ID))
	case notification.ObjectKindTask:
		query := `SELECT ` + taskColumns + `
                   FROM cycle_task_group_object_tasks t
                   JOIN cycles c ON c.id = t.cycle_id
                   WHERE t.id = $1`
		obj, err = r.scanTask(r.db.QueryRowContext(ctx, query, ref.ID))
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", notification.ErrObjectNotFound, ref.Kind)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", notification.ErrObjectNotFound, ref)
		}
		return nil, fmt.Errorf("error getting %s: %w", ref, err)
	}
	return obj, nil
}

func (r *PostgresWorkflowRepository) scanCycle(row rowScanner) (*workflow.Cycle, error) {
	c := &workflow.Cycle{}
	var recipients, digestRoles string
	if err := row.Scan(&c.ID, &c.WorkflowID, &c.Title, &c.State, &c.IsCurrent, &c.VerificationRequired,
		&recipients, &digestRoles, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Recipients = r.recipientConfig(c.Ref(), recipients, digestRoles)
	return c, nil
}

func (r *PostgresWorkflowRepository) scanTask(row rowScanner) (*workflow.Task, error) {
	t := &workflow.Task{}
	var recipients, digestRoles string
	if err := row.Scan(&t.ID, &t.CycleID, &t.Title, &t.State, &t.EndDate, &t.VerificationRequired,
		&recipients, &digestRoles, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Recipients = r.recipientConfig(t.Ref(), recipients, digestRoles)
	return t, nil
}

func (r *PostgresWorkflowRepository) recipientConfig(ref notification.ObjectRef, recipients, digestRoles string) notification.RecipientConfig {
	rs, unknown := r.roles.ParseRoleSet(recipients)
	ds, unknownDigest := r.roles.ParseRoleSet(digestRoles)
	if len(unknown)+len(unknownDigest) > 0 {
		r.logger.WithFields(logrus.Fields{
			"object": ref.String(),
			"roles":  append(unknown, unknownDigest...),
		}).Warn("Ignoring unknown recipient roles")
	}
	return notification.RecipientConfig{Recipients: rs, DigestRoles: ds}
}
