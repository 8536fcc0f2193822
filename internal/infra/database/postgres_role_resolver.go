package database

import (
	"context"
	"database/sql"
	"fmt"

	"workflow_digest/internal/domain/notification"
)

// PostgresRoleResolver resolves recipients from the workflow system's access
// control list.
type PostgresRoleResolver struct {
	db    *sql.DB
	roles *notification.RoleRegistry
}

func NewPostgresRoleResolver(db *sql.DB, roles *notification.RoleRegistry) *PostgresRoleResolver {
	return &PostgresRoleResolver{db: db, roles: roles}
}

func (r *PostgresRoleResolver) ResolveRecipients(ctx context.Context, object notification.ObjectRef) (notification.Recipients, error) {
	query := `SELECT acr.name, p.email
               FROM access_control_list acl
               JOIN access_control_roles acr ON acr.id = acl.ac_role_id
               JOIN people p ON p.id = acl.person_id
               WHERE acl.object_type = $1 AND acl.object_id = $2
               ORDER BY acr.name, p.email`
	rows, err := r.db.QueryContext(ctx, query, object.Kind, object.ID)
	if err != nil {
		return nil, fmt.Errorf("error querying access control list: %w", err)
	}
	defer rows.Close()

	recipients := make(notification.Recipients)
	for rows.Next() {
		var roleName, email string
		if err := rows.Scan(&roleName, &email); err != nil {
			return nil, fmt.Errorf("error scanning access control row: %w", err)
		}
		category, ok := r.roles.Lookup(roleName)
		if !ok {
			continue
		}
		recipients[category] = append(recipients[category], email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access control rows: %w", err)
	}
	return recipients, nil
}
