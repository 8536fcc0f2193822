package workflow

import (
	"database/sql"
	"time"

	"workflow_digest/internal/domain/notification"
)

// Status is the lifecycle state of a cycle or cycle task.
type Status string

const (
	StatusAssigned   Status = "Assigned"
	StatusInProgress Status = "In Progress"
	StatusFinished   Status = "Finished"
	StatusDeclined   Status = "Declined"
	StatusVerified   Status = "Verified"
	StatusDeprecated Status = "Deprecated"
)

// Object is a workflow object notifications can be about.
type Object interface {
	Ref() notification.ObjectRef
	Status() Status
	Created() time.Time
	RecipientConfig() notification.RecipientConfig
}

// Cycle is one run of a workflow, owning its tasks.
type Cycle struct {
	ID                   int64
	WorkflowID           int64
	Title                string
	State                Status
	IsCurrent            bool
	VerificationRequired bool
	Recipients           notification.RecipientConfig
	CreatedAt            time.Time
	Tasks                []*Task
}

func (c *Cycle) Ref() notification.ObjectRef                   { return notification.CycleRef(c.ID) }
func (c *Cycle) Status() Status                                { return c.State }
func (c *Cycle) Created() time.Time                            { return c.CreatedAt }
func (c *Cycle) RecipientConfig() notification.RecipientConfig { return c.Recipients }

// AllTasksTerminal reports whether the cycle has tasks and every one of them
// reached a terminal state.
func (c *Cycle) AllTasksTerminal() bool {
	if len(c.Tasks) == 0 {
		return false
	}
	for _, t := range c.Tasks {
		if !t.IsTerminal() {
			return false
		}
	}
	return true
}

// Task is a cycle task group object task: a unit of work with an optional due date.
type Task struct {
	ID                   int64
	CycleID              int64
	Title                string
	State                Status
	EndDate              sql.NullTime // due date
	VerificationRequired bool
	Recipients           notification.RecipientConfig
	CreatedAt            time.Time
}

func (t *Task) Ref() notification.ObjectRef                   { return notification.TaskRef(t.ID) }
func (t *Task) Status() Status                                { return t.State }
func (t *Task) Created() time.Time                            { return t.CreatedAt }
func (t *Task) RecipientConfig() notification.RecipientConfig { return t.Recipients }

// DueDate returns the task's due day, if it has one.
func (t *Task) DueDate() (time.Time, bool) {
	if !t.EndDate.Valid {
		return time.Time{}, false
	}
	return notification.Day(t.EndDate.Time), true
}

// IsTerminal reports whether no further work is expected on the task.
// Declined is not terminal: the task goes back to its assignee.
func (t *Task) IsTerminal() bool {
	switch t.State {
	case StatusVerified, StatusDeprecated:
		return true
	case StatusFinished:
		return !t.VerificationRequired
	default:
		return false
	}
}
