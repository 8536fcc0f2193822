// internal/domain/notification/types.go
package notification

import (
	"fmt"
	"slices"
)

// ObjectKind identifies the kind of workflow object a notification refers to.
type ObjectKind string

const (
	ObjectKindCycle ObjectKind = "Cycle"
	ObjectKindTask  ObjectKind = "CycleTaskGroupObjectTask"
)

// ObjectRef is a stable (kind, id) reference to a workflow object.
type ObjectRef struct {
	Kind ObjectKind
	ID   int64
}

func CycleRef(id int64) ObjectRef { return ObjectRef{Kind: ObjectKindCycle, ID: id} }
func TaskRef(id int64) ObjectRef  { return ObjectRef{Kind: ObjectKindTask, ID: id} }

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// TypeName names an entry in the notification type catalog.
type TypeName string

const (
	TypeManualCycleCreated    TypeName = "manual_cycle_created"
	TypeCycleTaskDueIn        TypeName = "cycle_task_due_in"
	TypeCycleTaskDueToday     TypeName = "cycle_task_due_today"
	TypeCycleTaskOverdue      TypeName = "cycle_task_overdue"
	TypeCycleTaskDeclined     TypeName = "cycle_task_declined"
	TypeAllCycleTasksComplete TypeName = "all_cycle_tasks_completed"
	TypeCommentCreated        TypeName = "comment_created"
)

// Type is an immutable catalog entry. Explicit types are requested by a user
// action and bypass the default digest opt-out of a role.
type Type struct {
	Name     TypeName
	Title    string
	Template string
	Explicit bool
}

var catalog = []Type{
	{Name: TypeManualCycleCreated, Title: "New cycles", Template: "cycle_created"},
	{Name: TypeCycleTaskDueIn, Title: "Tasks due soon", Template: "cycle_task_due_in"},
	{Name: TypeCycleTaskDueToday, Title: "Tasks due today", Template: "cycle_task_due_today"},
	{Name: TypeCycleTaskOverdue, Title: "Overdue tasks", Template: "cycle_task_overdue"},
	{Name: TypeCycleTaskDeclined, Title: "Declined tasks", Template: "cycle_task_declined"},
	{Name: TypeAllCycleTasksComplete, Title: "Completed cycles", Template: "all_cycle_tasks_completed"},
	{Name: TypeCommentCreated, Title: "New comments", Template: "comment_created", Explicit: true},
}

// DueTypes are the types driven by a task's due date.
var DueTypes = []TypeName{TypeCycleTaskDueIn, TypeCycleTaskDueToday, TypeCycleTaskOverdue}

// Catalog returns a copy of every known notification type in display order.
func Catalog() []Type {
	return slices.Clone(catalog)
}

// LookupType finds a catalog entry by name.
func LookupType(name TypeName) (Type, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return Type{}, false
}

func (n TypeName) Valid() bool {
	_, ok := LookupType(n)
	return ok
}

func (n TypeName) Explicit() bool {
	t, ok := LookupType(n)
	return ok && t.Explicit
}

// Rank orders types by catalog position; unknown types sort last.
func (n TypeName) Rank() int {
	for i, t := range catalog {
		if t.Name == n {
			return i
		}
	}
	return len(catalog)
}
