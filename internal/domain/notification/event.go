// internal/domain/notification/event.go
package notification

import (
	"database/sql"
	"time"
)

// Event is one ledger row: a notification of a given type about one object.
// An event is pending until SentAt is set.
type Event struct {
	ID        int64
	Object    ObjectRef
	Type      TypeName
	CreatedAt time.Time
	SentAt    sql.NullTime
}

func (e *Event) Pending() bool {
	return !e.SentAt.Valid
}

// PendingFilter narrows a pending scan. A zero AsOf means no upper bound on
// creation time; a nil Object means every object.
type PendingFilter struct {
	AsOf   time.Time
	Object *ObjectRef
}

// Matches reports whether a pending event falls inside the filter.
func (f PendingFilter) Matches(e *Event) bool {
	if !e.Pending() {
		return false
	}
	if !f.AsOf.IsZero() && e.CreatedAt.After(f.AsOf) {
		return false
	}
	if f.Object != nil && *f.Object != e.Object {
		return false
	}
	return true
}

// TransitionMark records that an edge-triggered type already fired for an
// object. Key distinguishes repeated firings, e.g. the due date a reminder
// was computed for.
type TransitionMark struct {
	Object ObjectRef
	Type   TypeName
	Key    string
}
