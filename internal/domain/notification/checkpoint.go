// internal/domain/notification/checkpoint.go
package notification

import "time"

// RunCheckpoint is the last calendar day classified to completion.
type RunCheckpoint struct {
	LastDate time.Time
}

func (c RunCheckpoint) IsEmpty() bool {
	return c.LastDate.IsZero()
}

// Advance returns a checkpoint covering day. A checkpoint never moves backwards.
func (c RunCheckpoint) Advance(day time.Time) RunCheckpoint {
	day = Day(day)
	if c.IsEmpty() || day.After(c.LastDate) {
		return RunCheckpoint{LastDate: day}
	}
	return c
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DispatchLease guards the dispatch of a single day against concurrent runs.
type DispatchLease struct {
	Day        time.Time
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}
