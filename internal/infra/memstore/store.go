// Package memstore keeps the notification ledger and its supporting state in
// process memory. It backs tests and single-process dry runs.
package memstore

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"workflow_digest/internal/domain/notification"
)

type pendingKey struct {
	object notification.ObjectRef
	typ    notification.TypeName
}

// Store implements notification.Ledger, MarkStore, CheckpointStore and DispatchLock.
type Store struct {
	mu         sync.Mutex
	nextID     int64
	events     []*notification.Event
	pending    map[pendingKey]int64
	marks      map[notification.TransitionMark]struct{}
	checkpoint notification.RunCheckpoint
	leases     map[time.Time]leaseState
}

type leaseState struct {
	lease    notification.DispatchLease
	released bool
}

func New() *Store {
	return &Store{
		pending: make(map[pendingKey]int64),
		marks:   make(map[notification.TransitionMark]struct{}),
		leases:  make(map[time.Time]leaseState),
	}
}

func (s *Store) UpsertPending(ctx context.Context, object notification.ObjectRef, t notification.TypeName, createdAt time.Time) (*notification.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, created := s.upsertLocked(object, t, createdAt)
	return ev, created, nil
}

func (s *Store) upsertLocked(object notification.ObjectRef, t notification.TypeName, createdAt time.Time) (*notification.Event, bool) {
	key := pendingKey{object: object, typ: t}
	if id, ok := s.pending[key]; ok {
		return s.copyOf(id), false
	}
	s.nextID++
	ev := &notification.Event{ID: s.nextID, Object: object, Type: t, CreatedAt: createdAt}
	s.events = append(s.events, ev)
	s.pending[key] = ev.ID
	return s.copyOf(ev.ID), true
}

func (s *Store) MarkSent(ctx context.Context, ids []int64, sentAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, ev := range s.events {
		if !ev.Pending() || !slices.Contains(ids, ev.ID) {
			continue
		}
		ev.SentAt.Time = sentAt
		ev.SentAt.Valid = true
		delete(s.pending, pendingKey{object: ev.Object, typ: ev.Type})
		affected++
	}
	return affected, nil
}

// Pending snapshots matching events on every iteration.
func (s *Store) Pending(ctx context.Context, filter notification.PendingFilter) iter.Seq2[*notification.Event, error] {
	return func(yield func(*notification.Event, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		s.mu.Lock()
		var out []*notification.Event
		for _, ev := range s.events {
			if filter.Matches(ev) {
				cp := *ev
				out = append(out, &cp)
			}
		}
		s.mu.Unlock()

		slices.SortStableFunc(out, func(a, b *notification.Event) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for _, ev := range out {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Store) DeletePending(ctx context.Context, object notification.ObjectRef, types ...notification.TypeName) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	s.events = slices.DeleteFunc(s.events, func(ev *notification.Event) bool {
		if ev.Pending() && ev.Object == object && slices.Contains(types, ev.Type) {
			delete(s.pending, pendingKey{object: ev.Object, typ: ev.Type})
			removed++
			return true
		}
		return false
	})
	return removed, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID = 0
	s.events = nil
	s.pending = make(map[pendingKey]int64)
	s.marks = make(map[notification.TransitionMark]struct{})
	s.checkpoint = notification.RunCheckpoint{}
	s.leases = make(map[time.Time]leaseState)
	return nil
}

// Events returns a copy of every ledger row, sent or not, in insertion order.
func (s *Store) Events() []notification.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	return out
}

func (s *Store) HasMark(ctx context.Context, mark notification.TransitionMark) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marks[mark]
	return ok, nil
}

func (s *Store) RecordTransition(ctx context.Context, mark notification.TransitionMark, createdAt time.Time) (bool, bool, error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.marks[mark]; ok {
		return false, false, nil
	}
	s.marks[mark] = struct{}{}
	_, created := s.upsertLocked(mark.Object, mark.Type, createdAt)
	return true, created, nil
}

func (s *Store) ClearMarks(ctx context.Context, object notification.ObjectRef, types ...notification.TypeName) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared int64
	for m := range s.marks {
		if m.Object == object && slices.Contains(types, m.Type) {
			delete(s.marks, m)
			cleared++
		}
	}
	return cleared, nil
}

func (s *Store) LoadCheckpoint(ctx context.Context) (notification.RunCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return notification.RunCheckpoint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp notification.RunCheckpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !cp.IsEmpty() {
		s.checkpoint = s.checkpoint.Advance(cp.LastDate)
	}
	return nil
}

func (s *Store) AcquireDispatch(ctx context.Context, lease notification.DispatchLease) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	day := notification.Day(lease.Day)
	if cur, ok := s.leases[day]; ok && !cur.released && cur.lease.ExpiresAt.After(lease.AcquiredAt) {
		return false, nil
	}
	s.leases[day] = leaseState{lease: lease}
	return true, nil
}

func (s *Store) ReleaseDispatch(ctx context.Context, lease notification.DispatchLease, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	day := notification.Day(lease.Day)
	if cur, ok := s.leases[day]; ok && cur.lease.Holder == lease.Holder {
		cur.released = true
		s.leases[day] = cur
	}
	return nil
}

func (s *Store) copyOf(id int64) *notification.Event {
	for _, ev := range s.events {
		if ev.ID == id {
			cp := *ev
			return &cp
		}
	}
	return nil
}
