package memstore

import (
	"context"
	"fmt"
	"sync"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"
)

// Workflow is an in-memory workflow.Source. Callers mutate the cycles they
// registered directly; reads take the lock.
type Workflow struct {
	mu     sync.RWMutex
	cycles []*workflow.Cycle
	err    error
}

func NewWorkflow(cycles ...*workflow.Cycle) *Workflow {
	return &Workflow{cycles: cycles}
}

func (w *Workflow) AddCycle(c *workflow.Cycle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cycles = append(w.cycles, c)
}

// Update runs fn under the write lock so state changes are not observed half way.
func (w *Workflow) Update(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn()
}

// FailWith makes every read return err until cleared with nil.
func (w *Workflow) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *Workflow) ListActiveCycles(ctx context.Context) ([]*workflow.Cycle, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.err != nil {
		return nil, w.err
	}
	var out []*workflow.Cycle
	for _, c := range w.cycles {
		if c.IsCurrent {
			out = append(out, c)
		}
	}
	return out, nil
}

func (w *Workflow) FindObject(ctx context.Context, ref notification.ObjectRef) (workflow.Object, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.err != nil {
		return nil, w.err
	}
	for _, c := range w.cycles {
		if ref == c.Ref() {
			return c, nil
		}
		for _, t := range c.Tasks {
			if ref == t.Ref() {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", notification.ErrObjectNotFound, ref)
}

// Directory is an in-memory notification.RecipientResolver.
type Directory struct {
	mu      sync.RWMutex
	entries map[notification.ObjectRef]notification.Recipients
	failing map[notification.ObjectRef]error
}

func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[notification.ObjectRef]notification.Recipients),
		failing: make(map[notification.ObjectRef]error),
	}
}

func (d *Directory) Set(ref notification.ObjectRef, recipients notification.Recipients) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[ref] = recipients
}

// Fail makes lookups for ref return err; a nil err clears the failure.
func (d *Directory) Fail(ref notification.ObjectRef, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failing, ref)
		return
	}
	d.failing[ref] = err
}

func (d *Directory) ResolveRecipients(ctx context.Context, ref notification.ObjectRef) (notification.Recipients, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err, ok := d.failing[ref]; ok {
		return nil, err
	}
	out := make(notification.Recipients, len(d.entries[ref]))
	for role, addrs := range d.entries[ref] {
		out[role] = append([]string(nil), addrs...)
	}
	return out, nil
}
