// internal/app/classifier.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"
	"workflow_digest/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// utcNow is the default clock. Calendar days are always UTC days.
func utcNow() time.Time {
	return time.Now().UTC()
}

// ClassifierConfig tunes date-based classification.
type ClassifierConfig struct {
	DueInWindowDays    int
	ReferenceTolerance time.Duration
}

// ClassifyResult summarises one classification pass.
type ClassifyResult struct {
	ReferenceDate time.Time
	Created       int
	Skipped       int
	Checkpoint    notification.RunCheckpoint
}

// Classifier turns workflow state into pending ledger events.
type Classifier struct {
	source   workflow.Source
	ledger   notification.Ledger
	marks    notification.MarkStore
	resolver notification.RecipientResolver
	cfg      ClassifierConfig
	clock    func() time.Time
	logger   *logrus.Entry
}

func NewClassifier(
	source workflow.Source,
	ledger notification.Ledger,
	marks notification.MarkStore,
	resolver notification.RecipientResolver,
	cfg ClassifierConfig,
	clock func() time.Time,
	logger *logrus.Entry,
) *Classifier {
	if clock == nil {
		clock = utcNow
	}
	return &Classifier{
		source:   source,
		ledger:   ledger,
		marks:    marks,
		resolver: resolver,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.WithField("component", "classifier"),
	}
}

// ReferenceDay validates ref against the clock and truncates it to a day.
// A nil ref means today.
func (c *Classifier) ReferenceDay(ref *time.Time) (time.Time, error) {
	now := c.clock()
	if ref == nil {
		return notification.Day(now), nil
	}
	if ref.After(now.Add(c.cfg.ReferenceTolerance)) {
		return time.Time{}, fmt.Errorf("%w: %s", notification.ErrInvalidReferenceDate, ref.Format(time.DateOnly))
	}
	return notification.Day(*ref), nil
}

// Classify runs one pass over every active cycle. The returned checkpoint is
// advanced only when the pass completes without skipping any object; a
// cancelled pass returns the partial result together with the context error.
func (c *Classifier) Classify(ctx context.Context, cp notification.RunCheckpoint, ref *time.Time) (*ClassifyResult, error) {
	refDay, err := c.ReferenceDay(ref)
	if err != nil {
		return nil, err
	}

	cycles, err := c.source.ListActiveCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cycles: %w", err)
	}

	pass := &classifyPass{Classifier: c, cp: cp, refDay: refDay, now: c.clock()}
	res := &ClassifyResult{ReferenceDate: refDay, Checkpoint: cp}
	for _, cycle := range cycles {
		if err := ctx.Err(); err != nil {
			res.Created, res.Skipped = pass.created, pass.skipped
			return res, err
		}
		if err := pass.cycle(ctx, cycle); err != nil {
			res.Created, res.Skipped = pass.created, pass.skipped
			return res, fmt.Errorf("failed to classify cycle %d: %w", cycle.ID, err)
		}
	}

	res.Created, res.Skipped = pass.created, pass.skipped
	// Skipped objects are retried from the same checkpoint so their creation
	// is still announced.
	if res.Skipped == 0 {
		res.Checkpoint = cp.Advance(refDay)
	}
	c.logger.WithFields(logrus.Fields{
		"reference_date": refDay.Format(time.DateOnly),
		"cycles":         len(cycles),
		"created":        res.Created,
		"skipped":        res.Skipped,
	}).Info("Classification pass finished")
	return res, nil
}

type classifyPass struct {
	*Classifier
	cp      notification.RunCheckpoint
	refDay  time.Time
	now     time.Time
	created int
	skipped int
}

func (p *classifyPass) cycle(ctx context.Context, cycle *workflow.Cycle) error {
	cycleOK, err := p.resolvable(ctx, cycle)
	if err != nil {
		return err
	}
	if cycleOK {
		if err := p.newObject(ctx, cycle); err != nil {
			return err
		}
	}

	for _, task := range cycle.Tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := p.resolvable(ctx, task)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := p.task(ctx, task); err != nil {
			return fmt.Errorf("task %d: %w", task.ID, err)
		}
	}

	if cycleOK {
		return p.completion(ctx, cycle)
	}
	return nil
}

// resolvable reports false when the object's recipients are unavailable, in
// which case the object is skipped for this pass.
func (p *classifyPass) resolvable(ctx context.Context, obj workflow.Object) (bool, error) {
	_, err := p.resolver.ResolveRecipients(ctx, obj.Ref())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, notification.ErrResolutionUnavailable) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		p.skipped++
		metrics.ObjectsSkipped.WithLabelValues(string(obj.Ref().Kind)).Inc()
		p.logger.WithFields(logrus.Fields{"object": obj.Ref().String(), "error": err}).Warn("Skipping object, recipients unavailable")
		return false, nil
	}
	return false, err
}

// newObject announces objects created on or after the checkpoint day.
func (p *classifyPass) newObject(ctx context.Context, obj workflow.Object) error {
	if !p.cp.IsEmpty() && obj.Created().Before(p.cp.LastDate) {
		return nil
	}
	return p.emit(ctx, obj.Ref(), notification.TypeManualCycleCreated, "")
}

func (p *classifyPass) task(ctx context.Context, task *workflow.Task) error {
	ref := task.Ref()

	if err := p.newObject(ctx, task); err != nil {
		return err
	}

	if task.IsTerminal() {
		if _, err := p.ledger.DeletePending(ctx, ref, notification.DueTypes...); err != nil {
			return fmt.Errorf("failed to drop due reminders: %w", err)
		}
		if _, err := p.marks.ClearMarks(ctx, ref, notification.DueTypes...); err != nil {
			return fmt.Errorf("failed to clear due marks: %w", err)
		}
	} else if due, ok := task.DueDate(); ok {
		key := due.Format(time.DateOnly)
		window := p.refDay.AddDate(0, 0, p.cfg.DueInWindowDays)
		switch {
		case due.Equal(p.refDay):
			if _, err := p.ledger.DeletePending(ctx, ref, notification.TypeCycleTaskDueIn); err != nil {
				return fmt.Errorf("failed to supersede due_in: %w", err)
			}
			if err := p.emit(ctx, ref, notification.TypeCycleTaskDueToday, key); err != nil {
				return err
			}
		case due.Before(p.refDay):
			if _, err := p.ledger.DeletePending(ctx, ref, notification.TypeCycleTaskDueIn, notification.TypeCycleTaskDueToday); err != nil {
				return fmt.Errorf("failed to supersede due reminders: %w", err)
			}
			if err := p.emit(ctx, ref, notification.TypeCycleTaskOverdue, key); err != nil {
				return err
			}
		case !due.After(window):
			if err := p.emit(ctx, ref, notification.TypeCycleTaskDueIn, key); err != nil {
				return err
			}
		}
	}

	if task.State == workflow.StatusDeclined {
		return p.emit(ctx, ref, notification.TypeCycleTaskDeclined, "")
	}
	if _, err := p.marks.ClearMarks(ctx, ref, notification.TypeCycleTaskDeclined); err != nil {
		return fmt.Errorf("failed to re-arm declined mark: %w", err)
	}
	return nil
}

// completion fires once per completion streak; a regression drops the
// unsent completion event and re-arms the mark.
func (p *classifyPass) completion(ctx context.Context, cycle *workflow.Cycle) error {
	ref := cycle.Ref()
	if cycle.AllTasksTerminal() {
		return p.emit(ctx, ref, notification.TypeAllCycleTasksComplete, "")
	}

	removed, err := p.ledger.DeletePending(ctx, ref, notification.TypeAllCycleTasksComplete)
	if err != nil {
		return fmt.Errorf("failed to drop completion event: %w", err)
	}
	cleared, err := p.marks.ClearMarks(ctx, ref, notification.TypeAllCycleTasksComplete)
	if err != nil {
		return fmt.Errorf("failed to clear completion mark: %w", err)
	}
	if removed > 0 || cleared > 0 {
		p.logger.WithField("object", ref.String()).Info("Cycle reopened, completion notification re-armed")
	}
	return nil
}

// emit records the transition and its pending event unless the transition
// already fired.
func (p *classifyPass) emit(ctx context.Context, ref notification.ObjectRef, t notification.TypeName, key string) error {
	mark := notification.TransitionMark{Object: ref, Type: t, Key: key}
	fired, created, err := p.marks.RecordTransition(ctx, mark, p.now)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", t, err)
	}
	if fired && created {
		p.created++
		metrics.EventsCreated.WithLabelValues(string(t)).Inc()
		p.logger.WithFields(logrus.Fields{"object": ref.String(), "type": t}).Debug("Pending notification created")
	}
	return nil
}
