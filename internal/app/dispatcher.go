// internal/app/dispatcher.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/infra/metrics"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DispatcherConfig bounds delivery concurrency and speed.
type DispatcherConfig struct {
	Workers       int
	SendTimeout   time.Duration
	RatePerSecond float64 // 0 disables limiting
}

// Outcome is the result of delivering one digest. Err is a *notification.SendError
// when delivery failed; MarkErr is set when delivery succeeded but the ledger
// could not be updated.
type Outcome struct {
	Address  string
	EventIDs []int64
	Err      error
	MarkErr  error
}

func (o Outcome) Sent() bool {
	return o.Err == nil
}

// Dispatcher delivers digests and marks their events sent.
type Dispatcher struct {
	ledger   notification.Ledger
	renderer notification.Renderer
	sender   notification.Sender
	limiter  *rate.Limiter
	cfg      DispatcherConfig
	clock    func() time.Time
	logger   *logrus.Entry
}

func NewDispatcher(
	ledger notification.Ledger,
	renderer notification.Renderer,
	sender notification.Sender,
	cfg DispatcherConfig,
	clock func() time.Time,
	logger *logrus.Entry,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if clock == nil {
		clock = utcNow
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Dispatcher{
		ledger:   ledger,
		renderer: renderer,
		sender:   sender,
		limiter:  limiter,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.WithField("component", "dispatcher"),
	}
}

// SendAll delivers every digest. An event shared by several digests is marked
// sent only after all of them were delivered; any failure keeps it pending.
// Outcomes are returned in the order of digests.
func (d *Dispatcher) SendAll(ctx context.Context, digests []*notification.Digest) ([]Outcome, error) {
	outcomes := make([]Outcome, len(digests))
	if len(digests) == 0 {
		return outcomes, nil
	}

	pool, err := ants.NewPool(d.cfg.Workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch pool: %w", err)
	}
	defer pool.Release()

	tracker := newSentTracker(digests)
	var wg sync.WaitGroup
	for i, dg := range digests {
		outcomes[i] = Outcome{Address: dg.Address, EventIDs: dg.EventIDs()}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					d.logger.WithFields(logrus.Fields{"address": dg.Address, "panic": p}).Error("Digest delivery panicked")
					outcomes[i].Err = &notification.SendError{Address: dg.Address, Reason: fmt.Sprintf("panic: %v", p)}
					tracker.settle(outcomes[i].EventIDs, false)
				}
			}()
			err := d.deliver(ctx, dg)
			outcomes[i].Err = err
			ready := tracker.settle(outcomes[i].EventIDs, err == nil)
			if err != nil {
				metrics.DigestsSent.WithLabelValues("failed").Inc()
				d.logger.WithFields(logrus.Fields{"address": dg.Address, "error": err}).Error("Digest delivery failed")
				return
			}
			metrics.DigestsSent.WithLabelValues("sent").Inc()
			outcomes[i].MarkErr = d.markSent(ctx, ready)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i].Err = &notification.SendError{Address: dg.Address, Reason: "worker pool rejected delivery", Err: err}
			tracker.settle(outcomes[i].EventIDs, false)
		}
	}
	wg.Wait()
	return outcomes, nil
}

func (d *Dispatcher) deliver(ctx context.Context, dg *notification.Digest) error {
	rendered, err := d.renderer.Render(dg)
	if err != nil {
		return &notification.SendError{Address: dg.Address, Reason: "render failed", Err: err}
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return &notification.SendError{Address: dg.Address, Reason: "rate limiter", Err: err}
		}
	}

	sendCtx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	if err := d.sender.Send(sendCtx, dg.Address, rendered); err != nil {
		var se *notification.SendError
		if errors.As(err, &se) {
			return se
		}
		reason := "sender error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "send timed out"
		}
		return &notification.SendError{Address: dg.Address, Reason: reason, Err: err}
	}
	return nil
}

func (d *Dispatcher) markSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := d.ledger.MarkSent(ctx, ids, d.clock())
	if err != nil {
		d.logger.WithFields(logrus.Fields{"events": len(ids), "error": err}).Error("Failed to mark notifications sent")
		return fmt.Errorf("failed to mark %d notifications sent: %w", len(ids), err)
	}
	metrics.EventsMarkedSent.Add(float64(n))
	return nil
}

// sentTracker counts, per event, the digests that still have to succeed.
type sentTracker struct {
	mu        sync.Mutex
	remaining map[int64]int
	failed    map[int64]bool
}

func newSentTracker(digests []*notification.Digest) *sentTracker {
	t := &sentTracker{remaining: make(map[int64]int), failed: make(map[int64]bool)}
	for _, dg := range digests {
		for _, id := range dg.EventIDs() {
			t.remaining[id]++
		}
	}
	return t
}

// settle records one digest's result and returns the events that became
// safe to mark sent.
func (t *sentTracker) settle(ids []int64, ok bool) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ready []int64
	for _, id := range ids {
		if !ok {
			t.failed[id] = true
			continue
		}
		t.remaining[id]--
		if t.remaining[id] == 0 && !t.failed[id] {
			ready = append(ready, id)
		}
	}
	return ready
}
