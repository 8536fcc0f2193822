// internal/app/aggregator.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"

	"github.com/sirupsen/logrus"
)

// Aggregator groups pending events into per-recipient digests. It never
// mutates the ledger.
type Aggregator struct {
	ledger   notification.Ledger
	source   workflow.Source
	resolver notification.RecipientResolver
	logger   *logrus.Entry
}

func NewAggregator(ledger notification.Ledger, source workflow.Source, resolver notification.RecipientResolver, logger *logrus.Entry) *Aggregator {
	return &Aggregator{
		ledger:   ledger,
		source:   source,
		resolver: resolver,
		logger:   logger.WithField("component", "aggregator"),
	}
}

// objectAudience is the resolved audience of one object for one build.
type objectAudience struct {
	cfg        notification.RecipientConfig
	recipients notification.Recipients
	ok         bool
}

// BuildDigests returns one digest per address with pending events created
// at or before asOf. Addresses appear in order of first discovery, types
// within a digest likewise, events in ledger order.
func (a *Aggregator) BuildDigests(ctx context.Context, asOf time.Time) ([]*notification.Digest, error) {
	b := newDigestBuilder()
	audiences := make(map[notification.ObjectRef]objectAudience)

	for ev, err := range a.ledger.Pending(ctx, notification.PendingFilter{AsOf: asOf}) {
		if err != nil {
			return nil, fmt.Errorf("failed to read pending notifications: %w", err)
		}
		aud, ok := audiences[ev.Object]
		if !ok {
			aud, err = a.audience(ctx, ev.Object)
			if err != nil {
				return nil, err
			}
			audiences[ev.Object] = aud
		}
		if !aud.ok {
			continue
		}
		for _, addr := range aud.recipients.AddressesFor(aud.cfg, ev.Type.Explicit()) {
			b.add(addr, ev)
		}
	}
	return b.digests, nil
}

// PendingFor returns the digest one address would receive, or nil.
func (a *Aggregator) PendingFor(ctx context.Context, asOf time.Time, address string) (*notification.Digest, error) {
	digests, err := a.BuildDigests(ctx, asOf)
	if err != nil {
		return nil, err
	}
	for _, d := range digests {
		if d.Address == address {
			return d, nil
		}
	}
	return nil, nil
}

// UnsentCounts reports pending event counts per address and type.
func (a *Aggregator) UnsentCounts(ctx context.Context, asOf time.Time) (map[string]map[notification.TypeName]int, error) {
	digests, err := a.BuildDigests(ctx, asOf)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[notification.TypeName]int, len(digests))
	for _, d := range digests {
		byType := make(map[notification.TypeName]int, len(d.Groups))
		for _, g := range d.Groups {
			byType[g.Type] = len(g.Events)
		}
		out[d.Address] = byType
	}
	return out, nil
}

func (a *Aggregator) audience(ctx context.Context, ref notification.ObjectRef) (objectAudience, error) {
	if err := ctx.Err(); err != nil {
		return objectAudience{}, err
	}
	obj, err := a.source.FindObject(ctx, ref)
	if err != nil {
		if errors.Is(err, notification.ErrObjectNotFound) {
			a.logger.WithField("object", ref.String()).Warn("Pending notification for unknown object, leaving it pending")
			return objectAudience{}, nil
		}
		return objectAudience{}, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	recipients, err := a.resolver.ResolveRecipients(ctx, ref)
	if err != nil {
		if errors.Is(err, notification.ErrResolutionUnavailable) && ctx.Err() == nil {
			a.logger.WithFields(logrus.Fields{"object": ref.String(), "error": err}).Warn("Recipients unavailable, events stay pending")
			return objectAudience{}, nil
		}
		return objectAudience{}, err
	}
	return objectAudience{cfg: obj.RecipientConfig(), recipients: recipients, ok: true}, nil
}

type digestBuilder struct {
	digests []*notification.Digest
	byAddr  map[string]*notification.Digest
	seen    map[string]map[int64]struct{}
}

func newDigestBuilder() *digestBuilder {
	return &digestBuilder{
		byAddr: make(map[string]*notification.Digest),
		seen:   make(map[string]map[int64]struct{}),
	}
}

func (b *digestBuilder) add(addr string, ev *notification.Event) {
	d, ok := b.byAddr[addr]
	if !ok {
		d = &notification.Digest{Address: addr}
		b.byAddr[addr] = d
		b.seen[addr] = make(map[int64]struct{})
		b.digests = append(b.digests, d)
	}
	if _, dup := b.seen[addr][ev.ID]; dup {
		return
	}
	b.seen[addr][ev.ID] = struct{}{}

	for i := range d.Groups {
		if d.Groups[i].Type == ev.Type {
			d.Groups[i].Events = append(d.Groups[i].Events, ev)
			return
		}
	}
	d.Groups = append(d.Groups, notification.TypeGroup{Type: ev.Type, Events: []*notification.Event{ev}})
}
