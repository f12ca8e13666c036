// Package notify carries entrant status transitions from the admission and
// draw services to whatever delivers them to users.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
)

// Notifier receives status transitions after they have been committed.
// Delivery order across entrants is not guaranteed.
type Notifier interface {
	Notify(ctx context.Context, change model.StatusChange)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, change model.StatusChange)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, change model.StatusChange) {
	f(ctx, change)
}

// Multi fans a change out to every notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, change model.StatusChange) {
	for _, n := range m {
		n.Notify(ctx, change)
	}
}

// Nop drops every change.
var Nop Notifier = NotifierFunc(func(context.Context, model.StatusChange) {})

// Diff returns the per-entrant status transitions between two consecutive
// snapshots of the same event, sorted by entrant ID. Either snapshot may be
// nil: a nil prev snapshot reports every entrant of next as a fresh join, a
// nil next snapshot reports every entrant of prev as removed.
func Diff(prev, next *model.Event, now time.Time) []model.StatusChange {
	var (
		before  map[string]model.Status
		after   map[string]model.Status
		eventID string
	)
	if prev != nil {
		before, eventID = prev.Entrants, prev.ID
	}
	if next != nil {
		after, eventID = next.Entrants, next.ID
	}

	var changes []model.StatusChange
	for id, s := range after {
		if was := before[id]; was != s {
			changes = append(changes, model.StatusChange{
				EventID: eventID, EntrantID: id, OldStatus: was, NewStatus: s, Timestamp: now,
			})
		}
	}
	for id, s := range before {
		if _, still := after[id]; !still {
			changes = append(changes, model.StatusChange{
				EventID: eventID, EntrantID: id, OldStatus: s, NewStatus: model.StatusNone, Timestamp: now,
			})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].EntrantID < changes[j].EntrantID })
	return changes
}

// Publish sends every change to n.
func Publish(ctx context.Context, n Notifier, changes []model.StatusChange) {
	for _, c := range changes {
		n.Notify(ctx, c)
	}
}

// LogNotifier writes every change to a zerolog logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, c model.StatusChange) {
	l.Logger.Info().
		Str("event_id", c.EventID).
		Str("entrant_id", c.EntrantID).
		Str("old_status", string(c.OldStatus)).
		Str("new_status", string(c.NewStatus)).
		Time("at", c.Timestamp).
		Msg("entrant status changed")
}

// Recorder keeps every change in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	changes []model.StatusChange
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, c model.StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

// Changes returns a copy of everything recorded so far.
func (r *Recorder) Changes() []model.StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatusChange(nil), r.changes...)
}

// For returns the recorded changes for one event.
func (r *Recorder) For(eventID string) []model.StatusChange {
	var out []model.StatusChange
	for _, c := range r.Changes() {
		if c.EventID == eventID {
			out = append(out, c)
		}
	}
	return out
}
