package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

// Shuffler permutes n elements uniformly. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Drawer runs the draw for one event. DrawEngine is the implementation; the
// HTTP handler and the trigger accept the interface.
type Drawer interface {
	Draw(ctx context.Context, eventID string) (*model.DrawResult, error)
}

var _ Drawer = (*DrawEngine)(nil)

// DrawEngine turns an event's waiting list into Selected and NotSelected
// entrants, once per event.
type DrawEngine struct {
	store    repository.Store
	notifier notify.Notifier
	clock    Clock
	logger   zerolog.Logger

	// mu serializes access to shuffler, which need not be goroutine safe.
	mu       sync.Mutex
	shuffler Shuffler
}

// NewDrawEngine constructs a DrawEngine. A nil shuffler uses the
// process-wide random source.
func NewDrawEngine(store repository.Store, notifier notify.Notifier, clock Clock, shuffler Shuffler) *DrawEngine {
	if notifier == nil {
		notifier = notify.Nop
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if shuffler == nil {
		shuffler = globalShuffler{}
	}
	return &DrawEngine{
		store:    store,
		notifier: notifier,
		clock:    clock,
		shuffler: shuffler,
		logger:   log.With().Str("component", "draw").Logger(),
	}
}

func (d *DrawEngine) shuffle(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shuffler.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// Draw performs the random draw for one event.
//
// The whole computation, shuffle included, runs inside the transaction and
// is redone from scratch if the commit loses a race. An event that is
// already drawn is a no-op reported through DrawResult.AlreadyDrawn, so any
// number of triggers may call Draw for the same event.
func (d *DrawEngine) Draw(ctx context.Context, eventID string) (*model.DrawResult, error) {
	eventID, err := cleanID("event", eventID)
	if err != nil {
		return nil, err
	}

	var (
		result *model.DrawResult
		snap   snapshots
	)
	err = d.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		snap = snapshots{}
		result = &model.DrawResult{EventID: eventID}

		e, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		if e.RandomDrawPerformed {
			result.AlreadyDrawn = true
			return nil
		}
		if e.RegistrationEnd.After(d.clock.Now()) {
			return ErrRegistrationOpen
		}

		ids := e.WaitlistedIDs()
		d.shuffle(ids)
		n := min(e.RemainingCapacity(), len(ids))
		result.Selected = ids[:n]
		result.NotSelected = ids[n:]

		// All reads happen before the first write.
		entrants := make([]*model.Entrant, 0, len(ids))
		for _, id := range ids {
			en, err := tx.Entrant(ctx, id)
			if err != nil {
				return err
			}
			entrants = append(entrants, en)
		}

		before := e.Clone()
		for i, en := range entrants {
			status := model.StatusNotSelected
			if i < n {
				status = model.StatusSelected
			}
			e.Entrants[en.ID] = status
			en.SetStatus(eventID, status)
		}
		e.CurrentEntrantsNumber += n
		e.RandomDrawPerformed = true
		e.WaitingListFilled = true

		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		for _, en := range entrants {
			if err := tx.PutEntrant(ctx, en); err != nil {
				return err
			}
		}
		snap.before, snap.after = before, e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draw event %s: %w", eventID, err)
	}

	if result.AlreadyDrawn {
		d.logger.Debug().Str("event_id", eventID).Msg("draw already performed")
		return result, nil
	}

	notify.Publish(ctx, d.notifier, notify.Diff(snap.before, snap.after, d.clock.Now()))
	d.logger.Info().
		Str("event_id", eventID).
		Int("selected", len(result.Selected)).
		Int("not_selected", len(result.NotSelected)).
		Msg("random draw performed")
	return result, nil
}
