package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

// AdmissionService lets entrants join and leave an event's waiting list and
// act on the outcome of the draw.
type AdmissionService struct {
	store    repository.Store
	notifier notify.Notifier
	clock    Clock
	logger   zerolog.Logger
}

// NewAdmissionService constructs an AdmissionService with its dependencies.
func NewAdmissionService(store repository.Store, notifier notify.Notifier, clock Clock) *AdmissionService {
	if notifier == nil {
		notifier = notify.Nop
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &AdmissionService{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   log.With().Str("component", "admission").Logger(),
	}
}

// snapshots holds the event before and after the committed attempt.
type snapshots struct {
	before, after *model.Event
}

// Join puts the entrant on the event's waiting list.
//
// Fails with repository.ErrNotFound, repository.ErrAlreadyMember,
// repository.ErrFull or ErrRegistrationClosed, all decided inside the
// transaction so two racing joins cannot both take the last waitlist spot.
func (s *AdmissionService) Join(ctx context.Context, eventID, entrantID string) error {
	eventID, entrantID, err := cleanIDs(eventID, entrantID)
	if err != nil {
		return err
	}

	var snap snapshots
	err = s.store.RunTransaction(ctx, joinTx(eventID, entrantID, s.clock, &snap))
	if err != nil {
		return fmt.Errorf("join waiting list: %w", err)
	}

	s.publish(ctx, snap)
	s.logger.Debug().Str("event_id", eventID).Str("entrant_id", entrantID).Msg("joined waiting list")
	return nil
}

func joinTx(eventID, entrantID string, clock Clock, snap *snapshots) repository.TxFunc {
	return func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		if _, ok := e.StatusOf(entrantID); ok {
			return repository.ErrAlreadyMember
		}
		if e.RandomDrawPerformed || !clock.Now().Before(e.RegistrationEnd) {
			return ErrRegistrationClosed
		}
		if e.WaitlistFull() {
			return repository.ErrFull
		}

		en, err := tx.Entrant(ctx, entrantID)
		if err != nil {
			return err
		}

		before := e.Clone()
		if e.Entrants == nil {
			e.Entrants = make(map[string]model.Status)
		}
		e.Entrants[entrantID] = model.StatusWaitlist
		en.SetStatus(eventID, model.StatusWaitlist)

		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		if err := tx.PutEntrant(ctx, en); err != nil {
			return err
		}
		snap.before, snap.after = before, e
		return nil
	}
}

// Leave takes the entrant off the waiting list. Only waitlisted entrants can
// leave; fails with repository.ErrNotFound, repository.ErrNotMember or
// repository.ErrInvalidState.
func (s *AdmissionService) Leave(ctx context.Context, eventID, entrantID string) error {
	eventID, entrantID, err := cleanIDs(eventID, entrantID)
	if err != nil {
		return err
	}

	var snap snapshots
	err = s.store.RunTransaction(ctx, leaveTx(eventID, entrantID, &snap))
	if err != nil {
		return fmt.Errorf("leave waiting list: %w", err)
	}

	s.publish(ctx, snap)
	s.logger.Debug().Str("event_id", eventID).Str("entrant_id", entrantID).Msg("left waiting list")
	return nil
}

func leaveTx(eventID, entrantID string, snap *snapshots) repository.TxFunc {
	return func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		status, ok := e.StatusOf(entrantID)
		if !ok {
			return repository.ErrNotMember
		}
		if status != model.StatusWaitlist {
			return repository.ErrInvalidState
		}

		en, err := tx.Entrant(ctx, entrantID)
		if err != nil {
			return err
		}

		before := e.Clone()
		delete(e.Entrants, entrantID)
		delete(en.Events, eventID)

		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		if err := tx.PutEntrant(ctx, en); err != nil {
			return err
		}
		snap.before, snap.after = before, e
		return nil
	}
}

// Accept confirms a selected entrant's place.
func (s *AdmissionService) Accept(ctx context.Context, eventID, entrantID string) error {
	return s.transition(ctx, "accept invitation", eventID, entrantID,
		[]model.Status{model.StatusSelected}, model.StatusAccepted)
}

// Decline gives up a selected entrant's place, freeing the slot.
func (s *AdmissionService) Decline(ctx context.Context, eventID, entrantID string) error {
	return s.transition(ctx, "decline invitation", eventID, entrantID,
		[]model.Status{model.StatusSelected}, model.StatusDeclined)
}

// Cancel is the organizer removing an entrant from contention. A canceled
// entrant that held a slot frees it.
func (s *AdmissionService) Cancel(ctx context.Context, eventID, entrantID string) error {
	return s.transition(ctx, "cancel entrant", eventID, entrantID,
		[]model.Status{model.StatusWaitlist, model.StatusSelected, model.StatusAccepted}, model.StatusCanceled)
}

func (s *AdmissionService) transition(ctx context.Context, op, eventID, entrantID string, from []model.Status, to model.Status) error {
	eventID, entrantID, err := cleanIDs(eventID, entrantID)
	if err != nil {
		return err
	}

	var snap snapshots
	err = s.store.RunTransaction(ctx, transitionTx(eventID, entrantID, from, to, &snap))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, snap)
	s.logger.Debug().Str("event_id", eventID).Str("entrant_id", entrantID).Str("status", string(to)).Msg(op)
	return nil
}

func transitionTx(eventID, entrantID string, from []model.Status, to model.Status, snap *snapshots) repository.TxFunc {
	return func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, eventID)
		if err != nil {
			return err
		}
		current, ok := e.StatusOf(entrantID)
		if !ok {
			return repository.ErrNotMember
		}
		if !slices.Contains(from, current) {
			return repository.ErrInvalidState
		}

		en, err := tx.Entrant(ctx, entrantID)
		if err != nil {
			return err
		}

		before := e.Clone()
		e.Entrants[entrantID] = to
		e.CurrentEntrantsNumber += countDelta(current, to)
		en.SetStatus(eventID, to)

		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		if err := tx.PutEntrant(ctx, en); err != nil {
			return err
		}
		snap.before, snap.after = before, e
		return nil
	}
}

// countDelta is the change in occupied slots when moving between statuses.
func countDelta(from, to model.Status) int {
	d := 0
	if from.Counted() {
		d--
	}
	if to.Counted() {
		d++
	}
	return d
}

func (s *AdmissionService) publish(ctx context.Context, snap snapshots) {
	notify.Publish(ctx, s.notifier, notify.Diff(snap.before, snap.after, s.clock.Now()))
}

func cleanIDs(eventID, entrantID string) (string, string, error) {
	eventID, err := cleanID("event", eventID)
	if err != nil {
		return "", "", err
	}
	entrantID, err = cleanID("entrant", entrantID)
	if err != nil {
		return "", "", err
	}
	return eventID, entrantID, nil
}
