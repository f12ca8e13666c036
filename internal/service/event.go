package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

// MaxCapacity bounds both capacity and waiting list capacity.
const MaxCapacity = 100_000

// EventService orchestrates organizer operations on events.
type EventService struct {
	store    repository.Store
	notifier notify.Notifier
	clock    Clock
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, notifier notify.Notifier, clock Clock) *EventService {
	if notifier == nil {
		notifier = notify.Nop
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &EventService{store: store, notifier: notifier, clock: clock}
}

func validateCapacity(field string, v int) error {
	if v < 0 {
		return fmt.Errorf("%w: %s cannot be negative", ErrInvalidInput, field)
	}
	if v > MaxCapacity {
		return fmt.Errorf("%w: %s cannot exceed 100,000", ErrInvalidInput, field)
	}
	return nil
}

// CreateEvent validates the request and stores an empty event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	if err := validateCapacity("capacity", req.Capacity); err != nil {
		return nil, err
	}
	if req.WaitingListCapacity != nil {
		if err := validateCapacity("waiting list capacity", *req.WaitingListCapacity); err != nil {
			return nil, err
		}
	}
	if req.RegistrationEnd.IsZero() {
		return nil, fmt.Errorf("%w: registration end is required", ErrInvalidInput)
	}

	e := &model.Event{
		ID:                  uuid.New().String(),
		Name:                req.Name,
		Description:         req.Description,
		Capacity:            req.Capacity,
		WaitingListCapacity: req.WaitingListCapacity,
		Entrants:            map[string]model.Status{},
		RegistrationEnd:     req.RegistrationEnd.UTC(),
		CreatedAt:           s.clock.Now(),
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	id, err := cleanID("event", id)
	if err != nil {
		return nil, err
	}
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// UpdateEvent applies the organizer-editable fields. Capacity may not drop
// below the entrants already holding a slot, the waiting list capacity may
// not drop below the current waiting list, and the registration window is
// frozen once the draw has run.
func (s *EventService) UpdateEvent(ctx context.Context, id string, req model.UpdateEventRequest) (*model.Event, error) {
	id, err := cleanID("event", id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	if req.Capacity != nil {
		if err := validateCapacity("capacity", *req.Capacity); err != nil {
			return nil, err
		}
	}
	if req.WaitingListCapacity != nil {
		if err := validateCapacity("waiting list capacity", *req.WaitingListCapacity); err != nil {
			return nil, err
		}
	}

	var updated *model.Event
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			e.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			e.Description = *req.Description
		}
		if req.Capacity != nil {
			if *req.Capacity < e.CurrentEntrantsNumber {
				return fmt.Errorf("%w: capacity %d is below the %d entrants already admitted",
					ErrInvalidInput, *req.Capacity, e.CurrentEntrantsNumber)
			}
			e.Capacity = *req.Capacity
		}
		switch {
		case req.UnlimitedWaitlist:
			e.WaitingListCapacity = nil
		case req.WaitingListCapacity != nil:
			if *req.WaitingListCapacity < e.WaitlistCount() {
				return fmt.Errorf("%w: waiting list capacity %d is below the %d entrants already waiting",
					ErrInvalidInput, *req.WaitingListCapacity, e.WaitlistCount())
			}
			w := *req.WaitingListCapacity
			e.WaitingListCapacity = &w
		}
		if req.RegistrationEnd != nil {
			if e.RandomDrawPerformed {
				return repository.ErrInvalidState
			}
			e.RegistrationEnd = req.RegistrationEnd.UTC()
		}
		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return updated, nil
}

// DeleteEvent removes the event and drops it from every member's entrant
// record in the same transaction.
func (s *EventService) DeleteEvent(ctx context.Context, id string) error {
	id, err := cleanID("event", id)
	if err != nil {
		return err
	}

	var before *model.Event
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, id)
		if err != nil {
			return err
		}

		members := make([]*model.Entrant, 0, len(e.Entrants))
		for entrantID := range e.Entrants {
			en, err := tx.Entrant(ctx, entrantID)
			if err != nil {
				return err
			}
			members = append(members, en)
		}

		if err := tx.DeleteEvent(ctx, id); err != nil {
			return err
		}
		for _, en := range members {
			delete(en.Events, id)
			if len(en.Events) == 0 {
				if err := tx.DeleteEntrant(ctx, en.ID); err != nil {
					return err
				}
				continue
			}
			if err := tx.PutEntrant(ctx, en); err != nil {
				return err
			}
		}
		before = e
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	notify.Publish(ctx, s.notifier, notify.Diff(before, nil, s.clock.Now()))
	return nil
}

// JoinedEvents returns the events the entrant currently holds any status for.
func (s *EventService) JoinedEvents(ctx context.Context, entrantID string) ([]model.Event, error) {
	entrantID, err := cleanID("entrant", entrantID)
	if err != nil {
		return nil, err
	}
	en, err := s.store.GetEntrant(ctx, entrantID)
	if err != nil {
		return nil, fmt.Errorf("get entrant: %w", err)
	}

	events := make([]model.Event, 0, len(en.Events))
	for _, id := range en.JoinedEvents() {
		e, err := s.store.GetEvent(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get event %s: %w", id, err)
		}
		events = append(events, *e)
	}
	return events, nil
}
