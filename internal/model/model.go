// Package model defines the core domain types for the waitlist and draw system.
package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidRecord is returned when a stored or submitted record breaks one of
// the data model rules.
var ErrInvalidRecord = errors.New("invalid record")

// Status is an entrant's position within a single event.
type Status string

const (
	StatusNone        Status = ""
	StatusWaitlist    Status = "Waitlist"
	StatusSelected    Status = "Selected"
	StatusNotSelected Status = "NotSelected"
	StatusCanceled    Status = "Canceled"
	StatusAccepted    Status = "Accepted"
	StatusDeclined    Status = "Declined"
)

var knownStatuses = map[Status]bool{
	StatusWaitlist:    true,
	StatusSelected:    true,
	StatusNotSelected: true,
	StatusCanceled:    true,
	StatusAccepted:    true,
	StatusDeclined:    true,
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return knownStatuses[s]
}

// Counted reports whether the status occupies one of the event's capacity slots.
func (s Status) Counted() bool {
	return s == StatusSelected || s == StatusAccepted
}

// Event is the shared, versioned record for one event.
type Event struct {
	ID                    string            `json:"id" firestore:"id"`
	Name                  string            `json:"name" firestore:"name"`
	Description           string            `json:"description" firestore:"description"`
	Capacity              int               `json:"capacity" firestore:"capacity"`
	WaitingListCapacity   *int              `json:"waiting_list_capacity,omitempty" firestore:"waitingListCapacity"`
	CurrentEntrantsNumber int               `json:"current_entrants_number" firestore:"currentEntrantsNumber"`
	Entrants              map[string]Status `json:"entrants" firestore:"entrants"`
	RegistrationEnd       time.Time         `json:"registration_end" firestore:"registrationEnd"`
	RandomDrawPerformed   bool              `json:"random_draw_performed" firestore:"randomDrawPerformed"`
	WaitingListFilled     bool              `json:"waiting_list_filled" firestore:"waitingListFilled"`
	CreatedAt             time.Time         `json:"created_at" firestore:"createdAt"`

	// Version changes on every committed write.
	Version int64 `json:"version" firestore:"version"`
}

// Validate checks the record against the data model invariants.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event id is empty", ErrInvalidRecord)
	}
	if e.Capacity < 0 {
		return fmt.Errorf("%w: event %s has negative capacity", ErrInvalidRecord, e.ID)
	}
	if e.WaitingListCapacity != nil && *e.WaitingListCapacity < 0 {
		return fmt.Errorf("%w: event %s has negative waiting list capacity", ErrInvalidRecord, e.ID)
	}
	for id, s := range e.Entrants {
		if id == "" {
			return fmt.Errorf("%w: event %s has an empty entrant id", ErrInvalidRecord, e.ID)
		}
		if !s.Valid() {
			return fmt.Errorf("%w: event %s entrant %s has unknown status %q", ErrInvalidRecord, e.ID, id, s)
		}
	}
	if counted := e.CountedEntrants(); counted != e.CurrentEntrantsNumber {
		return fmt.Errorf("%w: event %s current entrants %d does not match %d counted entrants",
			ErrInvalidRecord, e.ID, e.CurrentEntrantsNumber, counted)
	}
	return nil
}

// StatusOf returns the entrant's status and whether they are a member.
func (e *Event) StatusOf(entrantID string) (Status, bool) {
	s, ok := e.Entrants[entrantID]
	return s, ok
}

// WaitlistCount returns the number of entrants currently on the waiting list.
func (e *Event) WaitlistCount() int {
	n := 0
	for _, s := range e.Entrants {
		if s == StatusWaitlist {
			n++
		}
	}
	return n
}

// CountedEntrants returns the number of entrants holding a capacity slot.
func (e *Event) CountedEntrants() int {
	n := 0
	for _, s := range e.Entrants {
		if s.Counted() {
			n++
		}
	}
	return n
}

// RemainingCapacity returns the number of free slots, never negative.
func (e *Event) RemainingCapacity() int {
	return max(0, e.Capacity-e.CurrentEntrantsNumber)
}

// WaitlistFull reports whether a bounded waiting list has no room left.
func (e *Event) WaitlistFull() bool {
	return e.WaitingListCapacity != nil && e.WaitlistCount() >= *e.WaitingListCapacity
}

// WaitlistedIDs returns the waitlisted entrant IDs in lexicographic order.
func (e *Event) WaitlistedIDs() []string {
	ids := make([]string, 0, len(e.Entrants))
	for id, s := range e.Entrants {
		if s == StatusWaitlist {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DrawDue reports whether the event is eligible for the draw at now.
func (e *Event) DrawDue(now time.Time) bool {
	return !e.RandomDrawPerformed && !e.RegistrationEnd.After(now)
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (e *Event) Clone() *Event {
	c := *e
	if e.WaitingListCapacity != nil {
		w := *e.WaitingListCapacity
		c.WaitingListCapacity = &w
	}
	c.Entrants = make(map[string]Status, len(e.Entrants))
	for id, s := range e.Entrants {
		c.Entrants[id] = s
	}
	return &c
}

// Entrant is the per-user view of the events they hold a status for.
type Entrant struct {
	ID string `json:"id" firestore:"id"`

	// Events mirrors the entrant's status in every event they belong to.
	Events map[string]Status `json:"events" firestore:"events"`

	Version int64 `json:"version" firestore:"version"`
}

// JoinedEvents returns the IDs of the events the entrant belongs to, sorted.
func (en *Entrant) JoinedEvents() []string {
	ids := make([]string, 0, len(en.Events))
	for id := range en.Events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetStatus records the entrant's status in an event, allocating the map on first use.
func (en *Entrant) SetStatus(eventID string, s Status) {
	if en.Events == nil {
		en.Events = make(map[string]Status)
	}
	en.Events[eventID] = s
}

// Clone returns a deep copy of the entrant.
func (en *Entrant) Clone() *Entrant {
	c := *en
	c.Events = make(map[string]Status, len(en.Events))
	for id, s := range en.Events {
		c.Events[id] = s
	}
	return &c
}

// Validate rejects malformed entrant records.
func (en *Entrant) Validate() error {
	if en.ID == "" {
		return fmt.Errorf("%w: entrant id is empty", ErrInvalidRecord)
	}
	for eventID, s := range en.Events {
		if !s.Valid() {
			return fmt.Errorf("%w: entrant %s event %s has unknown status %q", ErrInvalidRecord, en.ID, eventID, s)
		}
	}
	return nil
}

// StatusChange is one transition delivered to the notifier.
// OldStatus is StatusNone for a fresh join, NewStatus is StatusNone for a removal.
type StatusChange struct {
	EventID   string    `json:"event_id"`
	EntrantID string    `json:"entrant_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

// DrawResult summarises one invocation of the draw.
type DrawResult struct {
	EventID      string   `json:"event_id"`
	AlreadyDrawn bool     `json:"already_drawn"`
	Selected     []string `json:"selected"`
	NotSelected  []string `json:"not_selected"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	Capacity            int       `json:"capacity"`
	WaitingListCapacity *int      `json:"waiting_list_capacity"`
	RegistrationEnd     time.Time `json:"registration_end"`
}

// UpdateEventRequest carries the organizer-editable fields. Nil fields are left unchanged.
type UpdateEventRequest struct {
	Name                *string    `json:"name"`
	Description         *string    `json:"description"`
	Capacity            *int       `json:"capacity"`
	WaitingListCapacity *int       `json:"waiting_list_capacity"`
	UnlimitedWaitlist   bool       `json:"unlimited_waitlist"`
	RegistrationEnd     *time.Time `json:"registration_end"`
}

// EntrantRequest identifies the entrant acting on an event.
type EntrantRequest struct {
	EntrantID string `json:"entrant_id"`
}

// MembershipResponse reports the caller's own place on an event's list.
// Status is empty once the entrant is no longer a member.
type MembershipResponse struct {
	EventID   string `json:"event_id"`
	EntrantID string `json:"entrant_id"`
	Status    Status `json:"status"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
