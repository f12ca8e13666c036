// Package repository defines the event record store used by the admission
// and draw services, together with the error kinds every backend reports.
//
// Every mutation goes through Store.RunTransaction: the callback reads the
// records it needs, checks its preconditions against that snapshot and stages
// writes. The backend commits only if none of the records read were modified
// by someone else in the meantime, and otherwise re-runs the whole callback
// against a fresh snapshot. Callbacks must therefore be free of side effects
// outside the Tx.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
)

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyMember is returned when an entrant joins an event they already belong to.
var ErrAlreadyMember = errors.New("entrant is already on this event's list")

// ErrNotMember is returned when an entrant acts on an event they do not belong to.
var ErrNotMember = errors.New("entrant is not on this event's list")

// ErrInvalidState is returned when an operation is undefined for the entrant's current status.
var ErrInvalidState = errors.New("operation not allowed in the current status")

// ErrFull is returned when the waiting list has no room left.
var ErrFull = errors.New("waiting list is full")

// ErrConflict is returned when a transaction kept losing to concurrent writers
// and ran out of attempts.
var ErrConflict = errors.New("too much contention, try again")

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrInvalidRecord is returned when a record fails validation at the store boundary.
var ErrInvalidRecord = model.ErrInvalidRecord

// Tx is the view of the store available inside a transaction.
type Tx interface {
	// Event returns a private copy of the event or ErrNotFound.
	Event(ctx context.Context, id string) (*model.Event, error)
	// Entrant returns a private copy of the entrant record. A missing record
	// is returned as an empty entrant with Version 0.
	Entrant(ctx context.Context, id string) (*model.Entrant, error)
	PutEvent(ctx context.Context, e *model.Event) error
	PutEntrant(ctx context.Context, en *model.Entrant) error
	DeleteEvent(ctx context.Context, id string) error
	DeleteEntrant(ctx context.Context, id string) error
}

// TxFunc is the body of a transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// ChangeFunc receives an undrawn event from the change feed.
type ChangeFunc func(ctx context.Context, e *model.Event)

// Store is the event record store.
type Store interface {
	RunTransaction(ctx context.Context, fn TxFunc) error

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	// ListDue returns the events whose registration ended at or before now
	// and that have not been drawn yet.
	ListDue(ctx context.Context, now time.Time) ([]model.Event, error)
	GetEntrant(ctx context.Context, id string) (*model.Entrant, error)

	// Watch delivers every added or modified event that has not been drawn
	// until ctx is canceled. It blocks.
	Watch(ctx context.Context, fn ChangeFunc) error

	Close() error
}

// IsPrecondition reports whether err is one of the business rule failures a
// transaction callback returns. Those are never retried.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrNotMember) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrFull) ||
		errors.Is(err, ErrInvalidRecord)
}
