// Package service implements the waitlist business rules on top of the event
// record store: admission (join, leave and the post-draw entrant actions),
// the one-time random draw, and organizer event management.
//
// Every rule is checked inside the store transaction that performs the write,
// never against an earlier read. Notifications are derived from the before
// and after snapshots of the committed attempt and sent only after commit.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput is returned for requests rejected before touching the store.
var ErrInvalidInput = errors.New("invalid input")

// ErrRegistrationClosed is returned when joining an event whose registration
// window has ended.
var ErrRegistrationClosed = errors.New("registration is closed")

// ErrRegistrationOpen is returned when drawing an event whose registration
// window has not ended yet.
var ErrRegistrationOpen = errors.New("registration is still open")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// cleanID trims an identifier and rejects empty values.
func cleanID(kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s id is required", ErrInvalidInput, kind)
	}
	return id, nil
}
