package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository/memory"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/testutil"
)

var (
	t0          = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	regEnd      = t0.Add(24 * time.Hour)
	afterRegEnd = regEnd.Add(time.Minute)
)

type fixture struct {
	store     *memory.Store
	clock     *testutil.ManualClock
	recorder  *notify.Recorder
	events    *EventService
	admission *AdmissionService
	draws     *DrawEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(memory.WithRetryPolicy(repository.RetryPolicy{
		MaxAttempts: 200,
		BaseDelay:   time.Microsecond,
		MaxDelay:    200 * time.Microsecond,
	}))
	clock := testutil.NewManualClock(t0)
	rec := &notify.Recorder{}
	return &fixture{
		store:     store,
		clock:     clock,
		recorder:  rec,
		events:    NewEventService(store, rec, clock),
		admission: NewAdmissionService(store, rec, clock),
		draws:     NewDrawEngine(store, rec, clock, rand.New(rand.NewPCG(1, 2))),
	}
}

func (f *fixture) createEvent(t *testing.T, capacity int, waitlist *int) *model.Event {
	t.Helper()
	e, err := f.events.CreateEvent(context.Background(), model.CreateEventRequest{
		Name:                "Swim Lessons",
		Capacity:            capacity,
		WaitingListCapacity: waitlist,
		RegistrationEnd:     regEnd,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) join(t *testing.T, eventID string, entrants ...string) {
	t.Helper()
	for _, id := range entrants {
		require.NoError(t, f.admission.Join(context.Background(), eventID, id))
	}
}

func (f *fixture) event(t *testing.T, id string) *model.Event {
	t.Helper()
	e, err := f.store.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, e.Validate())
	return e
}

// requireMirrored checks that every entrant record agrees with the event.
func (f *fixture) requireMirrored(t *testing.T, e *model.Event) {
	t.Helper()
	for id, s := range e.Entrants {
		en, err := f.store.GetEntrant(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, s, en.Events[e.ID], "entrant %s record disagrees with event", id)
	}
}

func entrantIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("entrant-%02d", i)
	}
	return ids
}

func intPtr(v int) *int { return &v }
