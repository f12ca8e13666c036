package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

func strPtr(s string) *string { return &s }

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)
	e := f.createEvent(t, 20, intPtr(50))

	_, err := uuid.Parse(e.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Swim Lessons", e.Name)
	assert.Equal(t, t0, e.CreatedAt)
	assert.Empty(t, e.Entrants)
	assert.False(t, e.RandomDrawPerformed)

	stored := f.event(t, e.ID)
	assert.Equal(t, 50, *stored.WaitingListCapacity)
}

func TestCreateEvent_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.CreateEventRequest
	}{
		{"missing name", model.CreateEventRequest{Name: "  ", Capacity: 1, RegistrationEnd: regEnd}},
		{"negative capacity", model.CreateEventRequest{Name: "x", Capacity: -1, RegistrationEnd: regEnd}},
		{"capacity too large", model.CreateEventRequest{Name: "x", Capacity: MaxCapacity + 1, RegistrationEnd: regEnd}},
		{"negative waitlist", model.CreateEventRequest{Name: "x", Capacity: 1, WaitingListCapacity: intPtr(-1), RegistrationEnd: regEnd}},
		{"missing registration end", model.CreateEventRequest{Name: "x", Capacity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.events.CreateEvent(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestGetAndListEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createEvent(t, 1, nil)
	f.clock.Advance(time.Minute)
	second := f.createEvent(t, 1, nil)

	got, err := f.events.GetEvent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = f.events.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	list, err := f.events.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
}

func TestUpdateEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createEvent(t, 2, intPtr(3))
	f.join(t, e.ID, "a", "b")

	newEnd := regEnd.Add(time.Hour)
	got, err := f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{
		Name:                strPtr("Advanced Swim"),
		Capacity:            intPtr(4),
		WaitingListCapacity: intPtr(2),
		RegistrationEnd:     &newEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, "Advanced Swim", got.Name)
	assert.Equal(t, 4, got.Capacity)
	assert.Equal(t, 2, *got.WaitingListCapacity)
	assert.Equal(t, newEnd, got.RegistrationEnd)
	assert.Len(t, got.Entrants, 2, "entrants are untouched")

	_, err = f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{WaitingListCapacity: intPtr(1)})
	assert.ErrorIs(t, err, ErrInvalidInput, "cannot shrink below the current waiting list")

	got, err = f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{UnlimitedWaitlist: true})
	require.NoError(t, err)
	assert.Nil(t, got.WaitingListCapacity)

	_, err = f.events.UpdateEvent(ctx, "missing", model.UpdateEventRequest{Name: strPtr("x")})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{Name: strPtr("")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateEvent_AfterDraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := drawn(t, f, 2, "a", "b", "c")

	_, err := f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{Capacity: intPtr(1)})
	assert.ErrorIs(t, err, ErrInvalidInput, "capacity cannot drop below admitted entrants")

	later := afterRegEnd.Add(time.Hour)
	_, err = f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{RegistrationEnd: &later})
	assert.ErrorIs(t, err, repository.ErrInvalidState)

	got, err := f.events.UpdateEvent(ctx, e.ID, model.UpdateEventRequest{Description: strPtr("moved to pool B")})
	require.NoError(t, err)
	assert.Equal(t, "moved to pool B", got.Description)
	assert.True(t, got.RandomDrawPerformed)
}

func TestDeleteEvent_RemovesDerivedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := f.createEvent(t, 1, nil)
	gone := f.createEvent(t, 1, nil)
	f.join(t, keep.ID, "a")
	f.join(t, gone.ID, "a", "b")

	require.NoError(t, f.events.DeleteEvent(ctx, gone.ID))

	_, err := f.events.GetEvent(ctx, gone.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	a, err := f.store.GetEntrant(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, a.JoinedEvents())

	b, err := f.store.GetEntrant(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.Events)
	assert.Zero(t, b.Version, "records left with no events are removed")

	changes := f.recorder.For(gone.ID)
	removals := changes[len(changes)-2:]
	for _, c := range removals {
		assert.Equal(t, model.StatusNone, c.NewStatus)
	}

	err = f.events.DeleteEvent(ctx, gone.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJoinedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.createEvent(t, 1, nil)
	e2 := f.createEvent(t, 1, nil)
	f.createEvent(t, 1, nil)
	f.join(t, e1.ID, "a")
	f.join(t, e2.ID, "a")

	events, err := f.events.JoinedEvents(ctx, "a")
	require.NoError(t, err)
	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{e1.ID, e2.ID}, ids)

	none, err := f.events.JoinedEvents(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.events.JoinedEvents(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
