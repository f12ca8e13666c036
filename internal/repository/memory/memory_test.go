package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

var testPolicy = repository.RetryPolicy{MaxAttempts: 50, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(WithRetryPolicy(testPolicy))
}

func seedEvent(t *testing.T, s *Store, id string, end time.Time) {
	t.Helper()
	require.NoError(t, s.CreateEvent(context.Background(), &model.Event{
		ID:              id,
		Name:            id,
		Capacity:        2,
		Entrants:        map[string]model.Status{},
		RegistrationEnd: end,
	}))
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = s.CreateEvent(ctx, &model.Event{ID: "e1"})
	assert.Error(t, err, "duplicate id")
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	e.Entrants["intruder"] = model.StatusWaitlist

	again, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, again.Entrants)
}

func TestStore_TransactionCommitsAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		en, err := tx.Entrant(ctx, "u1")
		if err != nil {
			return err
		}
		e.Entrants["u1"] = model.StatusWaitlist
		en.SetStatus("e1", model.StatusWaitlist)
		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		return tx.PutEntrant(ctx, en)
	})
	require.NoError(t, err)

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version)
	assert.Equal(t, model.StatusWaitlist, e.Entrants["u1"])

	en, err := s.GetEntrant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), en.Version)
	assert.Equal(t, []string{"e1"}, en.JoinedEvents())
	assert.Equal(t, 1, s.Commits())
}

func TestStore_ErrorAbortsWithoutWriting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, _ := tx.Event(ctx, "e1")
		e.Name = "renamed"
		if err := tx.PutEvent(ctx, e); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", e.Name)
	assert.Zero(t, s.Commits())
}

func TestStore_StaleReadIsRetried(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		attempts++
		e, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Another writer commits between our read and our commit.
			require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, inner repository.Tx) error {
				other, err := inner.Event(ctx, "e1")
				if err != nil {
					return err
				}
				other.Description = "concurrent"
				return inner.PutEvent(ctx, other)
			}))
		}
		e.Name = "mine"
		return tx.PutEvent(ctx, e)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "mine", e.Name)
	assert.Equal(t, "concurrent", e.Description, "retried attempt must see the other writer's commit")
}

func TestStore_InjectConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())
	s.InjectConflicts(3)

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		attempts++
		e, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		return tx.PutEvent(ctx, e)
	})
	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 1, s.Commits())
}

func TestStore_ExhaustedRetriesReportConflict(t *testing.T) {
	s := New(WithRetryPolicy(repository.RetryPolicy{MaxAttempts: 2}))
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())
	s.InjectConflicts(5)

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		return tx.PutEvent(ctx, e)
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestStore_PutRejectsInvalidRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.Event(ctx, "e1")
		if err != nil {
			return err
		}
		e.CurrentEntrantsNumber = 1 // no counted entrant backs this
		return tx.PutEvent(ctx, e)
	})
	assert.ErrorIs(t, err, repository.ErrInvalidRecord)
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
				e, err := tx.Event(ctx, "e1")
				if err != nil {
					return err
				}
				e.Capacity++
				return tx.PutEvent(ctx, e)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2+writers, e.Capacity, "no increment may be lost")
}

func TestStore_DeleteInTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedEvent(t, s, "e1", time.Now())

	err := s.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Event(ctx, "e1"); err != nil {
			return err
		}
		if err := tx.DeleteEvent(ctx, "e1"); err != nil {
			return err
		}
		_, err := tx.Event(ctx, "e1")
		assert.ErrorIs(t, err, repository.ErrNotFound, "staged delete is visible inside the transaction")
		return nil
	})
	require.NoError(t, err)

	_, err = s.GetEvent(ctx, "e1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ListDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	seedEvent(t, s, "past-b", now.Add(-time.Hour))
	seedEvent(t, s, "past-a", now.Add(-time.Minute))
	seedEvent(t, s, "exact", now)
	seedEvent(t, s, "future", now.Add(time.Hour))
	require.NoError(t, s.CreateEvent(ctx, &model.Event{
		ID: "drawn", Entrants: map[string]model.Status{}, RegistrationEnd: now.Add(-time.Hour), RandomDrawPerformed: true,
	}))

	due, err := s.ListDue(ctx, now)
	require.NoError(t, err)

	var ids []string
	for _, e := range due {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"exact", "past-a", "past-b"}, ids)
}

func TestStore_WatchReplaysThenStreams(t *testing.T) {
	s := newTestStore(t)
	seedEvent(t, s, "e1", time.Now())
	require.NoError(t, s.CreateEvent(context.Background(), &model.Event{
		ID: "drawn", Entrants: map[string]model.Status{}, RandomDrawPerformed: true,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(_ context.Context, e *model.Event) { seen <- e.ID })
	}()

	select {
	case id := <-seen:
		assert.Equal(t, "e1", id, "drawn events are not replayed")
	case <-time.After(time.Second):
		t.Fatal("no replay")
	}

	seedEvent(t, s, "e2", time.Now())
	select {
	case id := <-seen:
		assert.Equal(t, "e2", id)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
