// Package memory is an in-process event record store with optimistic
// concurrency control. Transactions record the version of every record they
// read, buffer their writes, and commit only if all of those versions are
// still current.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

// missing is the version recorded for a read that found no record.
const missing int64 = -1

const watchBuffer = 64

var _ repository.Store = (*Store)(nil)

// Store keeps committed records in maps guarded by a single mutex.
type Store struct {
	policy repository.RetryPolicy
	logger zerolog.Logger

	mu       sync.Mutex
	events   map[string]*model.Event
	entrants map[string]*model.Entrant
	watchers map[int]chan *model.Event
	nextID   int

	// injected conflicts, see InjectConflicts
	failCommits int
	commits     int
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p repository.RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		policy:   repository.DefaultRetryPolicy,
		logger:   log.With().Str("component", "memory_store").Logger(),
		events:   make(map[string]*model.Event),
		entrants: make(map[string]*model.Entrant),
		watchers: make(map[int]chan *model.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectConflicts makes the next n commits fail as if another writer had won
// the race, forcing the transaction body to run again.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// Commits returns the number of transactions that committed at least one write.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// RunTransaction runs fn with retries until it commits or fails for good.
func (s *Store) RunTransaction(ctx context.Context, fn repository.TxFunc) error {
	return s.policy.Retry(ctx, func(ctx context.Context) error {
		t := newTx(s)
		if err := fn(ctx, t); err != nil {
			return err
		}
		// A canceled caller never commits.
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.commit(t)
	})
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()

	if s.failCommits > 0 {
		s.failCommits--
		s.mu.Unlock()
		return repository.Conflict(fmt.Errorf("injected conflict"))
	}

	for id, seen := range t.readEvents {
		if current := versionOf(s.events[id]); current != seen {
			s.mu.Unlock()
			return repository.Conflict(fmt.Errorf("event %s changed (read version %d, now %d)", id, seen, current))
		}
	}
	for id, seen := range t.readEntrants {
		if current := entrantVersionOf(s.entrants[id]); current != seen {
			s.mu.Unlock()
			return repository.Conflict(fmt.Errorf("entrant %s changed (read version %d, now %d)", id, seen, current))
		}
	}

	// Read-only transactions have nothing to apply.
	if len(t.events) == 0 && len(t.entrants) == 0 {
		s.mu.Unlock()
		return nil
	}

	var changed []*model.Event
	for id, e := range t.events {
		if e == nil {
			delete(s.events, id)
			continue
		}
		stored := e.Clone()
		stored.Version = max(versionOf(s.events[id]), 0) + 1
		s.events[id] = stored
		if !stored.RandomDrawPerformed {
			changed = append(changed, stored.Clone())
		}
	}
	for id, en := range t.entrants {
		if en == nil {
			delete(s.entrants, id)
			continue
		}
		stored := en.Clone()
		stored.Version = max(entrantVersionOf(s.entrants[id]), 0) + 1
		s.entrants[id] = stored
	}
	s.commits++
	s.publishLocked(changed)
	s.mu.Unlock()
	return nil
}

// publishLocked hands changed events to watchers without blocking the commit.
// A full watcher misses the change; the periodic sweep covers that gap.
func (s *Store) publishLocked(changed []*model.Event) {
	for _, e := range changed {
		for id, ch := range s.watchers {
			select {
			case ch <- e.Clone():
			default:
				s.logger.Warn().Int("watcher", id).Str("event_id", e.ID).Msg("watcher buffer full, dropping change")
			}
		}
	}
}

func versionOf(e *model.Event) int64 {
	if e == nil {
		return missing
	}
	return e.Version
}

func entrantVersionOf(en *model.Entrant) int64 {
	if en == nil {
		return missing
	}
	return en.Version
}

// CreateEvent stores a brand new event.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	stored := e.Clone()
	stored.Version = 1
	s.events[e.ID] = stored
	e.Version = stored.Version
	if !stored.RandomDrawPerformed {
		s.publishLocked([]*model.Event{stored})
	}
	return nil
}

// GetEvent returns a copy of the committed event.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e.Clone(), nil
}

// ListEvents returns every event ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	s.mu.Lock()
	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, *e.Clone())
	}
	s.mu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

// ListDue returns undrawn events whose registration ended at or before now.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]model.Event, error) {
	s.mu.Lock()
	var due []model.Event
	for _, e := range s.events {
		if e.DrawDue(now) {
			due = append(due, *e.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// GetEntrant returns the entrant's record, or an empty one if they never joined anything.
func (s *Store) GetEntrant(ctx context.Context, id string) (*model.Entrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if en, ok := s.entrants[id]; ok {
		return en.Clone(), nil
	}
	return &model.Entrant{ID: id, Events: map[string]model.Status{}}, nil
}

// Watch first replays every undrawn event, then streams later changes until ctx ends.
func (s *Store) Watch(ctx context.Context, fn repository.ChangeFunc) error {
	ch := make(chan *model.Event, watchBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	var initial []*model.Event
	for _, e := range s.events {
		if !e.RandomDrawPerformed {
			initial = append(initial, e.Clone())
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()

	sort.Slice(initial, func(i, j int) bool { return initial[i].ID < initial[j].ID })
	for _, e := range initial {
		if ctx.Err() != nil {
			return nil
		}
		fn(ctx, e)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			fn(ctx, e)
		}
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// tx buffers writes and remembers what it read.
type tx struct {
	s *Store

	readEvents   map[string]int64
	readEntrants map[string]int64

	// staged writes; a nil value is a delete
	events   map[string]*model.Event
	entrants map[string]*model.Entrant
}

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		readEvents:   make(map[string]int64),
		readEntrants: make(map[string]int64),
		events:       make(map[string]*model.Event),
		entrants:     make(map[string]*model.Entrant),
	}
}

func (t *tx) Event(ctx context.Context, id string) (*model.Event, error) {
	if e, ok := t.events[id]; ok {
		if e == nil {
			return nil, repository.ErrNotFound
		}
		return e.Clone(), nil
	}

	t.s.mu.Lock()
	e := t.s.events[id]
	if _, seen := t.readEvents[id]; !seen {
		t.readEvents[id] = versionOf(e)
	}
	var c *model.Event
	if e != nil {
		c = e.Clone()
	}
	t.s.mu.Unlock()

	if c == nil {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (t *tx) Entrant(ctx context.Context, id string) (*model.Entrant, error) {
	if en, ok := t.entrants[id]; ok {
		if en == nil {
			return &model.Entrant{ID: id, Events: map[string]model.Status{}}, nil
		}
		return en.Clone(), nil
	}

	t.s.mu.Lock()
	en := t.s.entrants[id]
	if _, seen := t.readEntrants[id]; !seen {
		t.readEntrants[id] = entrantVersionOf(en)
	}
	var c *model.Entrant
	if en != nil {
		c = en.Clone()
	}
	t.s.mu.Unlock()

	if c == nil {
		return &model.Entrant{ID: id, Events: map[string]model.Status{}}, nil
	}
	return c, nil
}

func (t *tx) PutEvent(ctx context.Context, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	t.events[e.ID] = e.Clone()
	return nil
}

func (t *tx) PutEntrant(ctx context.Context, en *model.Entrant) error {
	if err := en.Validate(); err != nil {
		return err
	}
	t.entrants[en.ID] = en.Clone()
	return nil
}

func (t *tx) DeleteEvent(ctx context.Context, id string) error {
	t.events[id] = nil
	return nil
}

func (t *tx) DeleteEntrant(ctx context.Context, id string) error {
	t.entrants[id] = nil
	return nil
}
