// Package firestore implements the event record store on Cloud Firestore.
//
// Events live in the "Events" collection and entrant records in "Users".
// Firestore transactions are optimistic and require every read to happen
// before the first write; the transaction wrapper serves reads of documents
// it already wrote from its own staging area so callers may re-read what they
// just put.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

const (
	eventsCollection   = "Events"
	entrantsCollection = "Users"
)

var _ repository.Store = (*Store)(nil)

// Config holds the Firebase project settings.
type Config struct {
	ProjectID             string `yaml:"project_id"`
	ServiceAccountKeyPath string `yaml:"service_account_key_path"`
}

// Store is a Firestore-backed event record store.
type Store struct {
	client *firestore.Client
	policy repository.RetryPolicy
	logger zerolog.Logger
}

// NewStore initializes the Firebase app and returns a store on its Firestore client.
func NewStore(ctx context.Context, cfg Config, policy repository.RetryPolicy) (*Store, error) {
	var opts []option.ClientOption
	if cfg.ServiceAccountKeyPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountKeyPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}

	return NewStoreWithClient(client, policy), nil
}

// NewStoreWithClient wraps an existing Firestore client.
func NewStoreWithClient(client *firestore.Client, policy repository.RetryPolicy) *Store {
	return &Store{
		client: client,
		policy: policy,
		logger: log.With().Str("component", "firestore_store").Logger(),
	}
}

func (s *Store) events() *firestore.CollectionRef {
	return s.client.Collection(eventsCollection)
}

func (s *Store) entrants() *firestore.CollectionRef {
	return s.client.Collection(entrantsCollection)
}

// classify maps gRPC status codes onto the repository error kinds.
func classify(err error) error {
	if err == nil || repository.IsPrecondition(err) || errors.Is(err, context.Canceled) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return repository.ErrNotFound
	case codes.Aborted:
		return repository.Conflict(err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return repository.Unavailable(err)
	}
	return err
}

func decodeEvent(snap *firestore.DocumentSnapshot) (*model.Event, error) {
	var e model.Event
	if err := snap.DataTo(&e); err != nil {
		return nil, fmt.Errorf("%w: decode event %s: %v", repository.ErrInvalidRecord, snap.Ref.ID, err)
	}
	e.ID = snap.Ref.ID
	if e.Entrants == nil {
		e.Entrants = map[string]model.Status{}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodeEntrant(snap *firestore.DocumentSnapshot) (*model.Entrant, error) {
	var en model.Entrant
	if err := snap.DataTo(&en); err != nil {
		return nil, fmt.Errorf("%w: decode entrant %s: %v", repository.ErrInvalidRecord, snap.Ref.ID, err)
	}
	en.ID = snap.Ref.ID
	if en.Events == nil {
		en.Events = map[string]model.Status{}
	}
	if err := en.Validate(); err != nil {
		return nil, err
	}
	return &en, nil
}

// RunTransaction runs fn in a Firestore transaction. Firestore's own retry is
// limited to one attempt so conflicts back off under the shared policy.
func (s *Store) RunTransaction(ctx context.Context, fn repository.TxFunc) error {
	return s.policy.Retry(ctx, func(ctx context.Context) error {
		err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
			t := &tx{
				s:        s,
				tx:       ftx,
				events:   make(map[string]*model.Event),
				entrants: make(map[string]*model.Entrant),
			}
			return fn(ctx, t)
		}, firestore.MaxAttempts(1))
		return classify(err)
	})
}

// CreateEvent stores a new event document, failing if the ID is taken.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.Version = 1
	if _, err := s.events().Doc(e.ID).Create(ctx, e); err != nil {
		return classify(fmt.Errorf("error creating event: %w", err))
	}
	return nil
}

// GetEvent reads an event by its ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	snap, err := s.events().Doc(id).Get(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return decodeEvent(snap)
}

// ListEvents lists all events, newest first.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.queryEvents(ctx, s.events().OrderBy("createdAt", firestore.Desc))
}

// ListDue returns undrawn events whose registration ended at or before now.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx, s.events().
		Where("registrationEnd", "<=", now).
		Where("randomDrawPerformed", "==", false))
}

func (s *Store) queryEvents(ctx context.Context, q firestore.Query) ([]model.Event, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, classify(fmt.Errorf("error listing events: %w", err))
	}
	events := make([]model.Event, 0, len(snaps))
	for _, snap := range snaps {
		e, err := decodeEvent(snap)
		if err != nil {
			s.logger.Warn().Err(err).Str("event_id", snap.Ref.ID).Msg("skipping malformed event")
			continue
		}
		events = append(events, *e)
	}
	return events, nil
}

// GetEntrant reads an entrant record, returning an empty one if it does not exist.
func (s *Store) GetEntrant(ctx context.Context, id string) (*model.Entrant, error) {
	snap, err := s.entrants().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return &model.Entrant{ID: id, Events: map[string]model.Status{}}, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeEntrant(snap)
}

// Watch listens to undrawn events. The first snapshot reports every matching
// document as added.
func (s *Store) Watch(ctx context.Context, fn repository.ChangeFunc) error {
	it := s.events().Where("randomDrawPerformed", "==", false).Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if ctx.Err() != nil || errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return classify(fmt.Errorf("listen failed: %w", err))
		}
		for _, change := range qs.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			e, err := decodeEvent(change.Doc)
			if err != nil {
				s.logger.Warn().Err(err).Str("event_id", change.Doc.Ref.ID).Msg("skipping malformed event")
				continue
			}
			fn(ctx, e)
		}
	}
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

// tx stages writes so reads of documents already written in this
// transaction see the staged value.
type tx struct {
	s  *Store
	tx *firestore.Transaction

	// staged writes; a nil value is a delete
	events   map[string]*model.Event
	entrants map[string]*model.Entrant
}

func (t *tx) Event(ctx context.Context, id string) (*model.Event, error) {
	if e, ok := t.events[id]; ok {
		if e == nil {
			return nil, repository.ErrNotFound
		}
		return e.Clone(), nil
	}
	snap, err := t.tx.Get(t.s.events().Doc(id))
	if err != nil {
		return nil, classify(err)
	}
	return decodeEvent(snap)
}

func (t *tx) Entrant(ctx context.Context, id string) (*model.Entrant, error) {
	if en, ok := t.entrants[id]; ok {
		if en == nil {
			return &model.Entrant{ID: id, Events: map[string]model.Status{}}, nil
		}
		return en.Clone(), nil
	}
	snap, err := t.tx.Get(t.s.entrants().Doc(id))
	if status.Code(err) == codes.NotFound {
		return &model.Entrant{ID: id, Events: map[string]model.Status{}}, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeEntrant(snap)
}

func (t *tx) PutEvent(ctx context.Context, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	stored := e.Clone()
	stored.Version++
	if err := t.tx.Set(t.s.events().Doc(e.ID), stored); err != nil {
		return classify(err)
	}
	t.events[e.ID] = stored
	return nil
}

func (t *tx) PutEntrant(ctx context.Context, en *model.Entrant) error {
	if err := en.Validate(); err != nil {
		return err
	}
	stored := en.Clone()
	stored.Version++
	if err := t.tx.Set(t.s.entrants().Doc(en.ID), stored); err != nil {
		return classify(err)
	}
	t.entrants[en.ID] = stored
	return nil
}

func (t *tx) DeleteEvent(ctx context.Context, id string) error {
	if err := t.tx.Delete(t.s.events().Doc(id)); err != nil {
		return classify(err)
	}
	t.events[id] = nil
	return nil
}

func (t *tx) DeleteEntrant(ctx context.Context, id string) error {
	if err := t.tx.Delete(t.s.entrants().Doc(id)); err != nil {
		return classify(err)
	}
	t.entrants[id] = nil
	return nil
}
