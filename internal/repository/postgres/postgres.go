// Package postgres implements the event record store on PostgreSQL using pgx
// directly (no ORM).
//
// Each event row carries a version column. A transaction remembers the
// version it read and every write is guarded by it:
//
//	UPDATE events SET ..., version = version + 1 WHERE id = $1 AND version = $2
//
// Zero affected rows means someone else committed first; the transaction is
// rolled back and the caller's function runs again on a fresh snapshot.
// Transactions run at REPEATABLE READ, so a concurrent update of the same
// row also surfaces as a serialization failure, handled the same way.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
)

// Channel is the LISTEN/NOTIFY channel carrying IDs of changed undrawn events.
const Channel = "event_changes"

const missing int64 = -1

const eventColumns = `id, name, description, capacity, waiting_list_capacity, current_entrants_number,
	entrants, registration_end, random_draw_performed, waiting_list_filled, created_at, version`

var _ repository.Store = (*Store)(nil)

// Store handles persistence for events and entrants.
type Store struct {
	db     *pgxpool.Pool
	policy repository.RetryPolicy
	logger zerolog.Logger
}

// NewStore constructs a Store.
func NewStore(db *pgxpool.Pool, policy repository.RetryPolicy) *Store {
	return &Store{
		db:     db,
		policy: policy,
		logger: log.With().Str("component", "postgres_store").Logger(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Capacity, &e.WaitingListCapacity, &e.CurrentEntrantsNumber,
		&e.Entrants, &e.RegistrationEnd, &e.RandomDrawPerformed, &e.WaitingListFilled, &e.CreatedAt, &e.Version)
	if err != nil {
		return nil, err
	}
	if e.Entrants == nil {
		e.Entrants = map[string]model.Status{}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// classify maps driver errors onto the repository error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return repository.Conflict(err)
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return repository.Unavailable(err)
	}
	return err
}

// RunTransaction runs fn inside a REPEATABLE READ transaction, retrying on conflicts.
func (s *Store) RunTransaction(ctx context.Context, fn repository.TxFunc) error {
	return s.policy.Retry(ctx, func(ctx context.Context) error {
		pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
		if err != nil {
			return classify(fmt.Errorf("begin transaction: %w", err))
		}
		// Rollback after a successful commit is a no-op.
		defer func() { _ = pgTx.Rollback(ctx) }()

		t := &tx{
			tx:       pgTx,
			events:   make(map[string]int64),
			entrants: make(map[string]int64),
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if err := pgTx.Commit(ctx); err != nil {
			return classify(fmt.Errorf("commit transaction: %w", err))
		}
		return nil
	})
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.Version = 1
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Name, e.Description, e.Capacity, e.WaitingListCapacity, e.CurrentEntrantsNumber,
		e.Entrants, e.RegistrationEnd, e.RandomDrawPerformed, e.WaitingListFilled, e.CreatedAt, e.Version,
	)
	if err != nil {
		return classify(fmt.Errorf("insert event: %w", err))
	}
	if !e.RandomDrawPerformed {
		if _, err := s.db.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, e.ID); err != nil {
			s.logger.Warn().Err(err).Str("event_id", e.ID).Msg("notify new event")
		}
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, classify(fmt.Errorf("get event: %w", err))
	}
	return e, nil
}

// ListEvents returns all events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
}

// ListDue returns undrawn events whose registration ended at or before now.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE registration_end <= $1 AND NOT random_draw_performed
		 ORDER BY id`,
		now,
	)
}

func (s *Store) queryEvents(ctx context.Context, sql string, args ...any) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list events: %w", err))
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, classify(rows.Err())
}

// GetEntrant returns the entrant's record, or an empty one if none is stored.
func (s *Store) GetEntrant(ctx context.Context, id string) (*model.Entrant, error) {
	en := &model.Entrant{ID: id}
	err := s.db.QueryRow(ctx, `SELECT events, version FROM entrants WHERE id = $1`, id).Scan(&en.Events, &en.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, classify(fmt.Errorf("get entrant: %w", err))
	}
	if en.Events == nil {
		en.Events = map[string]model.Status{}
	}
	return en, nil
}

// Watch replays every undrawn event, then LISTENs for changes until ctx ends.
func (s *Store) Watch(ctx context.Context, fn repository.ChangeFunc) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return classify(fmt.Errorf("acquire listen connection: %w", err))
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+Channel); err != nil {
		return classify(fmt.Errorf("listen: %w", err))
	}

	initial, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE NOT random_draw_performed ORDER BY id`)
	if err != nil {
		return err
	}
	for i := range initial {
		fn(ctx, &initial[i])
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return classify(fmt.Errorf("wait for notification: %w", err))
		}

		e, err := s.GetEvent(ctx, n.Payload)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("event_id", n.Payload).Msg("load changed event")
			continue
		}
		if !e.RandomDrawPerformed {
			fn(ctx, e)
		}
	}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// tx tracks the version of every record read so writes can be guarded.
type tx struct {
	tx       pgx.Tx
	events   map[string]int64
	entrants map[string]int64
}

func (t *tx) Event(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, seen := t.events[id]; !seen {
			t.events[id] = missing
		}
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("read event: %w", err))
	}
	if _, seen := t.events[id]; !seen {
		t.events[id] = e.Version
	}
	return e, nil
}

func (t *tx) Entrant(ctx context.Context, id string) (*model.Entrant, error) {
	en := &model.Entrant{ID: id}
	err := t.tx.QueryRow(ctx, `SELECT events, version FROM entrants WHERE id = $1`, id).Scan(&en.Events, &en.Version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		en.Version = 0
		if _, seen := t.entrants[id]; !seen {
			t.entrants[id] = missing
		}
	case err != nil:
		return nil, classify(fmt.Errorf("read entrant: %w", err))
	default:
		if _, seen := t.entrants[id]; !seen {
			t.entrants[id] = en.Version
		}
	}
	if en.Events == nil {
		en.Events = map[string]model.Status{}
	}
	return en, nil
}

func (t *tx) PutEvent(ctx context.Context, e *model.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	seen, ok := t.events[e.ID]
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case ok && seen != missing:
		tag, err = t.tx.Exec(ctx,
			`UPDATE events SET name = $2, description = $3, capacity = $4, waiting_list_capacity = $5,
			        current_entrants_number = $6, entrants = $7, registration_end = $8,
			        random_draw_performed = $9, waiting_list_filled = $10, version = version + 1
			 WHERE id = $1 AND version = $11`,
			e.ID, e.Name, e.Description, e.Capacity, e.WaitingListCapacity, e.CurrentEntrantsNumber,
			e.Entrants, e.RegistrationEnd, e.RandomDrawPerformed, e.WaitingListFilled, seen,
		)
	default:
		tag, err = t.tx.Exec(ctx,
			`INSERT INTO events (`+eventColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Name, e.Description, e.Capacity, e.WaitingListCapacity, e.CurrentEntrantsNumber,
			e.Entrants, e.RegistrationEnd, e.RandomDrawPerformed, e.WaitingListFilled, e.CreatedAt,
		)
	}
	if err != nil {
		return classify(fmt.Errorf("write event: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return repository.Conflict(fmt.Errorf("event %s changed since read", e.ID))
	}
	// The guard now holds against our own write.
	if ok && seen != missing {
		t.events[e.ID] = seen + 1
	} else {
		t.events[e.ID] = 1
	}

	if !e.RandomDrawPerformed {
		if _, err := t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, e.ID); err != nil {
			return classify(fmt.Errorf("notify event change: %w", err))
		}
	}
	return nil
}

func (t *tx) PutEntrant(ctx context.Context, en *model.Entrant) error {
	if err := en.Validate(); err != nil {
		return err
	}
	events := en.Events
	if events == nil {
		events = map[string]model.Status{}
	}

	seen, ok := t.entrants[en.ID]
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case ok && seen == missing:
		tag, err = t.tx.Exec(ctx,
			`INSERT INTO entrants (id, events, version) VALUES ($1, $2, 1) ON CONFLICT (id) DO NOTHING`,
			en.ID, events,
		)
	case ok:
		tag, err = t.tx.Exec(ctx,
			`UPDATE entrants SET events = $2, version = version + 1 WHERE id = $1 AND version = $3`,
			en.ID, events, seen,
		)
	default:
		tag, err = t.tx.Exec(ctx,
			`INSERT INTO entrants (id, events, version) VALUES ($1, $2, 1)
			 ON CONFLICT (id) DO UPDATE SET events = EXCLUDED.events, version = entrants.version + 1`,
			en.ID, events,
		)
	}
	if err != nil {
		return classify(fmt.Errorf("write entrant: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return repository.Conflict(fmt.Errorf("entrant %s changed since read", en.ID))
	}
	switch {
	case ok && seen != missing:
		t.entrants[en.ID] = seen + 1
	case ok:
		t.entrants[en.ID] = 1
	}
	return nil
}

func (t *tx) DeleteEvent(ctx context.Context, id string) error {
	seen, ok := t.events[id]
	if !ok || seen == missing {
		if _, err := t.tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
			return classify(fmt.Errorf("delete event: %w", err))
		}
		t.events[id] = missing
		return nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM events WHERE id = $1 AND version = $2`, id, seen)
	if err != nil {
		return classify(fmt.Errorf("delete event: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return repository.Conflict(fmt.Errorf("event %s changed since read", id))
	}
	t.events[id] = missing
	return nil
}

func (t *tx) DeleteEntrant(ctx context.Context, id string) error {
	seen, ok := t.entrants[id]
	if !ok || seen == missing {
		if _, err := t.tx.Exec(ctx, `DELETE FROM entrants WHERE id = $1`, id); err != nil {
			return classify(fmt.Errorf("delete entrant: %w", err))
		}
		t.entrants[id] = missing
		return nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM entrants WHERE id = $1 AND version = $2`, id, seen)
	if err != nil {
		return classify(fmt.Errorf("delete entrant: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return repository.Conflict(fmt.Errorf("entrant %s changed since read", id))
	}
	t.entrants[id] = missing
	return nil
}
