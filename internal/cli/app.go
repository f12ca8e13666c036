package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/config"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/database"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository/firestore"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository/memory"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/service"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/trigger"
)

// app wires every layer together.
type app struct {
	store     repository.Store
	hub       *notify.Hub
	events    *service.EventService
	admission *service.AdmissionService
	draws     *service.DrawEngine
	trigger   *trigger.Trigger

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, hub: notify.NewHub()}
	a.closers = append(a.closers, store.Close)

	notifiers := notify.Multi{
		notify.LogNotifier{Logger: log.With().Str("component", "notifier").Logger()},
		a.hub,
	}
	if cfg.Redis.Addr != "" {
		client := notify.NewRedisClient(cfg.Redis)
		notifiers = append(notifiers, notify.NewRedisPublisher(client, cfg.Redis.Channel))
		a.closers = append(a.closers, client.Close)
		log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("publishing status changes to redis")
	}

	clock := service.SystemClock{}
	a.events = service.NewEventService(store, notifiers, clock)
	a.admission = service.NewAdmissionService(store, notifiers, clock)
	a.draws = service.NewDrawEngine(store, notifiers, clock, nil)
	a.trigger = trigger.New(store, a.draws, clock, cfg.Trigger)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	policy := cfg.Retry.Policy()

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := database.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		log.Info().Str("host", cfg.Postgres.Host).Str("db", cfg.Postgres.DBName).Msg("connected to PostgreSQL")
		return postgres.NewStore(pool, policy), nil

	case config.StoreFirestore:
		store, err := firestore.NewStore(ctx, cfg.Firestore, policy)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		log.Info().Str("project", cfg.Firestore.ProjectID).Msg("connected to Firestore")
		return store, nil

	default:
		log.Warn().Msg("using in-memory store, data is lost on exit")
		return memory.New(memory.WithRetryPolicy(policy)), nil
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}
