// Package trigger starts the random draw for events whose registration window
// has ended.
//
// Two paths feed the same draw: a reactive watch on undrawn events and a
// periodic sweep. They overlap on purpose. The watch only fires when an event
// is written, so an event nobody touches after its registration end is picked
// up by the sweep. The draw itself is idempotent, so running it from both
// paths at once is harmless.
package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/service"
)

// Config controls the trigger loops.
type Config struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// WatchRestartDelay is how long to wait before re-subscribing after the
	// change feed fails.
	WatchRestartDelay time.Duration `yaml:"watch_restart_delay"`
}

// DefaultConfig sweeps every minute.
var DefaultConfig = Config{
	SweepInterval:     time.Minute,
	WatchRestartDelay: 5 * time.Second,
}

// Trigger owns the watch and sweep loops.
type Trigger struct {
	store  repository.Store
	drawer service.Drawer
	clock  service.Clock
	cfg    Config
	logger zerolog.Logger
}

// New constructs a Trigger. Zero config fields fall back to DefaultConfig.
func New(store repository.Store, drawer service.Drawer, clock service.Clock, cfg Config) *Trigger {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}
	if cfg.WatchRestartDelay <= 0 {
		cfg.WatchRestartDelay = DefaultConfig.WatchRestartDelay
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &Trigger{
		store:  store,
		drawer: drawer,
		clock:  clock,
		cfg:    cfg,
		logger: log.With().Str("component", "draw_trigger").Logger(),
	}
}

// Run blocks running both loops until ctx is canceled.
func (t *Trigger) Run(ctx context.Context) error {
	t.logger.Info().Dur("sweep_interval", t.cfg.SweepInterval).Msg("draw trigger started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.watchLoop(ctx) })
	g.Go(func() error { return t.sweepLoop(ctx) })
	err := g.Wait()

	t.logger.Info().Msg("draw trigger stopped")
	return err
}

func (t *Trigger) watchLoop(ctx context.Context) error {
	for {
		err := t.store.Watch(ctx, t.HandleChange)
		if ctx.Err() != nil {
			return nil
		}
		t.logger.Warn().Err(err).Dur("retry_in", t.cfg.WatchRestartDelay).Msg("change feed stopped, re-subscribing")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.cfg.WatchRestartDelay):
		}
	}
}

// HandleChange is the reactive path: an undrawn event whose registration has
// ended is drawn.
func (t *Trigger) HandleChange(ctx context.Context, e *model.Event) {
	if !e.DrawDue(t.clock.Now()) {
		return
	}
	t.logger.Debug().Str("event_id", e.ID).Msg("eligible event detected for random draw")
	t.draw(ctx, e.ID, "watch")
}

func (t *Trigger) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := t.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce draws every due event once and returns how many draws it performed.
func (t *Trigger) SweepOnce(ctx context.Context) (int, error) {
	due, err := t.store.ListDue(ctx, t.clock.Now())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		t.logger.Debug().Msg("no events require random draw at this time")
		return 0, nil
	}

	drawn := 0
	for _, e := range due {
		if ctx.Err() != nil {
			return drawn, ctx.Err()
		}
		if t.draw(ctx, e.ID, "sweep") {
			drawn++
		}
	}
	return drawn, nil
}

// draw reports whether this call performed the draw.
func (t *Trigger) draw(ctx context.Context, eventID, source string) bool {
	res, err := t.drawer.Draw(ctx, eventID)
	switch {
	case errors.Is(err, service.ErrRegistrationOpen), errors.Is(err, repository.ErrNotFound):
		t.logger.Debug().Err(err).Str("event_id", eventID).Str("source", source).Msg("event not drawable")
		return false
	case err != nil:
		t.logger.Error().Err(err).Str("event_id", eventID).Str("source", source).Msg("random draw failed")
		return false
	case res.AlreadyDrawn:
		return false
	}
	return true
}
