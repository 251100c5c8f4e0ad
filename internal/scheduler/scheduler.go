package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/neexbeast/instantweather/internal/refresh"
	"github.com/neexbeast/instantweather/internal/weather"
)

// taskTimeout bounds each refresh started by the warmer.
const taskTimeout = 30 * time.Second

// Refresher is the part of the refresh repository the warmer drives.
type Refresher interface {
	StartWeatherRefresh(ctx context.Context, req refresh.Request, force bool) *refresh.Task
	StartForecastRefresh(ctx context.Context, req refresh.Request, force bool) *refresh.Task
}

type startFunc func(ctx context.Context, req refresh.Request, force bool) *refresh.Task

// Scheduler keeps the cache warm by periodically running TTL-guarded refreshes
// for the saved location.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	log       *slog.Logger
}

// New creates a Scheduler. A non-positive interval disables it.
func New(refresher Refresher, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		log:       log,
	}
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.log.Info("scheduler disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("scheduled refresh failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling refresh job: %w", err)
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// RunOnce refreshes weather and forecast in parallel. Each refresh runs under
// its own deadline, so one failing does not cut the other short. A missing
// saved location is not an error: there is nothing to warm yet.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		return s.run(ctx, weather.EntityWeather, s.refresher.StartWeatherRefresh)
	})
	g.Go(func() error {
		return s.run(ctx, weather.EntityForecast, s.refresher.StartForecastRefresh)
	})

	return g.Wait()
}

func (s *Scheduler) run(ctx context.Context, entity weather.Entity, start startFunc) error {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	task := start(ctx, refresh.Request{}, false)
	s.log.Debug("refresh started", "entity", entity, "task", task.ID)
	return s.check(entity, task.Wait())
}

func (s *Scheduler) check(entity weather.Entity, err error) error {
	if errors.Is(err, weather.ErrNoLocation) {
		s.log.Debug("no saved location, skipping", "entity", entity)
		return nil
	}
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", entity, err)
	}
	return nil
}
