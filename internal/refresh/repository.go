package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/neexbeast/instantweather/internal/observability"
	"github.com/neexbeast/instantweather/internal/weather"
)

// Request names the location a refresh is for. Zero values fall back to the
// location saved by the previous successful weather fetch.
type Request struct {
	Coords *weather.Coordinates
	CityID int
}

// Dependencies groups what NewRepository needs. Clock and DefaultCacheDuration are optional.
type Dependencies struct {
	Store                LocalStore
	Fetcher              RemoteFetcher
	Prefs                PreferenceStore
	Clock                clockwork.Clock
	Logger               *slog.Logger
	Metrics              *observability.Metrics
	DefaultCacheDuration time.Duration
}

// Repository decides between the cached rows and a remote fetch for each
// entity and publishes the outcome to that entity's Feed.
type Repository struct {
	store      LocalStore
	fetcher    RemoteFetcher
	prefs      PreferenceStore
	clock      clockwork.Clock
	log        *slog.Logger
	metrics    *observability.Metrics
	defaultTTL time.Duration

	group        singleflight.Group
	weatherFeed  *Feed[weather.Snapshot]
	forecastFeed *Feed[[]weather.ForecastEntry]

	// serialize replace and re-read so each caller publishes its own rows
	weatherWrite  sync.Mutex
	forecastWrite sync.Mutex

	mu     sync.Mutex
	tasks  map[string]*Task
	wg     sync.WaitGroup
	closed bool
}

// NewRepository validates deps and returns a ready Repository.
func NewRepository(deps Dependencies) (*Repository, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("refresh: local store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("refresh: remote fetcher is required")
	case deps.Prefs == nil:
		return nil, errors.New("refresh: preference store is required")
	case deps.Logger == nil:
		return nil, errors.New("refresh: logger is required")
	case deps.Metrics == nil:
		return nil, errors.New("refresh: metrics are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttl := deps.DefaultCacheDuration
	if ttl <= 0 {
		ttl = DefaultCacheDuration
	}

	return &Repository{
		store:        deps.Store,
		fetcher:      deps.Fetcher,
		prefs:        deps.Prefs,
		clock:        clock,
		log:          deps.Logger,
		metrics:      deps.Metrics,
		defaultTTL:   ttl,
		weatherFeed:  NewFeed[weather.Snapshot](),
		forecastFeed: NewFeed[[]weather.ForecastEntry](),
		tasks:        make(map[string]*Task),
	}, nil
}

// Weather returns the feed of current-weather states.
func (r *Repository) Weather() *Feed[weather.Snapshot] { return r.weatherFeed }

// Forecast returns the feed of forecast states.
func (r *Repository) Forecast() *Feed[[]weather.ForecastEntry] { return r.forecastFeed }

// RefreshWeather serves the cached snapshot while it is younger than the cache
// duration and fetches a new one otherwise.
func (r *Repository) RefreshWeather(ctx context.Context, req Request) (State[weather.Snapshot], error) {
	return refresh(ctx, r, r.weatherPipeline(), req, false)
}

// ForceRefreshWeather fetches a new snapshot regardless of its age.
func (r *Repository) ForceRefreshWeather(ctx context.Context, req Request) (State[weather.Snapshot], error) {
	return refresh(ctx, r, r.weatherPipeline(), req, true)
}

// RefreshForecast is RefreshWeather for the forecast.
func (r *Repository) RefreshForecast(ctx context.Context, req Request) (State[[]weather.ForecastEntry], error) {
	return refresh(ctx, r, r.forecastPipeline(), req, false)
}

// ForceRefreshForecast fetches a new forecast regardless of its age.
func (r *Repository) ForceRefreshForecast(ctx context.Context, req Request) (State[[]weather.ForecastEntry], error) {
	return refresh(ctx, r, r.forecastPipeline(), req, true)
}

// CacheDuration returns the effective cache duration. Invalid settings fall
// back to the default.
func (r *Repository) CacheDuration(ctx context.Context) time.Duration {
	raw, err := r.prefs.CacheDuration(ctx)
	if err != nil {
		r.log.Warn("reading cache duration failed, using default", "default", r.defaultTTL, "err", err)
		return r.defaultTTL
	}

	d, err := parseCacheDuration(raw, r.defaultTTL)
	if err != nil {
		r.log.Info("invalid cache duration, using default", "value", raw, "default", r.defaultTTL, "err", err)
		r.metrics.ConfigFallbacks.Inc()
	}
	return d
}

func (r *Repository) stale(ctx context.Context, entity weather.Entity) bool {
	ttl := r.CacheDuration(ctx)
	last, err := r.prefs.UpdateTime(ctx, entity)
	if err != nil {
		r.log.Warn("reading last fetch time failed", "entity", entity, "err", err)
		return true
	}
	return isStale(last, r.clock.Now(), ttl)
}

// pipeline is the per-entity half of a refresh. resolve fills in the location
// and returns the key that identifies duplicate remote requests.
type pipeline[T any] struct {
	entity  weather.Entity
	feed    *Feed[T]
	local   func(ctx context.Context) (T, error)
	resolve func(ctx context.Context, req Request) (Request, string, error)
	remote  func(ctx context.Context, req Request) (T, error)
}

func (r *Repository) weatherPipeline() pipeline[weather.Snapshot] {
	return pipeline[weather.Snapshot]{
		entity:  weather.EntityWeather,
		feed:    r.weatherFeed,
		local:   r.cachedWeather,
		resolve: r.resolveWeather,
		remote:  r.fetchWeather,
	}
}

func (r *Repository) forecastPipeline() pipeline[[]weather.ForecastEntry] {
	return pipeline[[]weather.ForecastEntry]{
		entity:  weather.EntityForecast,
		feed:    r.forecastFeed,
		local:   r.cachedForecast,
		resolve: r.resolveForecast,
		remote:  r.fetchForecast,
	}
}

func refresh[T any](ctx context.Context, r *Repository, p pipeline[T], req Request, force bool) (State[T], error) {
	p.feed.setLoading()

	if !force && !r.stale(ctx, p.entity) {
		return serveLocal(ctx, r, p)
	}
	return serveRemote(ctx, r, p, req)
}

func serveLocal[T any](ctx context.Context, r *Repository, p pipeline[T]) (State[T], error) {
	entity := string(p.entity)

	v, err := p.local(ctx)
	if err != nil {
		if errors.Is(err, weather.ErrNotCached) {
			if cerr := r.prefs.ClearUpdateTime(ctx, p.entity); cerr != nil {
				r.log.Warn("clearing last fetch time failed", "entity", entity, "err", cerr)
			}
		}
		r.metrics.Refreshes.WithLabelValues(entity, observability.PathCache, observability.OutcomeFailure).Inc()
		r.log.Warn("reading cache failed", "entity", entity, "err", err)
		return p.feed.fail(), err
	}

	r.metrics.Refreshes.WithLabelValues(entity, observability.PathCache, observability.OutcomeSuccess).Inc()
	r.log.Debug("served from cache", "entity", entity)
	return p.feed.succeed(v, SourceCache, r.clock.Now()), nil
}

// serveRemote runs p.remote at most once per entity and location at a time;
// callers asking for the same location while a fetch is in flight share its
// result. A caller whose shared fetch was cancelled by another caller retries
// while its own context is live.
func serveRemote[T any](ctx context.Context, r *Repository, p pipeline[T], req Request) (State[T], error) {
	entity := string(p.entity)

	req, key, err := p.resolve(ctx, req)
	if err != nil {
		return remoteFailed(r, p, err)
	}

	for {
		led := false
		ch := r.group.DoChan(key, func() (any, error) {
			led = true
			start := r.clock.Now()
			defer func() {
				r.metrics.RemoteFetchDuration.WithLabelValues(entity).Observe(r.clock.Since(start).Seconds())
			}()
			return p.remote(ctx, req)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return remoteFailed(r, p, ctx.Err())
		}

		if !led {
			if res.Err != nil && ctx.Err() == nil && isCancellation(res.Err) {
				continue
			}
			r.metrics.Coalesced.WithLabelValues(entity).Inc()
		}

		if res.Err != nil {
			return remoteFailed(r, p, res.Err)
		}

		r.metrics.Refreshes.WithLabelValues(entity, observability.PathRemote, observability.OutcomeSuccess).Inc()
		r.log.Info("refreshed from remote", "entity", entity, "key", key)
		return p.feed.succeed(res.Val.(T), SourceRemote, r.clock.Now()), nil
	}
}

func remoteFailed[T any](r *Repository, p pipeline[T], err error) (State[T], error) {
	entity := string(p.entity)
	r.metrics.Refreshes.WithLabelValues(entity, observability.PathRemote, observability.OutcomeFailure).Inc()
	r.log.Warn("remote refresh failed", "entity", entity, "kind", weather.KindOf(err).String(), "err", err)
	return p.feed.fail(), err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Repository) cachedWeather(ctx context.Context) (weather.Snapshot, error) {
	row, err := r.store.GetWeather(ctx)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("reading cached weather: %w", err)
	}
	if row == nil {
		return weather.Snapshot{}, weather.ErrNotCached
	}
	return row.Snapshot(), nil
}

func (r *Repository) cachedForecast(ctx context.Context) ([]weather.ForecastEntry, error) {
	rows, err := r.store.GetForecast(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cached forecast: %w", err)
	}
	if len(rows) == 0 {
		return nil, weather.ErrNotCached
	}
	return weather.ForecastFromRows(rows), nil
}

// fetchWeather expects req.Coords to be resolved.
func (r *Repository) fetchWeather(ctx context.Context, req Request) (weather.Snapshot, error) {
	coords := *req.Coords

	nw, err := r.fetcher.CurrentWeather(ctx, coords.Latitude, coords.Longitude)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("fetching current weather: %w", err)
	}

	r.weatherWrite.Lock()
	defer r.weatherWrite.Unlock()

	if err := r.store.ReplaceWeather(ctx, weather.SnapshotRowFromNetwork(*nw)); err != nil {
		return weather.Snapshot{}, fmt.Errorf("storing weather: %w", err)
	}

	row, err := r.store.GetWeather(ctx)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("re-reading weather: %w", err)
	}
	if row == nil {
		return weather.Snapshot{}, fmt.Errorf("re-reading weather: %w", weather.ErrNotCached)
	}

	if err := r.prefs.SaveLocation(ctx, coords); err != nil {
		r.log.Warn("saving location failed", "err", err)
	}
	if err := r.prefs.SaveCityID(ctx, nw.CityID); err != nil {
		r.log.Warn("saving city id failed", "city_id", nw.CityID, "err", err)
	}
	r.markFetched(ctx, weather.EntityWeather)

	return row.Snapshot(), nil
}

// fetchForecast expects req.CityID to be resolved.
func (r *Repository) fetchForecast(ctx context.Context, req Request) ([]weather.ForecastEntry, error) {
	list, err := r.fetcher.Forecast(ctx, req.CityID)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}

	r.forecastWrite.Lock()
	defer r.forecastWrite.Unlock()

	if err := r.store.ReplaceForecast(ctx, weather.ForecastRowsFromNetwork(*list)); err != nil {
		return nil, fmt.Errorf("storing forecast: %w", err)
	}

	rows, err := r.store.GetForecast(ctx)
	if err != nil {
		return nil, fmt.Errorf("re-reading forecast: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("re-reading forecast: %w", weather.ErrNotCached)
	}

	r.markFetched(ctx, weather.EntityForecast)

	return weather.ForecastFromRows(rows), nil
}

// markFetched records the fetch completion time. Errors are logged only.
func (r *Repository) markFetched(ctx context.Context, entity weather.Entity) {
	if err := r.prefs.SaveUpdateTime(ctx, entity, r.clock.Now()); err != nil {
		r.log.Warn("saving last fetch time failed", "entity", entity, "err", err)
	}
}

func (r *Repository) resolveWeather(ctx context.Context, req Request) (Request, string, error) {
	coords, err := r.resolveCoords(ctx, req)
	if err != nil {
		return req, "", err
	}
	key := fmt.Sprintf("%s:%g,%g", weather.EntityWeather, coords.Latitude, coords.Longitude)
	return Request{Coords: &coords}, key, nil
}

func (r *Repository) resolveForecast(ctx context.Context, req Request) (Request, string, error) {
	cityID, err := r.resolveCityID(ctx, req)
	if err != nil {
		return req, "", err
	}
	return Request{CityID: cityID}, fmt.Sprintf("%s:%d", weather.EntityForecast, cityID), nil
}

func (r *Repository) resolveCoords(ctx context.Context, req Request) (weather.Coordinates, error) {
	if req.Coords != nil && !req.Coords.IsZero() {
		return *req.Coords, nil
	}

	saved, err := r.prefs.Location(ctx)
	if err != nil {
		return weather.Coordinates{}, fmt.Errorf("loading saved location: %w", err)
	}
	if saved == nil || saved.IsZero() {
		return weather.Coordinates{}, weather.ErrNoLocation
	}
	return *saved, nil
}

func (r *Repository) resolveCityID(ctx context.Context, req Request) (int, error) {
	if req.CityID > 0 {
		return req.CityID, nil
	}

	saved, err := r.prefs.CityID(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading saved city id: %w", err)
	}
	if saved <= 0 {
		return 0, weather.ErrNoLocation
	}
	return saved, nil
}
