package api

import (
	"context"
	"time"

	"github.com/neexbeast/instantweather/internal/refresh"
	"github.com/neexbeast/instantweather/internal/weather"
)

// WeatherRefresher defines the refresh operations needed by handlers.
type WeatherRefresher interface {
	RefreshWeather(ctx context.Context, req refresh.Request) (refresh.State[weather.Snapshot], error)
	ForceRefreshWeather(ctx context.Context, req refresh.Request) (refresh.State[weather.Snapshot], error)
	RefreshForecast(ctx context.Context, req refresh.Request) (refresh.State[[]weather.ForecastEntry], error)
	ForceRefreshForecast(ctx context.Context, req refresh.Request) (refresh.State[[]weather.ForecastEntry], error)
	CacheDuration(ctx context.Context) time.Duration
}

// SettingsStore defines the preference operations needed by the settings handlers.
type SettingsStore interface {
	CacheDuration(ctx context.Context) (string, error)
	SetCacheDuration(ctx context.Context, seconds string) error
	CityID(ctx context.Context) (int, error)
	SearchLocation(ctx context.Context) (string, error)
	SaveSearchLocation(ctx context.Context, name string) error
}
