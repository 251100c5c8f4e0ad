package refresh

import (
	"context"
	"time"

	"github.com/neexbeast/instantweather/internal/weather"
)

// LocalStore defines the persistence operations the repository needs.
type LocalStore interface {
	GetWeather(ctx context.Context) (*weather.SnapshotRow, error)
	ReplaceWeather(ctx context.Context, row weather.SnapshotRow) error
	GetForecast(ctx context.Context) ([]weather.ForecastRow, error)
	ReplaceForecast(ctx context.Context, rows []weather.ForecastRow) error
}

// RemoteFetcher defines the provider calls the repository needs.
type RemoteFetcher interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (*weather.NetworkWeather, error)
	Forecast(ctx context.Context, cityID int) (*weather.NetworkForecastList, error)
}

// PreferenceStore defines the refresh bookkeeping the repository reads and writes.
type PreferenceStore interface {
	UpdateTime(ctx context.Context, entity weather.Entity) (time.Time, error)
	SaveUpdateTime(ctx context.Context, entity weather.Entity, t time.Time) error
	ClearUpdateTime(ctx context.Context, entity weather.Entity) error
	CacheDuration(ctx context.Context) (string, error)
	CityID(ctx context.Context) (int, error)
	SaveCityID(ctx context.Context, id int) error
	Location(ctx context.Context) (*weather.Coordinates, error)
	SaveLocation(ctx context.Context, c weather.Coordinates) error
}
