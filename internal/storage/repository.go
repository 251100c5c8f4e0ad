package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neexbeast/instantweather/internal/weather"
)

// Querier abstracts the subset of pgxpool.Pool used by Repository.
// This allows injection of a mock in tests.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the local store for the last known weather and forecast.
type Repository struct {
	q Querier
}

// NewRepository constructs a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// NewRepositoryWithQuerier constructs a Repository with a custom Querier (for tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	return &Repository{q: q}
}

// ---- weather ----

// GetWeather returns the stored snapshot row.
// Returns nil, nil when the table is empty.
func (r *Repository) GetWeather(ctx context.Context) (*weather.SnapshotRow, error) {
	const q = `
		SELECT id, city_id, city_name, temperature_celsius, feels_like_celsius,
		       humidity, pressure, wind, descriptions, condition_code, observed_at
		FROM weather
		ORDER BY id DESC
		LIMIT 1
	`

	var row weather.SnapshotRow
	var windJSON, descJSON []byte

	err := r.q.QueryRow(ctx, q).Scan(
		&row.ID,
		&row.CityID,
		&row.CityName,
		&row.TemperatureCelsius,
		&row.FeelsLikeCelsius,
		&row.Humidity,
		&row.Pressure,
		&windJSON,
		&descJSON,
		&row.ConditionCode,
		&row.ObservedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying weather: %w", err)
	}

	if err := json.Unmarshal(windJSON, &row.Wind); err != nil {
		return nil, fmt.Errorf("unmarshaling weather wind: %w", err)
	}
	if err := json.Unmarshal(descJSON, &row.Descriptions); err != nil {
		return nil, fmt.Errorf("unmarshaling weather descriptions: %w", err)
	}

	return &row, nil
}

// InsertWeather stores a single snapshot row.
func (r *Repository) InsertWeather(ctx context.Context, row weather.SnapshotRow) error {
	return insertWeather(ctx, r.q, row)
}

// DeleteAllWeather empties the weather table.
func (r *Repository) DeleteAllWeather(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM weather`); err != nil {
		return fmt.Errorf("deleting weather: %w", err)
	}
	return nil
}

// ReplaceWeather deletes every stored snapshot and inserts row in one transaction.
func (r *Repository) ReplaceWeather(ctx context.Context, row weather.SnapshotRow) error {
	return withTx(ctx, r.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM weather`); err != nil {
			return fmt.Errorf("deleting weather: %w", err)
		}
		return insertWeather(ctx, tx, row)
	})
}

func insertWeather(ctx context.Context, db execer, row weather.SnapshotRow) error {
	windJSON, err := json.Marshal(row.Wind)
	if err != nil {
		return fmt.Errorf("marshaling weather wind for city %d: %w", row.CityID, err)
	}
	descJSON, err := marshalDescriptions(row.Descriptions)
	if err != nil {
		return fmt.Errorf("marshaling weather descriptions for city %d: %w", row.CityID, err)
	}

	const q = `
		INSERT INTO weather (city_id, city_name, temperature_celsius, feels_like_celsius,
		                     humidity, pressure, wind, descriptions, condition_code, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if _, err := db.Exec(ctx, q,
		row.CityID,
		row.CityName,
		row.TemperatureCelsius,
		row.FeelsLikeCelsius,
		row.Humidity,
		row.Pressure,
		windJSON,
		descJSON,
		row.ConditionCode,
		row.ObservedAt,
	); err != nil {
		return fmt.Errorf("inserting weather for city %d: %w", row.CityID, err)
	}

	return nil
}

// ---- forecast ----

// GetForecast returns every stored forecast row ordered by forecast time ascending.
func (r *Repository) GetForecast(ctx context.Context) ([]weather.ForecastRow, error) {
	const q = `
		SELECT id, city_id, forecast_at, temperature_celsius, wind, descriptions, condition_code
		FROM weather_forecast
		ORDER BY forecast_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying forecast: %w", err)
	}
	defer rows.Close()

	var results []weather.ForecastRow
	for rows.Next() {
		var fr weather.ForecastRow
		var windJSON, descJSON []byte

		if err := rows.Scan(
			&fr.ID,
			&fr.CityID,
			&fr.ForecastAt,
			&fr.TemperatureCelsius,
			&windJSON,
			&descJSON,
			&fr.ConditionCode,
		); err != nil {
			return nil, fmt.Errorf("scanning forecast row: %w", err)
		}

		if err := json.Unmarshal(windJSON, &fr.Wind); err != nil {
			return nil, fmt.Errorf("unmarshaling forecast wind: %w", err)
		}
		if err := json.Unmarshal(descJSON, &fr.Descriptions); err != nil {
			return nil, fmt.Errorf("unmarshaling forecast descriptions: %w", err)
		}

		results = append(results, fr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating forecast rows: %w", err)
	}

	return results, nil
}

// InsertForecast stores a single forecast row.
func (r *Repository) InsertForecast(ctx context.Context, row weather.ForecastRow) error {
	return insertForecast(ctx, r.q, row)
}

// DeleteAllForecast empties the forecast table.
func (r *Repository) DeleteAllForecast(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM weather_forecast`); err != nil {
		return fmt.Errorf("deleting forecast: %w", err)
	}
	return nil
}

// ReplaceForecast deletes every stored forecast row and inserts rows in one transaction.
func (r *Repository) ReplaceForecast(ctx context.Context, rows []weather.ForecastRow) error {
	return withTx(ctx, r.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM weather_forecast`); err != nil {
			return fmt.Errorf("deleting forecast: %w", err)
		}
		for _, row := range rows {
			if err := insertForecast(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertForecast(ctx context.Context, db execer, row weather.ForecastRow) error {
	windJSON, err := json.Marshal(row.Wind)
	if err != nil {
		return fmt.Errorf("marshaling forecast wind: %w", err)
	}
	descJSON, err := marshalDescriptions(row.Descriptions)
	if err != nil {
		return fmt.Errorf("marshaling forecast descriptions: %w", err)
	}

	const q = `
		INSERT INTO weather_forecast (city_id, forecast_at, temperature_celsius, wind, descriptions, condition_code)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := db.Exec(ctx, q,
		row.CityID,
		row.ForecastAt,
		row.TemperatureCelsius,
		windJSON,
		descJSON,
		row.ConditionCode,
	); err != nil {
		return fmt.Errorf("inserting forecast for %s: %w", row.ForecastAt.Format("2006-01-02 15:04"), err)
	}

	return nil
}

// marshalDescriptions encodes a nil slice as [] so the column never holds null.
func marshalDescriptions(d []weather.Description) ([]byte, error) {
	if d == nil {
		d = []weather.Description{}
	}
	return json.Marshal(d)
}
