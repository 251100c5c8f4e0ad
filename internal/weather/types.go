package weather

import "time"

// Entity names one of the independently cached data sets.
type Entity string

const (
	EntityWeather  Entity = "weather"
	EntityForecast Entity = "forecast"
)

// Coordinates is a geographic position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// IsZero reports whether both components are zero, which the service treats as "unset".
func (c Coordinates) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// Wind holds wind speed (m/s) and direction (degrees).
type Wind struct {
	Speed  float64 `json:"speed"`
	Degree float64 `json:"deg"`
}

// Description is a single provider condition entry, e.g. {500, "Rain", "light rain", "10d"}.
type Description struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// ---- provider payloads (Kelvin) ----

// NetworkCondition is the "main" block of a provider response.
type NetworkCondition struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

// NetworkWeather is the provider's current weather response.
type NetworkWeather struct {
	CityID       int              `json:"id"`
	CityName     string           `json:"name"`
	Coord        Coordinates      `json:"coord"`
	Condition    NetworkCondition `json:"main"`
	Wind         Wind             `json:"wind"`
	Descriptions []Description    `json:"weather"`
	Dt           int64            `json:"dt"`
}

// NetworkForecast is one three-hourly point of a provider forecast.
type NetworkForecast struct {
	Dt           int64            `json:"dt"`
	Condition    NetworkCondition `json:"main"`
	Wind         Wind             `json:"wind"`
	Descriptions []Description    `json:"weather"`
}

// NetworkCity identifies the city a forecast belongs to.
type NetworkCity struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NetworkForecastList is the provider's forecast response.
type NetworkForecastList struct {
	City    NetworkCity       `json:"city"`
	Entries []NetworkForecast `json:"list"`
}

// ---- persisted rows (Celsius) ----

// SnapshotRow mirrors a row of the weather table.
type SnapshotRow struct {
	ID                 int
	CityID             int
	CityName           string
	TemperatureCelsius float64
	FeelsLikeCelsius   float64
	Humidity           float64
	Pressure           float64
	Wind               Wind
	Descriptions       []Description
	ConditionCode      int
	ObservedAt         time.Time
}

// ForecastRow mirrors a row of the weather_forecast table.
type ForecastRow struct {
	ID                 int
	CityID             int
	ForecastAt         time.Time
	TemperatureCelsius float64
	Wind               Wind
	Descriptions       []Description
	ConditionCode      int
}

// ---- domain ----

// Snapshot is the single current-weather record for a location.
type Snapshot struct {
	LocationID         int           `json:"location_id"`
	LocationName       string        `json:"location_name"`
	TemperatureCelsius float64       `json:"temperature_celsius"`
	FeelsLikeCelsius   float64       `json:"feels_like_celsius"`
	Humidity           float64       `json:"humidity"`
	Pressure           float64       `json:"pressure"`
	Wind               Wind          `json:"wind"`
	Descriptions       []Description `json:"descriptions"`
	ConditionCode      int           `json:"condition_code"`
	ObservedAt         time.Time     `json:"observed_at"`
}

// ForecastEntry is one forward-looking prediction point.
type ForecastEntry struct {
	Timestamp          time.Time     `json:"timestamp"`
	LocationID         int           `json:"location_id"`
	TemperatureCelsius float64       `json:"temperature_celsius"`
	Wind               Wind          `json:"wind"`
	Descriptions       []Description `json:"descriptions"`
	ConditionCode      int           `json:"condition_code"`
}
