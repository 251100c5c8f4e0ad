package weather

import (
	"sort"
	"time"

	"github.com/neexbeast/instantweather/internal/units"
)

// conditionCode returns the id of the primary condition, or 0 when none is present.
func conditionCode(descriptions []Description) int {
	if len(descriptions) == 0 {
		return 0
	}
	return descriptions[0].ID
}

// SnapshotRowFromNetwork converts a provider response into a row, turning every
// Kelvin temperature into Celsius. Raw provider units are never persisted.
func SnapshotRowFromNetwork(nw NetworkWeather) SnapshotRow {
	return SnapshotRow{
		CityID:             nw.CityID,
		CityName:           nw.CityName,
		TemperatureCelsius: units.KelvinToCelsius(nw.Condition.Temp),
		FeelsLikeCelsius:   units.KelvinToCelsius(nw.Condition.FeelsLike),
		Humidity:           nw.Condition.Humidity,
		Pressure:           nw.Condition.Pressure,
		Wind:               nw.Wind,
		Descriptions:       nw.Descriptions,
		ConditionCode:      conditionCode(nw.Descriptions),
		ObservedAt:         time.Unix(nw.Dt, 0).UTC(),
	}
}

// ForecastRowsFromNetwork converts every forecast point to a Celsius row.
func ForecastRowsFromNetwork(list NetworkForecastList) []ForecastRow {
	rows := make([]ForecastRow, 0, len(list.Entries))
	for _, e := range list.Entries {
		rows = append(rows, ForecastRow{
			CityID:             list.City.ID,
			ForecastAt:         time.Unix(e.Dt, 0).UTC(),
			TemperatureCelsius: units.KelvinToCelsius(e.Condition.Temp),
			Wind:               e.Wind,
			Descriptions:       e.Descriptions,
			ConditionCode:      conditionCode(e.Descriptions),
		})
	}
	return rows
}

// Snapshot maps a stored row to the domain shape.
func (r SnapshotRow) Snapshot() Snapshot {
	return Snapshot{
		LocationID:         r.CityID,
		LocationName:       r.CityName,
		TemperatureCelsius: r.TemperatureCelsius,
		FeelsLikeCelsius:   r.FeelsLikeCelsius,
		Humidity:           r.Humidity,
		Pressure:           r.Pressure,
		Wind:               r.Wind,
		Descriptions:       r.Descriptions,
		ConditionCode:      r.ConditionCode,
		ObservedAt:         r.ObservedAt,
	}
}

// ForecastFromRows maps stored rows to forecast entries ordered by timestamp.
func ForecastFromRows(rows []ForecastRow) []ForecastEntry {
	entries := make([]ForecastEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, ForecastEntry{
			Timestamp:          r.ForecastAt,
			LocationID:         r.CityID,
			TemperatureCelsius: r.TemperatureCelsius,
			Wind:               r.Wind,
			Descriptions:       r.Descriptions,
			ConditionCode:      r.ConditionCode,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

// FilterByDay keeps the entries that fall on the calendar day of day,
// evaluated in day's location.
func FilterByDay(entries []ForecastEntry, day time.Time) []ForecastEntry {
	y, m, d := day.Date()
	filtered := make([]ForecastEntry, 0, len(entries))
	for _, e := range entries {
		ey, em, ed := e.Timestamp.In(day.Location()).Date()
		if ey == y && em == m && ed == d {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
