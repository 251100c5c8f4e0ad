package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/neexbeast/instantweather/internal/refresh"
	"github.com/neexbeast/instantweather/internal/units"
	"github.com/neexbeast/instantweather/internal/weather"
)

const (
	dateLayout      = "2006-01-02"
	displayDecimals = 2
)

var validate = validator.New()

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	refresher WeatherRefresher
	settings  SettingsStore
	log       *slog.Logger
}

// NewHandlers constructs Handlers with all required dependencies.
func NewHandlers(refresher WeatherRefresher, settings SettingsStore, log *slog.Logger) *Handlers {
	return &Handlers{
		refresher: refresher,
		settings:  settings,
		log:       log,
	}
}

// refreshResponse is the body of every weather and forecast response.
type refreshResponse[T any] struct {
	Data    T      `json:"data"`
	Loading bool   `json:"loading"`
	Fetched bool   `json:"fetched"`
	Source  string `json:"source,omitempty"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeState answers a refresh. Failures carry fetched=false and the last good value.
func writeState[T any](w http.ResponseWriter, log *slog.Logger, entity weather.Entity, state refresh.State[T], err error, present func(T) T) {
	resp := refreshResponse[T]{
		Data:    present(state.Value),
		Loading: state.Loading,
		Fetched: state.Fetched,
		Source:  string(state.Source),
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, weather.ErrNoLocation):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		log.Error("refresh failed", "entity", entity, "kind", weather.KindOf(err).String(), "err", err)
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

// GetWeather handles GET /api/v1/weather.
// Serves the cached snapshot while fresh, fetches otherwise.
func (h *Handlers) GetWeather(w http.ResponseWriter, r *http.Request) {
	h.weather(w, r, h.refresher.RefreshWeather)
}

// RefreshWeather handles POST /api/v1/weather/refresh.
func (h *Handlers) RefreshWeather(w http.ResponseWriter, r *http.Request) {
	h.weather(w, r, h.refresher.ForceRefreshWeather)
}

type weatherFunc func(ctx context.Context, req refresh.Request) (refresh.State[weather.Snapshot], error)

func (h *Handlers) weather(w http.ResponseWriter, r *http.Request, fn weatherFunc) {
	coords, err := parseCoords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := fn(r.Context(), refresh.Request{Coords: coords})
	writeState(w, h.log, weather.EntityWeather, state, err, presentSnapshot)
}

// GetForecast handles GET /api/v1/forecast.
// An optional date=YYYY-MM-DD keeps only that day's entries.
func (h *Handlers) GetForecast(w http.ResponseWriter, r *http.Request) {
	h.forecast(w, r, h.refresher.RefreshForecast)
}

// RefreshForecast handles POST /api/v1/forecast/refresh.
func (h *Handlers) RefreshForecast(w http.ResponseWriter, r *http.Request) {
	h.forecast(w, r, h.refresher.ForceRefreshForecast)
}

type forecastFunc func(ctx context.Context, req refresh.Request) (refresh.State[[]weather.ForecastEntry], error)

func (h *Handlers) forecast(w http.ResponseWriter, r *http.Request, fn forecastFunc) {
	q, err := parseForecastQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := fn(r.Context(), refresh.Request{CityID: q.CityID})
	present := presentForecast
	if q.Day != nil {
		day := *q.Day
		present = func(entries []weather.ForecastEntry) []weather.ForecastEntry {
			return presentForecast(weather.FilterByDay(entries, day))
		}
	}
	writeState(w, h.log, weather.EntityForecast, state, err, present)
}

// ---- settings ----

type settingsResponse struct {
	CacheDurationSeconds int    `json:"cache_duration_seconds"`
	CacheDurationRaw     string `json:"cache_duration_raw"`
	CityID               int    `json:"city_id"`
	SearchLocation       string `json:"search_location"`
}

// GetSettings handles GET /api/v1/settings.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := h.settings.CacheDuration(ctx)
	if err != nil {
		h.log.Error("reading cache duration failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	cityID, err := h.settings.CityID(ctx)
	if err != nil {
		h.log.Error("reading city id failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	search, err := h.settings.SearchLocation(ctx)
	if err != nil {
		h.log.Error("reading search location failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		CacheDurationSeconds: int(h.refresher.CacheDuration(ctx) / time.Second),
		CacheDurationRaw:     raw,
		CityID:               cityID,
		SearchLocation:       search,
	})
}

type cacheDurationRequest struct {
	Seconds *int `json:"seconds" validate:"required,gte=0"`
}

// SetCacheDuration handles PUT /api/v1/settings/cache-duration.
func (h *Handlers) SetCacheDuration(w http.ResponseWriter, r *http.Request) {
	var req cacheDurationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settings.SetCacheDuration(r.Context(), strconv.Itoa(*req.Seconds)); err != nil {
		h.log.Error("saving cache duration failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save cache duration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"cache_duration_seconds": *req.Seconds})
}

type searchLocationRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// SetSearchLocation handles PUT /api/v1/settings/search-location.
func (h *Handlers) SetSearchLocation(w http.ResponseWriter, r *http.Request) {
	var req searchLocationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settings.SaveSearchLocation(r.Context(), req.Name); err != nil {
		h.log.Error("saving search location failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save search location")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"search_location": req.Name})
}

// ---- request parsing ----

type coordsQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

// parseCoords returns nil when neither lat nor lon is given.
func parseCoords(r *http.Request) (*weather.Coordinates, error) {
	latStr := r.URL.Query().Get("lat")
	lonStr := r.URL.Query().Get("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, errors.New("lat and lon must be given together")
	}

	var q coordsQuery
	var err error
	if q.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return nil, fmt.Errorf("invalid lat %q", latStr)
	}
	if q.Lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
		return nil, fmt.Errorf("invalid lon %q", lonStr)
	}
	if err := validate.Struct(q); err != nil {
		return nil, validationError(err)
	}

	return &weather.Coordinates{Latitude: q.Lat, Longitude: q.Lon}, nil
}

type forecastQuery struct {
	CityID int `validate:"gte=0"`
	Day    *time.Time
}

func parseForecastQuery(r *http.Request) (forecastQuery, error) {
	var q forecastQuery

	if s := r.URL.Query().Get("city_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			return q, fmt.Errorf("invalid city_id %q", s)
		}
		q.CityID = id
	}
	if s := r.URL.Query().Get("date"); s != "" {
		day, err := time.Parse(dateLayout, s)
		if err != nil {
			return q, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
		}
		q.Day = &day
	}

	if err := validate.Struct(q); err != nil {
		return q, validationError(err)
	}
	return q, nil
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError turns validator output into a client-facing message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%s is %s", fe.Field(), fe.Tag())
}

// ---- presentation ----

func presentSnapshot(s weather.Snapshot) weather.Snapshot {
	s.TemperatureCelsius = units.Round(s.TemperatureCelsius, displayDecimals)
	s.FeelsLikeCelsius = units.Round(s.FeelsLikeCelsius, displayDecimals)
	return s
}

func presentForecast(entries []weather.ForecastEntry) []weather.ForecastEntry {
	out := make([]weather.ForecastEntry, len(entries))
	for i, e := range entries {
		e.TemperatureCelsius = units.Round(e.TemperatureCelsius, displayDecimals)
		out[i] = e
	}
	return out
}
