// Package openweather fetches current weather and forecasts from OpenWeatherMap.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/neexbeast/instantweather/internal/weather"
)

const (
	// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	httpTimeout = 10 * time.Second

	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

var (
	errMissingTemperature = errors.New("response has no temperature")
	errEmptyForecast      = errors.New("response has no forecast entries")
)

// Client calls the OpenWeatherMap current weather and forecast endpoints.
// Temperatures are returned in Kelvin, as the provider sends them.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient constructs a Client with the given API key against the production API.
func NewClient(apiKey string) *Client {
	return NewClientWithURL(DefaultBaseURL, apiKey)
}

// NewClientWithURL constructs a Client pointing at a custom base URL (for tests).
func NewClientWithURL(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpTimeout},
		breaker: newBreaker(),
	}
}

// newBreaker opens after consecutive provider failures so a down provider is not
// hammered by every refresh. Requests abandoned by the caller do not count
// against the provider.
func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openweathermap",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// CurrentWeather retrieves the current weather at the given coordinates.
func (c *Client) CurrentWeather(ctx context.Context, lat, lon float64) (*weather.NetworkWeather, error) {
	const op = "openweathermap current weather"

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	var raw weather.NetworkWeather
	if err := c.doGet(ctx, op, "/weather", query, &raw); err != nil {
		return nil, err
	}

	if raw.Condition.Temp <= 0 {
		return nil, weather.ParseError(op, errMissingTemperature)
	}

	return &raw, nil
}

// Forecast retrieves the 5 day / 3 hour forecast for a provider city id.
func (c *Client) Forecast(ctx context.Context, cityID int) (*weather.NetworkForecastList, error) {
	const op = "openweathermap forecast"

	query := url.Values{}
	query.Set("id", strconv.Itoa(cityID))

	var raw weather.NetworkForecastList
	if err := c.doGet(ctx, op, "/forecast", query, &raw); err != nil {
		return nil, err
	}

	if len(raw.Entries) == 0 {
		return nil, weather.ParseError(op, errEmptyForecast)
	}

	return &raw, nil
}

// doGet runs a GET through the circuit breaker and decodes the JSON body into dst.
func (c *Client) doGet(ctx context.Context, op, path string, query url.Values, dst any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.get(ctx, op, path, query, dst)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return weather.FetchError(op, err)
	}
	return err
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, dst any) error {
	query.Set("appid", c.apiKey)
	rawURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return weather.FetchError(op, fmt.Errorf("creating request for %s: %w", path, err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return weather.FetchError(op, fmt.Errorf("GET %s: %w", path, redact(err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return weather.FetchError(op, fmt.Errorf("GET %s returned status %d", path, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return weather.ParseError(op, fmt.Errorf("decoding response from %s: %w", path, err))
	}

	return nil
}

// redact drops the request URL, which carries the API key, from transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
