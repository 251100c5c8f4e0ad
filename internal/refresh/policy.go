package refresh

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neexbeast/instantweather/internal/weather"
)

// DefaultCacheDuration applies when the cache duration setting is unset or invalid.
const DefaultCacheDuration = 300 * time.Second

// parseCacheDuration reads a whole number of seconds. An unset value yields
// fallback with no error; an invalid one yields fallback and a config error.
// Zero is valid and makes every refresh go remote.
func parseCacheDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, weather.ConfigError("parse cache duration", err)
	}
	if secs < 0 {
		return fallback, weather.ConfigError("parse cache duration", fmt.Errorf("negative value %d", secs))
	}

	return time.Duration(secs) * time.Second, nil
}

// isStale reports whether data last fetched at last must be fetched again at now.
// A zero last means it was never fetched.
func isStale(last, now time.Time, ttl time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= ttl
}
