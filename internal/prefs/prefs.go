// Package prefs persists refresh bookkeeping and user settings in Redis.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neexbeast/instantweather/internal/weather"
)

const keyPrefix = "instantweather:pref:"

const (
	keyCacheDuration  = "cache_duration"
	keyCityID         = "city_id"
	keyLocation       = "location"
	keySearchLocation = "search_location"
)

// Store wraps a Redis client and provides typed access to preferences.
// Missing keys read as zero values, never as errors.
type Store struct {
	client *redis.Client
}

// NewStore constructs a Store on the given client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open connects to the Redis instance at redisURL and returns a Store that owns
// the connection. The server must answer a ping before Open returns.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	s := NewStore(redis.NewClient(opts))
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Ping reports whether the preference backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func key(name string) string {
	return keyPrefix + name
}

func updateTimeKey(entity weather.Entity) string {
	return key("update_time:" + string(entity))
}

// getString returns "" on a miss.
func (s *Store) getString(ctx context.Context, name string) (string, error) {
	val, err := s.client.Get(ctx, key(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("reading preference %s: %w", name, err)
	}
	return val, nil
}

func (s *Store) set(ctx context.Context, name string, value any) error {
	if err := s.client.Set(ctx, key(name), value, 0).Err(); err != nil {
		return fmt.Errorf("writing preference %s: %w", name, err)
	}
	return nil
}

// UpdateTime returns when entity was last fetched from the provider.
// The zero time means it never was.
func (s *Store) UpdateTime(ctx context.Context, entity weather.Entity) (time.Time, error) {
	nanos, err := s.client.Get(ctx, updateTimeKey(entity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("reading %s update time: %w", entity, err)
	}
	if nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos), nil
}

// SaveUpdateTime records t as the last successful fetch of entity.
func (s *Store) SaveUpdateTime(ctx context.Context, entity weather.Entity, t time.Time) error {
	if err := s.client.Set(ctx, updateTimeKey(entity), t.UnixNano(), 0).Err(); err != nil {
		return fmt.Errorf("writing %s update time: %w", entity, err)
	}
	return nil
}

// ClearUpdateTime forgets the last fetch of entity so the next refresh goes remote.
func (s *Store) ClearUpdateTime(ctx context.Context, entity weather.Entity) error {
	if err := s.client.Del(ctx, updateTimeKey(entity)).Err(); err != nil {
		return fmt.Errorf("clearing %s update time: %w", entity, err)
	}
	return nil
}

// CacheDuration returns the raw cache duration setting in seconds, unparsed.
func (s *Store) CacheDuration(ctx context.Context) (string, error) {
	return s.getString(ctx, keyCacheDuration)
}

// SetCacheDuration stores the raw cache duration setting.
func (s *Store) SetCacheDuration(ctx context.Context, seconds string) error {
	return s.set(ctx, keyCacheDuration, seconds)
}

// CityID returns the provider id of the last fetched city, or 0.
func (s *Store) CityID(ctx context.Context) (int, error) {
	id, err := s.client.Get(ctx, key(keyCityID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading city id: %w", err)
	}
	return id, nil
}

// SaveCityID stores the provider id of the last fetched city.
func (s *Store) SaveCityID(ctx context.Context, id int) error {
	return s.set(ctx, keyCityID, id)
}

// Location returns the last coordinates weather was fetched for.
// Returns nil, nil when none were saved.
func (s *Store) Location(ctx context.Context) (*weather.Coordinates, error) {
	val, err := s.getString(ctx, keyLocation)
	if err != nil || val == "" {
		return nil, err
	}

	var c weather.Coordinates
	if err := json.Unmarshal([]byte(val), &c); err != nil {
		return nil, fmt.Errorf("unmarshaling saved location: %w", err)
	}
	return &c, nil
}

// SaveLocation stores c as the last fetched coordinates.
func (s *Store) SaveLocation(ctx context.Context, c weather.Coordinates) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling location: %w", err)
	}
	return s.set(ctx, keyLocation, b)
}

// SearchLocation returns the user's saved search location name.
func (s *Store) SearchLocation(ctx context.Context) (string, error) {
	return s.getString(ctx, keySearchLocation)
}

// SaveSearchLocation stores the user's search location name.
func (s *Store) SaveSearchLocation(ctx context.Context, name string) error {
	return s.set(ctx, keySearchLocation, name)
}
