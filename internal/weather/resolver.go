package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"petsim/internal/models"
	"petsim/internal/pet"
	"petsim/internal/telemetry"
)

// Fetcher is the provider call behind the cache.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (Report, error)
}

// Resolver maps an owner to a weather category. It never fails: any problem
// with the provider or the cache degrades to clear.
type Resolver struct {
	fetcher Fetcher
	cache   redis.Cmdable
	ttl     time.Duration
	log     *slog.Logger
}

// NewResolver builds a resolver. cache may be nil to disable caching.
func NewResolver(f Fetcher, cache redis.Cmdable, ttl time.Duration, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{fetcher: f, cache: cache, ttl: ttl, log: log}
}

// Resolve returns the category for the owner's location, or clear when the
// owner has none.
func (r *Resolver) Resolve(ctx context.Context, owner models.Owner) pet.Weather {
	if !owner.HasLocation() {
		telemetry.WeatherLookups.WithLabelValues("no_location").Inc()
		return pet.WeatherClear
	}
	return r.Lookup(ctx, *owner.Lat, *owner.Lon)
}

// Lookup resolves coordinates, consulting the cache first.
func (r *Resolver) Lookup(ctx context.Context, lat, lon float64) pet.Weather {
	key := cacheKey(lat, lon)
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key).Result()
		switch {
		case err == nil:
			telemetry.WeatherLookups.WithLabelValues("cache_hit").Inc()
			return pet.Weather(cached)
		case !errors.Is(err, redis.Nil):
			r.log.Warn("weather cache read failed", "key", key, "error", err)
		}
	}

	report, err := r.fetcher.Fetch(ctx, lat, lon)
	if err != nil {
		telemetry.WeatherLookups.WithLabelValues("fallback").Inc()
		r.log.Warn("weather lookup failed, using clear", "lat", lat, "lon", lon, "error", err)
		return pet.WeatherClear
	}
	telemetry.WeatherLookups.WithLabelValues("ok").Inc()

	if r.cache != nil && r.ttl > 0 {
		if err := r.cache.Set(ctx, key, string(report.Category), r.ttl).Err(); err != nil {
			r.log.Warn("weather cache write failed", "key", key, "error", err)
		}
	}
	return report.Category
}

// cacheKey rounds to two decimals (about 1km) so neighbours share an entry.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("petsim:weather:%.2f:%.2f", lat, lon)
}
