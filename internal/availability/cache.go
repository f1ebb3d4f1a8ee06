package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"evslots/internal/events"
	"evslots/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix = "evslots:availability"
	genPrefix = "evslots:availability-gen"
)

// setIfCurrent writes a day only while the station generation still equals
// the one read before the day was computed.
var setIfCurrent = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache keeps computed days in Redis for ttl. Errors are logged and
// treated as misses. Every invalidation bumps a per-station generation so a
// day computed before the change is never stored after it.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *zerolog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger.With().Str("component", "availability_cache").Logger()}
}

func cacheKey(stationID, date string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, stationID, date)
}

func genKey(stationID string) string {
	return fmt.Sprintf("%s:%s", genPrefix, stationID)
}

// Generation returns the station's invalidation counter, or -1 when it
// cannot be read.
func (c *RedisCache) Generation(ctx context.Context, stationID string) int64 {
	if c.rdb == nil || c.ttl <= 0 {
		return -1
	}
	gen, err := c.rdb.Get(ctx, genKey(stationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache generation read failed")
		return -1
	}
	return gen
}

func (c *RedisCache) Get(ctx context.Context, stationID, date string) (*DayAvailability, bool) {
	if c.rdb == nil || c.ttl <= 0 {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, cacheKey(stationID, date)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("cache read failed")
		}
		return nil, false
	}
	var day DayAvailability
	if err := json.Unmarshal([]byte(val), &day); err != nil {
		return nil, false
	}
	return &day, true
}

// Set stores day if the station generation is still gen.
func (c *RedisCache) Set(ctx context.Context, day *DayAvailability, gen int64) {
	if c.rdb == nil || c.ttl <= 0 || gen < 0 {
		return
	}
	data, err := json.Marshal(day)
	if err != nil {
		return
	}
	keys := []string{genKey(day.StationID), cacheKey(day.StationID, day.Date)}
	err = setIfCurrent.Run(ctx, c.rdb, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Err()
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
}

func (c *RedisCache) bump(ctx context.Context, stationID string, keys ...string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(stationID))
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	return err
}

// InvalidateDates drops cached days of one station.
func (c *RedisCache) InvalidateDates(ctx context.Context, stationID string, dates []time.Time) error {
	if c.rdb == nil || len(dates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, cacheKey(stationID, d.UTC().Format(model.DateLayout)))
	}
	return c.bump(ctx, stationID, keys...)
}

// InvalidateStation drops every cached day of one station.
func (c *RedisCache) InvalidateStation(ctx context.Context, stationID string) error {
	if c.rdb == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, fmt.Sprintf("%s:%s:*", keyPrefix, stationID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.bump(ctx, stationID, keys...)
}

// HandleEvent is an events.EventHandler that keeps the cache in step with
// lifecycle and station changes.
func (c *RedisCache) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.StationChanged, events.StationDeactivated, events.StationDeleted:
		return c.InvalidateStation(ctx, e.StationID)
	default:
		return c.InvalidateDates(ctx, e.StationID, e.Dates)
	}
}
