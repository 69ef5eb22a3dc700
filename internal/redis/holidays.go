package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

// HolidayCache fronts a holiday calendar with Redis. Redis failures fall
// through to the source; they never fail the lookup.
type HolidayCache struct {
	client *redis.Client
	source capacity.HolidayCalendar
	ttl    time.Duration
	log    zerolog.Logger
}

var _ capacity.HolidayCalendar = (*HolidayCache)(nil)

func NewHolidayCache(client *redis.Client, source capacity.HolidayCalendar, ttl time.Duration, log zerolog.Logger) *HolidayCache {
	return &HolidayCache{client: client, source: source, ttl: ttl, log: log}
}

func holidayKey(from, to time.Time) string {
	return fmt.Sprintf("holidays:%s:%s", from.Format(capacity.DateLayout), to.Format(capacity.DateLayout))
}

func (c *HolidayCache) ListHolidays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	key := holidayKey(from, to)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var days []string
		if jsonErr := json.Unmarshal(raw, &days); jsonErr == nil {
			return parseDays(days)
		}
		c.log.Warn().Str("key", key).Msg("discarding unreadable holiday cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("key", key).Msg("holiday cache read failed")
	}

	holidays, err := c.source.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, err
	}

	days := make([]string, len(holidays))
	for i, d := range holidays {
		days[i] = d.Format(capacity.DateLayout)
	}
	data, _ := json.Marshal(days)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("holiday cache write failed")
	}

	return holidays, nil
}

func parseDays(days []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(days))
	for _, s := range days {
		d, err := capacity.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
