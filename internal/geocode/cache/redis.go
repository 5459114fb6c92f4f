package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "dhruv:geocode:"

// putIfHigher writes the hash only when the key is absent or the stored
// confidence is lower. Comparison and write happen atomically in Redis.
var putIfHigher = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'confidence')
if cur and tonumber(cur) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'confidence', ARGV[3], 'provider', ARGV[4], 'display_name', ARGV[5])
return 1
`)

// Redis is the shared tier. Keys carry no TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: defaultKeyPrefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis geocode get: %w", err)
	}
	if len(vals) == 0 {
		return Entry{}, false, nil
	}

	var e Entry
	if e.Lat, err = strconv.ParseFloat(vals["lat"], 64); err != nil {
		return Entry{}, false, fmt.Errorf("redis geocode lat: %w", err)
	}
	if e.Lng, err = strconv.ParseFloat(vals["lng"], 64); err != nil {
		return Entry{}, false, fmt.Errorf("redis geocode lng: %w", err)
	}
	if e.Confidence, err = strconv.ParseFloat(vals["confidence"], 64); err != nil {
		return Entry{}, false, fmt.Errorf("redis geocode confidence: %w", err)
	}
	e.Provider = vals["provider"]
	e.DisplayName = vals["display_name"]
	return e, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, e Entry) (bool, error) {
	n, err := putIfHigher.Run(ctx, r.client, []string{r.key(key)},
		strconv.FormatFloat(e.Lat, 'f', -1, 64),
		strconv.FormatFloat(e.Lng, 'f', -1, 64),
		strconv.FormatFloat(e.Confidence, 'f', -1, 64),
		e.Provider,
		e.DisplayName,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis geocode put: %w", err)
	}
	return n == 1, nil
}
