package limiter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reserveScript trims expired members, then either records the call or
// reports how long until the oldest member leaves the window. Running it as
// one script keeps the count-and-add atomic under concurrent callers.
// Scores are microseconds since epoch.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
if redis.call('ZCARD', key) < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1000)
  return 0
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return tonumber(oldest[2]) + window - now
`)

// RedisStore keeps the sliding window in a redis sorted set, one set per
// scope. All processes sharing the redis instance share the quota.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps a redis client as a limiter store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, scope string, now time.Time, window time.Duration, limit int) (time.Duration, error) {
	res, err := reserveScript.Run(ctx, s.rdb,
		[]string{"ratewindow:" + scope},
		now.UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, err
	}
	if res <= 0 {
		return 0, nil
	}
	return time.Duration(res) * time.Microsecond, nil
}
