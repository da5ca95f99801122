package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists issued credentials. Consume must be atomic: of any number of
// concurrent calls for the same key, exactly one observes the value.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	Consume(ctx context.Context, key string) (string, bool, error)
}

// RedisStore keeps credentials in the shared redis instance so revocation and
// consumption hold across replicas.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps a redis client as a credential store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// consumeScript is the fallback for servers without GETDEL (Redis < 6.2).
const consumeScript = `local v=redis.call('GET', KEYS[1]); if v then redis.call('DEL', KEYS[1]); end; return v`

// Consume reads and deletes a key in one step, preferring GETDEL.
func (s *RedisStore) Consume(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.GetDel(ctx, key).Result()
	if err == nil {
		return val, true, nil
	}
	if err == redis.Nil {
		return "", false, nil
	}

	res, err := s.rdb.Eval(ctx, consumeScript, []string{key}).Result()
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	str, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	return str, true, nil
}
