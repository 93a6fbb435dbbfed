package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит держателю.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis — Locker поверх Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis создаёт Redis-локер. Пустой prefix заменяется на "automata:lock:".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "automata:lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

// TryAcquire выполняет SET key holder NX PX ttl.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	redisKey := r.prefix + key
	holder := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, holder, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// ctx вызывающего может быть уже отменён
			_ = releaseScript.Run(context.Background(), r.client, []string{redisKey}, holder).Err()
		})
	}
	return release, true, nil
}
