package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "automata:kv:"

// casScript — атомарный compare-and-swap одного ключа.
// ARGV[1] = "0" — ожидаем отсутствие ключа, "1" — ожидаем значение ARGV[2].
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '0' then
  if cur then return 0 end
else
  if (not cur) or cur ~= ARGV[2] then return 0 end
end
redis.call('SET', KEYS[1], ARGV[3])
return 1
`)

// RedisStore — ScopedStore поверх Redis.
// Позволяет нескольким процессам делить watermark и подписки.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore создаёт новый RedisStore. Пустой prefix заменяется на "automata:kv:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

// Get возвращает значение или ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	v, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Put записывает значение без срока жизни.
func (s *RedisStore) Put(ctx context.Context, key Key, value []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete удаляет запись.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap записывает next, если текущее значение равно old.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key Key, old, next []byte) (bool, error) {
	expect := "1"
	if old == nil {
		expect = "0"
		old = []byte{}
	}

	n, err := casScript.Run(ctx, s.client, []string{s.redisKey(key)}, expect, old, next).Int()
	if err != nil {
		return false, fmt.Errorf("swap %s: %w", key, err)
	}
	return n == 1, nil
}
