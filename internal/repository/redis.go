package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// takeScript removes a hash field and returns its previous value in one step.
var takeScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if v then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
return v
`)

// RedisRepository stores a collection as one Redis hash named after it,
// mapping id to the JSON record.
type RedisRepository[T Entity] struct {
	client     *redis.Client
	collection string
}

// NewRedisRepository creates a repository over the hash named collection.
func NewRedisRepository[T Entity](client *redis.Client, collection string) *RedisRepository[T] {
	return &RedisRepository[T]{client: client, collection: collection}
}

func (r *RedisRepository[T]) List(ctx context.Context) ([]T, error) {
	all, err := r.client.HGetAll(ctx, r.collection).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.collection, err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return decodeAll[T](ctx, r.collection, ids, func(id string) []byte { return []byte(all[id]) }), nil
}

func (r *RedisRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := r.client.HGet(ctx, r.collection, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("hget %s/%s: %w", r.collection, id, err)
	}
	return decode[T](r.collection, id, data)
}

func (r *RedisRepository[T]) Save(ctx context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.collection, entity.EntityID(), data).Err(); err != nil {
		return fmt.Errorf("hset %s/%s: %w", r.collection, entity.EntityID(), err)
	}
	return nil
}

func (r *RedisRepository[T]) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.collection, id).Err(); err != nil {
		return fmt.Errorf("hdel %s/%s: %w", r.collection, id, err)
	}
	return nil
}

func (r *RedisRepository[T]) Take(ctx context.Context, id string) (T, error) {
	var zero T
	res, err := takeScript.Run(ctx, r.client, []string{r.collection}, id).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("take %s/%s: %w", r.collection, id, err)
	}
	return decode[T](r.collection, id, []byte(res))
}
