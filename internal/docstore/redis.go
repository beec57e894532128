package docstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document as a hash at "<collection>:<id>".
// Values are stored as strings; readers parse them back.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisStore{client: c}
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	m, err := r.client.HGetAll(ctx, docKey(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	// HGETALL on a missing key yields an empty map.
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = v
	}
	return doc, nil
}

func (r *RedisStore) Set(ctx context.Context, collection, id string, fields Document) error {
	key := docKey(collection, id)
	values := hashValues(fields)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	return err
}

func (r *RedisStore) Add(ctx context.Context, collection string, fields Document) (string, error) {
	id := newID()
	values := hashValues(fields)
	if len(values) == 0 {
		return "", fmt.Errorf("redis store: cannot add empty document to %s", collection)
	}
	if err := r.client.HSet(ctx, docKey(collection, id), values).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisStore) Delete(ctx context.Context, collection, id string) error {
	return r.client.Del(ctx, docKey(collection, id)).Err()
}

func docKey(collection, id string) string { return collection + ":" + id }

// hashValues drops nil fields: a hash cannot hold an absent value.
func hashValues(fields Document) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
