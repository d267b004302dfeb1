package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps one hash per connection; each field holds a JSON value.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.Namespace)
}

func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "flowhook"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) key(id uuid.UUID) string {
	return r.namespace + ":credentials:" + id.String()
}

func (r *RedisStore) Get(ctx context.Context, connectionID uuid.UUID) (Data, error) {
	fields, err := r.client.HGetAll(ctx, r.key(connectionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	out := make(Data, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode credential field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func encodeFields(data Data) ([]any, error) {
	values := make([]any, 0, len(data)*2)
	for k, v := range data {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode credential field %q: %w", k, err)
		}
		values = append(values, k, string(b))
	}
	return values, nil
}

func (r *RedisStore) Set(ctx context.Context, connectionID uuid.UUID, updates Data) error {
	if len(updates) == 0 {
		return nil
	}
	values, err := encodeFields(updates)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key(connectionID), values...).Err()
}

func (r *RedisStore) Replace(ctx context.Context, connectionID uuid.UUID, data Data) error {
	values, err := encodeFields(data)
	if err != nil {
		return err
	}
	key := r.key(connectionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		return nil
	})
	return err
}

func (r *RedisStore) Delete(ctx context.Context, connectionID uuid.UUID) error {
	return r.client.Del(ctx, r.key(connectionID)).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
