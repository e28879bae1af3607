package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

// RedisStorage keeps each record as a JSON string under prefix+name.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps records forever
}

// NewRedisStorage creates a new Redis storage backend.
// Returns error if connection fails.
func NewRedisStorage(cfg config.StoreConfig) (*RedisStorage, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "parsing redis URL", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	return &RedisStorage{
		client: client,
		prefix: cfg.Prefix,
		ttl:    time.Duration(cfg.TTL) * time.Second,
	}, nil
}

func (rs *RedisStorage) key(name string) string {
	return rs.prefix + name
}

func (rs *RedisStorage) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key(rec.Name), data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}

func (rs *RedisStorage) Load(ctx context.Context, name string) (*Record, error) {
	data, err := rs.client.Get(ctx, rs.key(name)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.NotFoundError("tree " + name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedTree, "unmarshalling record", err)
	}
	return &rec, nil
}

// LoadAll scans the prefix. Records that expire or fail to decode between
// the scan and the read are skipped.
func (rs *RedisStorage) LoadAll(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := rs.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	return recs, nil
}

func (rs *RedisStorage) Delete(ctx context.Context, name string) error {
	if err := rs.client.Del(ctx, rs.key(name)).Err(); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

func (rs *RedisStorage) Exists(ctx context.Context, name string) (bool, error) {
	n, err := rs.client.Exists(ctx, rs.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("checking record: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
