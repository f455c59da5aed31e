package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"binwatch-backend/internal/parse"
)

// redisStore keeps each bin document as a hash at <prefix><location>/<deviceId>.
// HSET only writes the fields it is given, which is exactly the partial update
// semantics the tracker needs.
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client, prefix string) Store {
	return &redisStore{rdb: rdb, prefix: prefix}
}

func (s *redisStore) key(path string) string {
	return s.prefix + path
}

func (s *redisStore) locationsKey() string {
	return s.prefix + "locations"
}

func (s *redisStore) ReadDocument(ctx context.Context, path string) (Document, error) {
	location, id, err := parse.ParsePath(path)
	if err != nil {
		return nil, err
	}

	raw, err := s.rdb.HGetAll(ctx, s.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bin %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	doc := Document{FieldLocation: location, FieldDeviceID: id}
	for name, value := range raw {
		switch name {
		case FieldDistance:
			if f, err := toFloat(name, value); err == nil {
				doc[name] = f
			}
		case FieldFillLevel:
			if i, err := toInt(name, value); err == nil {
				doc[name] = i
			}
		default:
			doc[name] = value
		}
	}
	return doc, nil
}

func (s *redisStore) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	location, _, err := parse.ParsePath(path)
	if err != nil {
		return err
	}
	if err := checkFields(fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	values := make(map[string]any, len(fields))
	for name, value := range fields {
		values[name] = value
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key(path), values)
	pipe.SAdd(ctx, s.locationsKey(), location)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update bin %s: %w", path, err)
	}
	return nil
}

func (s *redisStore) ResolveLocation(ctx context.Context, name string) (string, error) {
	locations, err := s.rdb.SMembers(ctx, s.locationsKey()).Result()
	if err != nil {
		return name, fmt.Errorf("failed to resolve location %q: %w", name, err)
	}
	for _, loc := range locations {
		if strings.EqualFold(loc, name) {
			return loc, nil
		}
	}
	return name, nil
}
