package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/opentalon/hybridflow/internal/state"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "hybridSession_"

// RedisSessionStore keeps session records in Redis:
//
//	<prefix>session:<id> => JSON session record
//	<prefix>index        => SET of session ids
type RedisSessionStore struct {
	client  *redis.Client
	prefix  string
	migrate state.Migrator
}

var _ state.Store = (*RedisSessionStore)(nil)

func NewRedisSessionStore(client *redis.Client, prefix string, migrate state.Migrator) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix, migrate: migrate}
}

func (s *RedisSessionStore) key(id string) string { return s.prefix + "session:" + id }
func (s *RedisSessionStore) keyIndex() string     { return s.prefix + "index" }

func (s *RedisSessionStore) Save(ctx context.Context, c *state.Context) error {
	if err := state.ValidateID(c.SessionID); err != nil {
		return err
	}
	c.Touch()
	data, err := state.Marshal(c)
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(c.SessionID), data, 0)
		pipe.SAdd(ctx, s.keyIndex(), c.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*state.Context, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %q", state.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}

	c, migrated, err := state.Unmarshal(data, s.migrate)
	if errors.Is(err, state.ErrStaleSession) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %q discarded", state.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if migrated {
		if err := s.Save(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.keyIndex(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
