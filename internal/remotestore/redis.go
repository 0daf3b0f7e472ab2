package remotestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session document in a Redis hash at
// <prefix>:session:<userID>.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	closer    func() error
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix. The default is "stocktake".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, keyPrefix: "stocktake"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL dials the server at url (redis://...).
func NewRedisStoreFromURL(url string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	s := NewRedisStore(client, opts...)
	s.closer = client.Close
	return s, nil
}

func (s *RedisStore) key(userID string) string {
	return s.keyPrefix + ":session:" + userID
}

// SetSessionID records sessionID for userID.
func (s *RedisStore) SetSessionID(ctx context.Context, userID, sessionID string) error {
	if err := s.client.HSet(ctx, s.key(userID), FieldSessionID, sessionID).Err(); err != nil {
		return fmt.Errorf("set session id: %w", err)
	}
	return nil
}

// ClearSessionID empties the sessionId field. The document itself stays.
func (s *RedisStore) ClearSessionID(ctx context.Context, userID string) error {
	if err := s.client.HSet(ctx, s.key(userID), FieldSessionID, "").Err(); err != nil {
		return fmt.Errorf("clear session id: %w", err)
	}
	return nil
}

// SessionID returns the stored sessionId, or "" when there is none.
func (s *RedisStore) SessionID(ctx context.Context, userID string) (string, error) {
	v, err := s.client.HGet(ctx, s.key(userID), FieldSessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session id: %w", err)
	}
	return v, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes a client created by NewRedisStoreFromURL.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
