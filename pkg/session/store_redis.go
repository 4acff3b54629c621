package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harun/confer/pkg/schema"
)

// KeyPrefix namespaces transcripts in Redis
const KeyPrefix = "chat_history:"

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps each transcript as a list of JSON documents with a
// native key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and checks the connection
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisStore{client: client}, nil
}

func redisKey(sessionID string) string {
	return KeyPrefix + sessionID
}

func (s *RedisStore) LoadHistory(ctx context.Context, sessionID string) ([]schema.Message, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, redisKey(sessionID), 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return []schema.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sessionID, err)
	}
	return schema.DecodeMessages(raw)
}

// ReplaceHistory runs DEL, RPUSH and EXPIRE in a single MULTI/EXEC
func (s *RedisStore) ReplaceHistory(ctx context.Context, sessionID string, messages []schema.Message, ttl time.Duration) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	raw, err := schema.EncodeMessages(messages)
	if err != nil {
		return err
	}
	values := make([]any, len(raw))
	for i, item := range raw {
		values[i] = item
	}

	key := redisKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, effectiveTTL(ttl))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
