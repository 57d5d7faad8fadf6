package sagaflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "sagaflow:log"

// RedisSink persists transaction log entries as JSON in a Redis list per
// execution.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a sink on an existing client. prefix defaults to
// "sagaflow:log"; ttl, when positive, expires an execution's list that long
// after its last append.
func NewRedisSink(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// DialRedisSink creates a sink with its own client from config.
func DialRedisSink(cfg RedisConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisSink(client, cfg.KeyPrefix, cfg.TTL)
}

// AppendLog implements PersistenceSink.
func (s *RedisSink) AppendLog(ctx context.Context, entry LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	key := s.key(entry.ExecutionID)
	if err := s.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire log key: %w", err)
		}
	}
	return nil
}

// Entries reads back an execution's persisted entries in append order.
func (s *RedisSink) Entries(ctx context.Context, executionID string) ([]LogEntry, error) {
	raw, err := s.client.LRange(ctx, s.key(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	entries := make([]LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisSink) key(executionID string) string {
	return s.prefix + ":" + executionID
}
