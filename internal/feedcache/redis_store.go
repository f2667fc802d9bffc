// Package feedcache keeps the public confession feed in Redis so page
// visitors do not each hit the Graph API.
package feedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"confessional/api/internal/facebook"
)

// ErrMiss is returned when no entry is stored.
var ErrMiss = errors.New("feed cache miss")

// Entry is one cached snapshot of the feed.
type Entry struct {
	Posts     []facebook.Post `json:"posts"`
	FetchedAt time.Time       `json:"fetchedAt"`
	TTL       time.Duration   `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.FetchedAt.Add(e.TTL))
}

// RedisStore stores entries under a single key. Entries outlive their TTL
// in Redis by the retention period so a stale copy can stand in when the
// Graph API is down.
type RedisStore struct {
	client    *redis.Client
	key       string
	retention time.Duration
}

// NewRedisStore connects and pings.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		key:       "feed:confessions",
		retention: 24 * time.Hour,
	}
}

func (s *RedisStore) Get(ctx context.Context) (Entry, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read feed cache: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode feed cache: %w", err)
	}
	return entry, nil
}

func (s *RedisStore) Set(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode feed cache: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, entry.TTL+s.retention).Err(); err != nil {
		return fmt.Errorf("write feed cache: %w", err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("invalidate feed cache: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
