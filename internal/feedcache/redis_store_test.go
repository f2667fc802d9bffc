package feedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"confessional/api/internal/facebook"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSetAndGet(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	fetched := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := Entry{
		Posts:     []facebook.Post{{ID: "p1", Message: "#ES_1 hi"}},
		FetchedAt: fetched,
		TTL:       5 * time.Minute,
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Posts) != 1 || got.Posts[0].ID != "p1" {
		t.Errorf("unexpected posts: %+v", got.Posts)
	}
	if !got.FetchedAt.Equal(fetched) || got.TTL != 5*time.Minute {
		t.Errorf("unexpected entry metadata: %+v", got)
	}
	if !got.Fresh(fetched.Add(time.Minute)) {
		t.Error("expected entry to be fresh within ttl")
	}
	if got.Fresh(fetched.Add(6 * time.Minute)) {
		t.Error("expected entry to be stale after ttl")
	}
}

func TestGetMiss(t *testing.T) {
	store, _ := setupTestRedis(t)
	_, err := store.Get(context.Background())
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestEntryOutlivesTTLForRetention(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Set(ctx, Entry{FetchedAt: time.Now(), TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx); err != nil {
		t.Fatalf("expected stale entry to be retained, got %v", err)
	}
	s.FastForward(25 * time.Hour)
	if _, err := store.Get(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected entry to expire after retention, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Set(ctx, Entry{FetchedAt: time.Now(), TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.Get(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after invalidate, got %v", err)
	}
}
