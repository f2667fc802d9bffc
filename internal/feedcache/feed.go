package feedcache

import (
	"context"
	"errors"
	"time"

	"confessional/api/internal/facebook"
	"confessional/api/internal/logging"
	"confessional/api/internal/metrics"
)

// MaxLimit caps how many posts one feed request may ask for.
const MaxLimit = 500

type PostSource interface {
	RecentPosts(ctx context.Context, limit int) ([]facebook.Post, error)
}

type Cache interface {
	Get(ctx context.Context) (Entry, error)
	Set(ctx context.Context, entry Entry) error
	Invalidate(ctx context.Context) error
}

// Feed serves the public feed from the cache, refetching when the entry is
// stale or smaller than the request. Cache failures are logged and
// bypassed.
type Feed struct {
	source   PostSource
	cache    Cache
	ttl      time.Duration
	maxPosts int
	metrics  *metrics.Collectors
	logger   logging.Logger
	now      func() time.Time
}

// NewFeed builds a feed. cache may be nil, in which case every request
// goes to the source.
func NewFeed(source PostSource, cache Cache, ttl time.Duration, maxPosts int, m *metrics.Collectors, logger logging.Logger) *Feed {
	if maxPosts <= 0 || maxPosts > MaxLimit {
		maxPosts = MaxLimit
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Feed{source: source, cache: cache, ttl: ttl, maxPosts: maxPosts, metrics: m, logger: logger, now: time.Now}
}

// Get returns up to limit posts, newest first.
func (f *Feed) Get(ctx context.Context, limit int) ([]facebook.Post, error) {
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, MaxLimit)

	var stale *Entry
	if f.cache != nil {
		entry, err := f.cache.Get(ctx)
		switch {
		case err == nil && entry.Fresh(f.now()) && covers(entry, limit, f.maxPosts):
			f.metrics.FeedCache("hit")
			return head(entry.Posts, limit), nil
		case err == nil:
			stale = &entry
		case !errors.Is(err, ErrMiss):
			f.logger.WithError(err).Warn("feed cache read failed")
		}
	}
	f.metrics.FeedCache("miss")

	posts, err := f.fetch(ctx, max(limit, f.maxPosts))
	if err != nil {
		if stale != nil {
			f.logger.WithError(err).Warn("serving stale feed")
			f.metrics.FeedCache("stale")
			return head(stale.Posts, limit), nil
		}
		return nil, err
	}
	return head(posts, limit), nil
}

// Refresh refetches and stores the feed regardless of freshness.
func (f *Feed) Refresh(ctx context.Context) (int, error) {
	posts, err := f.fetch(ctx, f.maxPosts)
	if err != nil {
		return 0, err
	}
	return len(posts), nil
}

func (f *Feed) fetch(ctx context.Context, n int) ([]facebook.Post, error) {
	posts, err := f.source.RecentPosts(ctx, n)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []facebook.Post{}
	}
	if f.cache != nil {
		entry := Entry{Posts: posts, FetchedAt: f.now().UTC(), TTL: f.ttl}
		if err := f.cache.Set(ctx, entry); err != nil {
			f.logger.WithError(err).Warn("feed cache write failed")
		}
	}
	return posts, nil
}

// covers reports whether the entry can answer a request for limit posts:
// either it holds that many, or it was a full fetch and the page simply
// has fewer posts.
func covers(entry Entry, limit, maxPosts int) bool {
	return len(entry.Posts) >= limit || len(entry.Posts) < maxPosts
}

func head(posts []facebook.Post, n int) []facebook.Post {
	if len(posts) > n {
		return posts[:n]
	}
	return posts
}
