package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/pkg/response"
)

// LimitStore decides whether key may pass once per window.
type LimitStore interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

type lruStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
	now   func() time.Time
}

// NewLRUStore keeps at most size keys in process. Entries fall out after
// ttl, which should be at least the longest window in use.
func NewLRUStore(size int, ttl time.Duration) LimitStore {
	return &lruStore{
		cache: expirable.NewLRU[string, time.Time](size, nil, ttl),
		now:   time.Now,
	}
}

func (s *lruStore) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.cache.Get(key); ok && now.Sub(last) < window {
		return false, nil
	}
	s.cache.Add(key, now)
	return true, nil
}

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore shares limits between instances. SetNX makes the first
// caller in a window win.
func NewRedisStore(client *redis.Client, prefix string) LimitStore {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+":"+key, 1, window).Result()
}

type rateLimiter struct {
	store  LimitStore
	window time.Duration
}

// RateLimit lets one request per client address and route through per
// window. Store errors let the request pass.
func RateLimit(store LimitStore, window time.Duration) gin.HandlerFunc {
	limiter := &rateLimiter{store: store, window: window}
	return limiter.handle
}

func (l *rateLimiter) handle(c *gin.Context) {
	if l.window <= 0 || l.store == nil {
		c.Next()
		return
	}
	ip := c.ClientIP()
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	key := strings.Join([]string{ip, path}, "|")
	ctx := c.Request.Context()
	ok, err := l.store.Allow(ctx, key, l.window)
	if err != nil {
		logutil.GetLogger(ctx).Error("rate limit store failed", zap.String("key", key), zap.Error(err))
		c.Next()
		return
	}
	if !ok {
		logutil.GetLogger(ctx).Warn("rate limit hit",
			zap.String("ip", ip),
			zap.String("path", path),
		)
		response.Error(c, http.StatusTooManyRequests, "too_many_requests", http.StatusText(http.StatusTooManyRequests))
		c.Abort()
		return
	}
	c.Next()
}
