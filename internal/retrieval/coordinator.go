package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tier names one of the ordered data sources.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierCache    Tier = "cache"
	TierFallback Tier = "fallback"
)

// Reliability scores are for display only.
const (
	ReliabilityPrimary  = 95
	ReliabilityCache    = 85
	ReliabilityFallback = 70
)

// Source is anything that can produce a payload: Primary, Fallback or a test fake.
type Source[T any] interface {
	Fetch(ctx context.Context) (T, error)
}

// Result wraps a payload with where it came from.
type Result[T any] struct {
	Data        T         `json:"data"`
	Source      Tier      `json:"source"`
	Reliability int       `json:"reliability"`
	Timestamp   time.Time `json:"timestamp"`
	Errors      []string  `json:"errors"`
}

// Coordinator tries Primary, then Cache, then Fallback.
type Coordinator[T any] struct {
	primary  Source[T]
	fallback Source[T]
	cache    *Cache[T]
	key      string
	now      func() time.Time
	logger   *zap.Logger
}

func NewCoordinator[T any](primary, fallback Source[T], cache *Cache[T], key string, logger *zap.Logger) *Coordinator[T] {
	if cache == nil {
		cache = NewCache[T](DefaultCacheTTL, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator[T]{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		key:      key,
		now:      time.Now,
		logger:   logger,
	}
}

// Fetch returns the first tier that succeeds. Earlier tier failures are kept
// in Result.Errors. When every tier fails the error is an *ExhaustedError and
// no data is returned.
func (c *Coordinator[T]) Fetch(ctx context.Context) (Result[T], error) {
	var errs []error

	data, err := c.primary.Fetch(ctx)
	if err == nil {
		c.cache.Put(c.key, data)
		return c.result(data, TierPrimary, ReliabilityPrimary, c.now(), errs), nil
	}
	errs = append(errs, &tierError{tier: TierPrimary, err: err})
	c.logger.Warn("primary tier failed", zap.String("key", c.key), zap.Error(err))

	if cached, storedAt, ok := c.cache.Get(c.key); ok {
		return c.result(cached, TierCache, ReliabilityCache, storedAt, errs), nil
	}
	errs = append(errs, &tierError{tier: TierCache, err: ErrCacheMiss})

	data, err = c.fallback.Fetch(ctx)
	if err == nil {
		c.logger.Info("serving fallback data", zap.String("key", c.key), zap.Int("prior_errors", len(errs)))
		return c.result(data, TierFallback, ReliabilityFallback, c.now(), errs), nil
	}
	errs = append(errs, &tierError{tier: TierFallback, err: err})

	exhausted := newExhaustedError(errs...)
	c.logger.Error("all tiers failed", zap.String("key", c.key), zap.Strings("errors", exhausted.Messages()))
	var zero Result[T]
	return zero, exhausted
}

func (c *Coordinator[T]) result(data T, tier Tier, reliability int, ts time.Time, errs []error) Result[T] {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return Result[T]{
		Data:        data,
		Source:      tier,
		Reliability: reliability,
		Timestamp:   ts,
		Errors:      msgs,
	}
}

// Refresh drops the cached payload and fetches again.
func (c *Coordinator[T]) Refresh(ctx context.Context) (Result[T], error) {
	c.cache.Clear()
	return c.Fetch(ctx)
}

func (c *Coordinator[T]) ClearCache() {
	c.cache.Clear()
}

type TierHealth struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

type Health struct {
	Primary      TierHealth    `json:"primary"`
	Fallback     TierHealth    `json:"fallback"`
	CacheEntries int           `json:"cache_entries"`
	CacheTTL     time.Duration `json:"cache_ttl_ns"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Health probes Primary and Fallback directly without touching the cache.
func (c *Coordinator[T]) Health(ctx context.Context) Health {
	probe := func(s Source[T]) TierHealth {
		start := c.now()
		_, err := s.Fetch(ctx)
		h := TierHealth{Healthy: err == nil, Latency: c.now().Sub(start)}
		if err != nil {
			h.Error = err.Error()
		}
		return h
	}
	return Health{
		Primary:      probe(c.primary),
		Fallback:     probe(c.fallback),
		CacheEntries: c.cache.Len(),
		CacheTTL:     c.cache.TTL(),
		CheckedAt:    c.now(),
	}
}
