package scenario

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/victornm/tabletop/internal/domain"
)

type CacheConfig struct {
	Redis  redis.UniversalClient
	Next   Repository
	Prefix string
	TTL    time.Duration
}

// CachedRepository keeps decoded scenarios in Redis and falls back to the next
// repository on a miss. Concurrent misses for the same scenario share one load.
type CachedRepository struct {
	redis  redis.UniversalClient
	next   Repository
	prefix string
	ttl    time.Duration
	sf     singleflight.Group
}

func NewCachedRepository(c CacheConfig) *CachedRepository {
	return &CachedRepository{
		redis:  c.Redis,
		next:   c.Next,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (r *CachedRepository) GetScenario(ctx context.Context, ref domain.ScenarioRef) (*domain.Scenario, error) {
	if s, ok := r.lookup(ctx, ref); ok {
		return s, nil
	}

	key := r.key(ref)
	v, err, _ := r.sf.Do(key, func() (any, error) {
		if s, ok := r.lookup(ctx, ref); ok {
			return s, nil
		}

		s, err := r.next.GetScenario(ctx, ref)
		if err != nil {
			return nil, err
		}

		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("scenario cache: marshal: %w", err)
		}
		if err := r.redis.Set(ctx, key, b, r.ttlWithJitter()).Err(); err != nil {
			slog.WarnContext(ctx, "scenario cache: store failed", "key", key, "error", err)
		}

		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Scenario), nil
}

// lookup treats any cache failure as a miss; the next repository stays the source of truth.
func (r *CachedRepository) lookup(ctx context.Context, ref domain.ScenarioRef) (*domain.Scenario, bool) {
	b, err := r.redis.Get(ctx, r.key(ref)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "scenario cache: lookup failed", "error", err)
		return nil, false
	}

	var s domain.Scenario
	if err := json.Unmarshal(b, &s); err != nil {
		slog.WarnContext(ctx, "scenario cache: corrupt entry", "key", r.key(ref), "error", err)
		return nil, false
	}
	return &s, true
}

func (r *CachedRepository) key(ref domain.ScenarioRef) string {
	return fmt.Sprintf("%s:scenario:%s:%s:%s", r.prefix, ref.Category, ref.Type, ref.ID)
}

// ttlWithJitter adds up to 10% to spread expirations of scenarios loaded together.
func (r *CachedRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl + time.Duration(rand.Int64N(int64(r.ttl)/10+1))
}
