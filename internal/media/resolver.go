package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Resolution is the outcome of a successful Resolve call.
type Resolution struct {
	URL      string `json:"url"`
	Strategy string `json:"strategy,omitempty"`
	Cached   bool   `json:"cached"`
}

// Materializer is a Strategy whose URLs point at stored copies that expire.
type Materializer interface {
	Strategy
	Materialize(ctx context.Context, ref domain.MediaReference) (*Blob, error)
}

// Resolver tries its strategies in order and caches the first URL that loads.
type Resolver struct {
	strategies []Strategy
	cache      Cache
	group      singleflight.Group
	logger     *slog.Logger

	// blob id -> cached resolution pointing at it
	blobs *lru.Cache[string, blobResolution]
}

type blobResolution struct {
	key string
	url string
}

// NewResolver creates a resolver; a nil cache gets a default LRUCache.
func NewResolver(strategies []Strategy, cache Cache, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewLRUCache(DefaultCacheSize, DefaultCacheTTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	blobs, _ := lru.New[string, blobResolution](DefaultCacheSize)
	return &Resolver{strategies: strategies, cache: cache, logger: logger, blobs: blobs}
}

// Strategies returns the strategy names in the order they are attempted.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns a URL under which ref can be loaded.
// Concurrent calls for the same reference share one probing sequence.
func (r *Resolver) Resolve(ctx context.Context, ref domain.MediaReference) (*Resolution, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := ref.CacheKey()
	if u, ok := r.cache.Get(ctx, key); ok {
		return &Resolution{URL: u, Cached: true}, nil
	}

	for {
		ch := r.group.DoChan(key, func() (any, error) {
			return r.resolve(ctx, ref)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The flight we joined was owned by a caller that went away.
				if ctx.Err() == nil && isContextError(res.Err) && !errors.Is(res.Err, domain.ErrAllStrategiesFailed) {
					continue
				}
				return nil, res.Err
			}
			out := *res.Val.(*Resolution)
			return &out, nil
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, ref domain.MediaReference) (*Resolution, error) {
	key := ref.CacheKey()
	failures := make([]*domain.StrategyError, 0, len(r.strategies))

	for _, s := range r.strategies {
		if !s.Supports(ref.Kind) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref.URL, err)
		}

		u, expiresAt, err := r.attempt(ctx, s, ref)
		if err == nil {
			r.cache.Set(ctx, key, u, expiresAt)
			r.logger.Debug("Media resolved",
				slog.String("url", ref.URL),
				slog.String("kind", string(ref.Kind)),
				slog.String("strategy", s.Name()))
			return &Resolution{URL: u, Strategy: s.Name()}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref.URL, ctxErr)
		}

		r.logger.Debug("Media strategy failed",
			slog.String("url", ref.URL),
			slog.String("strategy", s.Name()),
			slog.String("error", err.Error()))
		failures = append(failures, &domain.StrategyError{Strategy: s.Name(), Err: err})
	}

	r.logger.Warn("All media strategies failed",
		slog.String("url", ref.URL),
		slog.String("kind", string(ref.Kind)),
		slog.Int("attempts", len(failures)))

	return nil, &domain.AllStrategiesFailedError{Kind: ref.Kind, URL: ref.URL, Failures: failures}
}

// attempt runs one strategy. Materialized results carry the blob expiry so the
// cache never outlives the blob.
func (r *Resolver) attempt(ctx context.Context, s Strategy, ref domain.MediaReference) (string, time.Time, error) {
	m, ok := s.(Materializer)
	if !ok {
		u, err := s.Attempt(ctx, ref)
		return u, time.Time{}, err
	}

	blob, err := m.Materialize(ctx, ref)
	if err != nil {
		return "", time.Time{}, err
	}
	r.blobs.Add(blob.ID, blobResolution{key: ref.CacheKey(), url: blob.URL})
	return blob.URL, blob.ExpiresAt, nil
}

// ForgetBlob drops the cached resolution that points at a released blob.
func (r *Resolver) ForgetBlob(ctx context.Context, id string) {
	res, ok := r.blobs.Peek(id)
	if !ok {
		return
	}
	r.blobs.Remove(id)

	if u, ok := r.cache.Get(ctx, res.key); ok && u == res.url {
		r.cache.Delete(ctx, res.key)
	}
}

// Invalidate forgets the cached resolution of ref.
func (r *Resolver) Invalidate(ctx context.Context, ref domain.MediaReference) {
	r.cache.Delete(ctx, ref.CacheKey())
}

// Clear empties the resolution cache.
func (r *Resolver) Clear(ctx context.Context) error {
	r.blobs.Purge()
	return r.cache.Clear(ctx)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
