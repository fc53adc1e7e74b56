// Package menu serves the menu listing. The last good listing is kept in a
// cache and served when the document store cannot be read.
package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Cache is implemented by *redisx.JSONCache.
type Cache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Source is implemented by *orders.Repo.
type Source interface {
	ListMenu(ctx context.Context) ([]orders.MenuItem, error)
}

type Service struct {
	src   Source
	cache Cache
	key   string
	ttl   time.Duration
	log   *slog.Logger
	group singleflight.Group
}

func New(src Source, cache Cache, key string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{src: src, cache: cache, key: key, ttl: ttl, log: logger.With("component", "menu")}
}

// Listing is a menu read; Stale is set when it came from the cache because
// the store read failed.
type Listing struct {
	Items []orders.MenuItem
	Stale bool
}

// loadTimeout bounds a shared load, which outlives any single caller.
const loadTimeout = 10 * time.Second

// List reads the menu from the store and refreshes the cache. Concurrent
// calls share one store read; a caller that gives up does not cancel it
// for the others.
func (s *Service) List(ctx context.Context) (Listing, error) {
	ch := s.group.DoChan("menu", func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(lctx)
	})
	select {
	case <-ctx.Done():
		return Listing{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Listing{}, r.Err
		}
		return r.Val.(Listing), nil
	}
}

func (s *Service) load(ctx context.Context) (Listing, error) {
	items, err := s.src.ListMenu(ctx)
	if err == nil {
		if s.cache != nil {
			if cerr := s.cache.Set(ctx, s.key, items, s.ttl); cerr != nil {
				s.log.Warn("menu cache refresh failed", "error", cerr)
			}
		}
		return Listing{Items: items}, nil
	}

	if s.cache == nil {
		return Listing{}, err
	}
	var cached []orders.MenuItem
	ok, cerr := s.cache.Get(ctx, s.key, &cached)
	if cerr != nil || !ok {
		return Listing{}, fmt.Errorf("menu unavailable: %w", errors.Join(err, cerr))
	}
	s.log.Warn("serving cached menu", "error", err, "items", len(cached))
	return Listing{Items: cached, Stale: true}, nil
}
