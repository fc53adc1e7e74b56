package menu

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (c *mapCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	db := docstore.NewMemory()
	repo := &orders.Repo{DB: db}
	_, err := repo.SeedMenu(ctx, orders.DefaultMenu)
	require.NoError(t, err)

	cache := newMapCache()
	svc := New(repo, cache, "menu:items", time.Minute, nil)

	t.Run("reads the store and fills the cache", func(t *testing.T) {
		l, err := svc.List(ctx)
		require.NoError(t, err)
		assert.False(t, l.Stale)
		assert.Len(t, l.Items, len(orders.DefaultMenu))
		assert.Contains(t, cache.data, "menu:items")
	})

	t.Run("falls back to the cache", func(t *testing.T) {
		db.SetFault(func(op, _ string) error {
			if op == docstore.FaultQuery {
				return docstore.ErrUnavailable
			}
			return nil
		})
		defer db.SetFault(nil)

		l, err := svc.List(ctx)
		require.NoError(t, err)
		assert.True(t, l.Stale)
		assert.Len(t, l.Items, len(orders.DefaultMenu))
	})

	t.Run("fails with nothing cached", func(t *testing.T) {
		db.SetFault(func(string, string) error { return docstore.ErrUnavailable })
		defer db.SetFault(nil)

		cold := New(repo, newMapCache(), "menu:items", time.Minute, nil)
		_, err := cold.List(ctx)
		assert.ErrorIs(t, err, docstore.ErrUnavailable)
	})
}

type slowSource struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (s *slowSource) ListMenu(context.Context) ([]orders.MenuItem, error) {
	s.calls.Add(1)
	<-s.gate
	return []orders.MenuItem{{ID: "pizza", Name: "Pizza"}}, nil
}

func TestService_ListCollapsesConcurrentLoads(t *testing.T) {
	src := &slowSource{gate: make(chan struct{})}
	svc := New(src, nil, "menu:items", time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := svc.List(context.Background())
			assert.NoError(t, err)
			assert.Len(t, l.Items, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

type ctxSource struct {
	slowSource
	loadErr chan error
}

func (s *ctxSource) ListMenu(ctx context.Context) ([]orders.MenuItem, error) {
	items, err := s.slowSource.ListMenu(ctx)
	s.loadErr <- ctx.Err()
	return items, err
}

func TestService_ListSurvivesFirstCallerCancel(t *testing.T) {
	src := &ctxSource{slowSource: slowSource{gate: make(chan struct{})}, loadErr: make(chan error, 1)}
	svc := New(src, nil, "menu:items", time.Minute, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.List(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan Listing, 1)
	go func() {
		l, err := svc.List(context.Background())
		assert.NoError(t, err)
		second <- l
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(src.gate)
	l := <-second
	assert.Len(t, l.Items, 1)
	assert.NoError(t, <-src.loadErr)
	assert.Equal(t, int32(1), src.calls.Load())
}
