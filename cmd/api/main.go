package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-pos-orders/internal/audit"
	"github.com/ariefcatur/go-pos-orders/internal/clock"
	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/fulfillment"
	"github.com/ariefcatur/go-pos-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/menu"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
	"github.com/ariefcatur/go-pos-orders/internal/notify"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/queue"
	"github.com/ariefcatur/go-pos-orders/internal/reconciler"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	m := metrics.New()

	// DB
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	store := postgres.NewDocStore(pool, logger)
	repo := &orders.Repo{DB: store}

	if cfg.SeedMenu {
		n, err := repo.SeedMenu(ctx, orders.DefaultMenu)
		if err != nil {
			return fmt.Errorf("seed menu: %w", err)
		}
		logger.Info("menu seeded", "added", n)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewJSONCache(rdb)
	orderCache := redisx.NewOrderCache(cache, logger)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(context.Background())
	broadcast := &notify.KafkaNotifier{Producer: prod, Service: cfg.ServiceName, Clock: clk}

	// Write paths notify directly unless the orders subscription does it.
	var writeSide notify.Notifier = notify.Multi{orderCache, broadcast}
	if cfg.ChangefeedRelay {
		writeSide = orderCache
	}

	// Write queue: open before anything that drains or fills it.
	if err := os.MkdirAll(filepath.Dir(cfg.QueuePath), 0o755); err != nil {
		return fmt.Errorf("queue dir: %w", err)
	}
	q := queue.New(clk, logger)
	if err := q.Open(cfg.QueuePath); err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	rec := &reconciler.Reconciler{
		Queue:    q,
		Store:    store,
		Notifier: writeSide,
		Metrics:  m,
		Clock:    clk,
		Log:      logger.With("component", "reconciler"),
		Config: reconciler.Config{
			Interval:    cfg.ReconcileInterval,
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
		},
	}
	svc := fulfillment.New(fulfillment.Deps{
		Store:    store,
		Queue:    q,
		Audit:    &audit.Logger{DB: store, Clock: clk},
		Notifier: writeSide,
		Metrics:  m,
		Clock:    clk,
		Log:      logger,
	})

	// SSE fan-out: every instance reads every event, so the group is per host.
	hub := notify.NewHub(logger)
	host, _ := os.Hostname()
	consumerID := cfg.ServiceName + "-sse-" + host
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, consumerID, notify.Topics(), 4, logger)
	fanout := &notify.Fanout{Sink: hub, Dedup: redisx.NewDeduper(rdb, consumerID), Log: logger}

	// HTTP
	router := httpx.NewRouter(httpx.RouterOptions{Metrics: m, AllowedOrigins: cfg.AllowedOrigins, Log: logger})
	(&httpx.OrdersHandler{Service: svc, Repo: repo, Cache: orderCache, Log: logger}).Register(router)
	(&httpx.MenuHandler{Menu: menu.New(repo, cache, redisx.KeyMenu, cfg.MenuCacheTTL, logger)}).Register(router)
	(&httpx.EventsHandler{Hub: hub}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := cons.Start(gctx, fanout.Handle); err != nil {
			logger.Error("event consumer stopped", "error", err)
		}
		return nil
	})
	if cfg.ChangefeedRelay {
		relay := &notify.Relay{Store: store, Notifier: broadcast, Log: logger.With("component", "relay")}
		g.Go(func() error {
			_ = relay.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		svc.Wait() // background order writes
		return err
	})

	err = g.Wait()
	prod.Close() // flush buffered events
	prod.WaitClosed()
	return err
}
