package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/api"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/band"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/config"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/funding"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/ledger"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/pricefeed"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("squeeth-engine exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis (shared by the event cache and the price cache) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		log.Info("Redis cache enabled")
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st = pg
		log.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Policy.EventCacheTTL)
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Historical price lookup ---
	lookup, err := newPriceLookup(cfg, st, rdb, log)
	if err != nil {
		return err
	}

	// --- Engine ---
	vols, err := cfg.Policy.VolSource()
	if err != nil {
		return fmt.Errorf("volatility policy: %w", err)
	}
	l := ledger.New(lookup, log.Named("ledger"), ledger.WithConcurrency(cfg.Policy.LookupConcurrency))
	sim := funding.NewSimulator(vols, log.Named("funding"))

	// --- WebSocket hub ---
	hub := api.NewWSHub(log.Named("ws"))
	go hub.Run(ctx)

	svc := api.NewService(st, l, sim, hub, log.Named("api"), api.Options{
		SqueethVolMultiplier: decimal.NewFromFloat(cfg.Policy.SqueethVolMultiplier),
		CrabVolMultiplier:    decimal.NewFromFloat(cfg.Policy.CrabVolMultiplier),
		Curve: band.CurveOptions{
			RangeMultiplier: cfg.Policy.CurveRangeMultiplier,
			StepPercent:     cfg.Policy.CurveStepPercent,
		},
		LookupTimeout: cfg.PriceLookupTimeout,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"squeeth-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", svc.Register)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("squeeth-engine listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("shutting down squeeth-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// newPriceLookup builds the historical ETH price chain: the primary HTTP
// source, then the secondary HTTP source or recorded price history, behind
// a Redis or in-process cache.
func newPriceLookup(cfg config.Config, st store.Store, rdb *redis.Client, log *zap.Logger) (pricefeed.Lookup, error) {
	client := &http.Client{Timeout: cfg.PriceLookupTimeout}

	var primary, secondary pricefeed.Provider
	if cfg.PricePrimaryURL != "" {
		primary = pricefeed.NewHTTPProvider("primary", cfg.PricePrimaryURL, cfg.Policy.ProviderRPS, client)
	}
	if cfg.PriceSecondaryURL != "" {
		secondary = pricefeed.NewHTTPProvider("secondary", cfg.PriceSecondaryURL, cfg.Policy.ProviderRPS, client)
	} else {
		secondary = pricefeed.NewHistoryProvider(st, cfg.Policy.HistoryTolerance)
		log.Info("no secondary price URL, falling back to recorded price history")
	}

	tiered, err := pricefeed.NewTiered(primary, secondary, log.Named("pricefeed"),
		pricefeed.WithMinFreshness(cfg.Policy.MinFreshness))
	if err != nil {
		return nil, err
	}

	var cache pricefeed.Cache = pricefeed.NewMemoryCache()
	if rdb != nil {
		cache = pricefeed.NewRedisCache(rdb, cfg.Policy.PriceCacheTTL)
	}
	return pricefeed.NewCached(tiered, cache), nil
}
