package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/derivex/rewards-engine/internal/epoch"
	"github.com/derivex/rewards-engine/internal/markets"
	"github.com/derivex/rewards-engine/internal/metrics"
	"github.com/derivex/rewards-engine/internal/stake"
	"github.com/derivex/rewards-engine/internal/store"
	"github.com/derivex/rewards-engine/internal/subgraph"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	configPath := os.Getenv("EPOCH_CONFIG")
	if configPath == "" {
		slog.Error("EPOCH_CONFIG is required (path to epoch programme JSON)")
		os.Exit(1)
	}
	cfg, err := epoch.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load epoch config", "err", err)
		os.Exit(1)
	}
	slog.Info("epoch config loaded", "epochs", len(cfg.Epochs), "markets", len(cfg.Markets))

	subgraphURL := os.Getenv("SUBGRAPH_URL")
	if subgraphURL == "" {
		slog.Error("SUBGRAPH_URL is required")
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.InitSchema(context.Background()); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 10*time.Minute)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Collaborators ---
	registry := markets.NewRegistry(cfg.Markets)
	source := subgraph.NewClient(subgraphURL, registry)
	balances := stake.NewLedger(cfg.CooldownEvents, stake.DefaultCooldownDuration)
	slog.Info("stake ledger loaded", "users", balances.Users())

	// --- WebSocket hub ---
	wsHub := epoch.NewWSHub()
	go wsHub.Run()

	// --- Epoch service ---
	epochSvc := epoch.NewService(st, source, balances, cfg, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"rewards-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for run completion events.
		r.Get("/ws", wsHub.HandleWS)

		// Epoch runs. Computing one replays the full indexer history,
		// so no request timeout middleware on this router.
		r.Post("/epochs", epochSvc.ComputeEpoch)
		r.Get("/epochs", epochSvc.ListEpochs)
		r.Get("/epochs/{runID}", epochSvc.GetEpoch)
		r.Get("/epochs/{runID}/users/{address}", epochSvc.GetUserRebate)
		r.Get("/epochs/{runID}/csv", epochSvc.ExportCSV)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("rewards-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down rewards-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("rewards-engine stopped")
}
