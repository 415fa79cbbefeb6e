package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templater"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatestore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuildOnStart := flag.Bool("rebuild", false, "rebuild templates once at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting template service", "port", cfg.Server.Port, "graph", cfg.Graph.Input)

	idx, err := triples.LoadFile(cfg.Graph.Input)
	if err != nil {
		slog.Error("failed to load graph", "error", err)
		os.Exit(1)
	}
	slog.Info("graph loaded", "triples", idx.NumTriples(), "subjects", idx.NumSubjects())

	store, err := factstore.Open(cfg.FactStore)
	if err != nil {
		slog.Error("failed to open fact store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	db, err := database.New(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to template database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	templates, err := templatestore.New(ctx, db)
	if err != nil {
		slog.Error("failed to prepare template store", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var cache templatecache.Cache = templatecache.NewMemory(m)
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis, "kgsearch")
		if err != nil {
			slog.Warn("redis unavailable, type templates cached in memory", "error", err)
		} else {
			defer redisClient.Close()
			cache = templatecache.NewRedis(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("shared template cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	deps := pipeline.Deps{Templates: templates, Cache: cache, Metrics: m}
	if cfg.Kafka.Enabled {
		built := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TemplateBuilt)
		defer built.Close()
		deps.Events.TemplateBuilt = built
	}
	p := pipeline.New(cfg, idx, store, deps)
	svc := templater.NewService(p, cache)

	if *rebuildOnStart {
		if _, err := svc.Rebuild(ctx, "startup"); err != nil {
			slog.Error("startup rebuild failed", "error", err)
		}
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MetricsComplete, svc.HandleMetricsComplete)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("metrics consumer error", "error", err)
			}
		}()
		slog.Info("listening for metrics runs", "topic", cfg.Kafka.Topics.MetricsComplete)
	}

	checker := health.NewChecker()
	checker.Register("database", health.PingCheck(db.Ping))
	checker.Register("fact_store", func(ctx context.Context) health.ComponentHealth {
		have, err := store.Metrics(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		if len(have) == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no metrics computed yet"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d metrics", len(have))}
	})
	if redisClient != nil {
		checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
	}

	mux := http.NewServeMux()
	templater.NewHandler(templates, svc).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("template service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("template service stopped")
}
