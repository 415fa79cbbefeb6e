package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatestore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/redis"
)

// env holds everything a subcommand needs. close releases it in reverse
// order of acquisition.
type env struct {
	cfg      *config.Config
	store    factstore.Store
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	closers  []func() error
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}
}

// loadConfig reads the config and sets up logging. It is all export needs.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// setup loads the graph, opens the fact store and wires the optional
// template store, Kafka producers, Redis cache and metrics server.
func setup(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			e.close()
		}
	}()

	if cfg.Graph.Input == "" {
		return nil, fmt.Errorf("graph.input is not set")
	}
	start := time.Now()
	idx, err := triples.LoadFile(cfg.Graph.Input)
	if err != nil {
		return nil, err
	}
	slog.Info("graph loaded",
		"input", cfg.Graph.Input,
		"triples", idx.NumTriples(),
		"subjects", idx.NumSubjects(),
		"duration", time.Since(start),
	)

	if e.store, err = factstore.Open(cfg.FactStore); err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.store.Close)

	if cfg.Metrics.Enabled {
		e.metrics = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		e.closers = append(e.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		})
	}
	m := e.metrics
	deps := pipeline.Deps{Metrics: m}

	db, err := database.New(cfg.Database)
	if err != nil {
		slog.Warn("template store unavailable, templates are written to disk only", "error", err)
	} else {
		e.closers = append(e.closers, db.Close)
		if deps.Templates, err = templatestore.New(ctx, db); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis, "kgsearch")
		if err != nil {
			slog.Warn("redis unavailable, type templates cached in memory", "error", err)
		} else {
			e.closers = append(e.closers, client.Close)
			deps.Cache = templatecache.NewRedis(client, cfg.Redis.CacheTTL, m)
		}
	}

	if cfg.Kafka.Enabled {
		topics := cfg.Kafka.Topics
		mc := kafka.NewProducer(cfg.Kafka, topics.MetricsComplete)
		tb := kafka.NewProducer(cfg.Kafka, topics.TemplateBuilt)
		ip := kafka.NewProducer(cfg.Kafka, topics.IndexProgress)
		e.closers = append(e.closers, mc.Close, tb.Close, ip.Close)
		deps.Events = pipeline.Events{MetricsComplete: mc, TemplateBuilt: tb, IndexProgress: ip}
	}

	e.pipeline = pipeline.New(cfg, idx, e.store, deps)
	ok = true
	return e, nil
}
