// Package app wires configuration into a ready pipeline for the server binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hive-corporation/dfir-engine/internal/adapter/llm"
	"github.com/hive-corporation/dfir-engine/internal/adapter/metrics"
	"github.com/hive-corporation/dfir-engine/internal/adapter/notifier"
	"github.com/hive-corporation/dfir-engine/internal/adapter/provider"
	"github.com/hive-corporation/dfir-engine/internal/adapter/repository"
	"github.com/hive-corporation/dfir-engine/internal/config"
	"github.com/hive-corporation/dfir-engine/internal/core/pipeline"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// Components are the long-lived pieces shared by the REST and gRPC servers
type Components struct {
	Engine     *pipeline.Orchestrator
	Repository ports.RunRepository
	Providers  *llm.Registry

	db *pgxpool.Pool
}

// Build connects storage, providers, notifications and metrics. Metrics are
// registered on reg; a nil reg uses the default registerer.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *log.Logger) (*Components, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Components{}

	if cfg.PersistenceEnabled() {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		c.db = db
		c.Repository = repository.NewPostgresRepository(db)
		logger.Info("✅ Postgres run repository enabled")
	} else {
		c.Repository = repository.NewMemoryRepository()
		logger.Warn("⚠️ DATABASE_URL not set - runs are kept in memory")
	}

	var runNotifier ports.Notifier
	if cfg.NotificationsEnabled() {
		runNotifier = notifier.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, cfg.SlackMention)
		logger.Info("✅ Slack notifier enabled", "channel", cfg.SlackChannel)
	} else {
		logger.Warn("⚠️ Slack notifier disabled (no SLACK_BOT_TOKEN)")
	}

	llm.InitMetrics()
	clientCfg := llm.DefaultResilientClientConfig()
	clientCfg.Logger = logger
	c.Providers = llm.NewDefaultRegistry(llm.ProviderOptions{
		OpenAIKey:   cfg.OpenAIKey,
		OpenAIURL:   cfg.OpenAIURL,
		OpenAIModel: cfg.OpenAIModel,
		GeminiKey:   cfg.GeminiKey,
		GeminiURL:   cfg.GeminiURL,
		Timeout:     cfg.LLMTimeout,
		Client:      clientCfg,
	})
	for _, p := range c.Providers.List() {
		if !p.Configured {
			logger.Warn("⚠️ Provider has no API key", "provider", p.ID)
		}
	}

	guardrails := llm.DefaultGuardrailConfig()
	if cfg.AllowlistURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		hosts, err := provider.NewHostListProvider(nil, "allowlist", cfg.AllowlistURL, logger).FetchHosts(fetchCtx)
		cancel()
		if err != nil {
			logger.Warn("⚠️ Failed to load allowlist, using built-in known-good hosts", "err", err)
		} else {
			guardrails.KnownGood = hosts
		}
	}

	c.Engine = pipeline.New(pipeline.Config{
		Collaborators:   c.Providers,
		DefaultProvider: cfg.Provider,
		Repository:      c.Repository,
		Notifier:        runNotifier,
		Observer:        metrics.NewPipelineObserver(reg),
		ReportFilter:    llm.ReportFilter(guardrails, logger),
		Logger:          logger,
	})
	return c, nil
}

// Close releases the database pool, if any
func (c *Components) Close() {
	if c.db != nil {
		c.db.Close()
	}
}
