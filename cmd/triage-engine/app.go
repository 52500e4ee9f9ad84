package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/miradorstack/mirador-triage/internal/bulk"
	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/engine"
	"github.com/miradorstack/mirador-triage/internal/llm"
	"github.com/miradorstack/mirador-triage/internal/patterns"
	"github.com/miradorstack/mirador-triage/internal/repo"
	"github.com/miradorstack/mirador-triage/internal/services"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	cache        cache.Provider
	store        *repo.SQLiteStore
	orchestrator *bulk.Orchestrator
	service      *services.TriageService
}

func newApp(path string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, logOut)

	cacheProvider, err := cache.New(cache.Options{
		Enabled: cfg.Cache.Enabled,
		Backend: cfg.Cache.Backend,
		Valkey: cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		},
	}, logger)
	if err != nil {
		logger.Warn("ticket cache unavailable, continuing without it", slog.Any("error", err))
		cacheProvider = cache.NoopProvider{}
	}

	store, err := repo.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		_ = cacheProvider.Close()
		return nil, err
	}

	gateway, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey(),
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		_ = store.Close()
		_ = cacheProvider.Close()
		return nil, fmt.Errorf("llm gateway: %w", err)
	}

	classifier, err := engine.LoadClassifier(cfg.Rules.Path, logger)
	if err != nil {
		_ = store.Close()
		_ = cacheProvider.Close()
		return nil, err
	}

	tickets := repo.NewTicketClient(repo.TicketClientConfig{
		BaseURL:      cfg.Tickets.BaseURL,
		Email:        cfg.Tickets.Email,
		Token:        cfg.Tickets.Token,
		Timeout:      cfg.Tickets.Timeout,
		MaxAttempts:  cfg.Tickets.MaxAttempts,
		BaseBackoff:  cfg.Tickets.BaseBackoff,
		FieldMapping: cfg.Tickets.FieldMapping,
		RecordTTL:    cfg.Cache.RecordTTL,
	}, cacheProvider, logger)

	pipeline := engine.NewPipeline(logger, gateway, classifier, engine.PipelineConfig{
		ClassifyTimeout: cfg.Pipeline.ClassifyTimeout,
		GenerateTimeout: cfg.Pipeline.GenerateTimeout,
		ValidateTimeout: cfg.Pipeline.ValidateTimeout,
	})
	priority := engine.NewPriorityAnalyzer(logger, gateway, cfg.Pipeline.PriorityTimeout)
	miner := patterns.NewMiner(logger, patterns.PersisterStore(store, repo.KindJobReport))

	orchestrator := bulk.NewOrchestrator(logger, bulk.Dependencies{
		Fetcher:  tickets,
		Analyzer: pipeline,
		Priority: priority,
		Store:    store,
		Reporter: miner,
	}, bulk.Config{
		ItemDelay:         cfg.Bulk.ItemDelay,
		MaxConcurrentJobs: cfg.Bulk.MaxConcurrentJobs,
		Retention:         cfg.Bulk.Retention,
	})

	service := services.NewTriageService(logger, services.Dependencies{
		Fetcher:  tickets,
		Analyzer: pipeline,
		Priority: priority,
		Jobs:     orchestrator,
		Store:    store,
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		cache:        cacheProvider,
		store:        store,
		orchestrator: orchestrator,
		service:      service,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing result store", slog.Any("error", err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing ticket cache", slog.Any("error", err))
	}
}
