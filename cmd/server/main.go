package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/api"
	"github.com/david/grant-desk/internal/applications"
	"github.com/david/grant-desk/internal/assistant"
	"github.com/david/grant-desk/internal/auth"
	"github.com/david/grant-desk/internal/backend"
	"github.com/david/grant-desk/internal/config"
	"github.com/david/grant-desk/internal/db"
	"github.com/david/grant-desk/internal/grants"
	"github.com/david/grant-desk/internal/logging"
	"github.com/david/grant-desk/internal/metrics"
	"github.com/david/grant-desk/internal/sources"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "grant-desk: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.New(), os.Getenv("GRANTDESK_CONFIG"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.ConfigSource != "" {
		logger.Info("loaded config", zap.String("file", cfg.ConfigSource))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	tracker, err := metrics.NewTracker(cfg.MetricsPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("failed to flush metrics", zap.Error(err))
		}
	}()

	creds, tokenStore := auth.UpstreamCredentials(cfg.Backend)
	upstream, err := backend.New(backend.Config{BaseURL: cfg.Backend.BaseURL, Timeout: cfg.Backend.Timeout}, creds, logger)
	if err != nil {
		return err
	}

	llm, err := ai.New(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	embedder, err := ai.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return err
	}

	grantStore := db.NewGrantStore(pool)
	grantSvc := grants.NewService(grants.Deps{
		Coordinator: grants.NewCoordinator(cfg.Backend, creds, logger),
		Upstream:    upstream,
		Embedder:    embedder,
		Index:       grantStore,
		Metrics:     tracker,
		Logger:      logger,
	})

	var repo applications.Repository = db.NewApplicationStore(pool)
	if cfg.AppStore == "remote" {
		repo = upstream
	}
	logger.Info("applications store", zap.String("store", cfg.AppStore))

	authSvc, err := auth.NewService(db.NewUserStore(pool), cfg.JWTSecret, logger)
	if err != nil {
		return err
	}

	templates, err := assistant.LoadTemplates()
	if err != nil {
		return err
	}
	analyzer := assistant.NewAnalyzer(llm, assistant.AnalyzerOptions{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.AnalysisTemperature,
	}, logger)
	writer := assistant.NewWriter(llm, analyzer, templates, tracker, assistant.WriterOptions{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		TopP:        cfg.LLM.TopP,
	}, logger)

	reg, err := sources.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return err
	}
	manager, err := sources.NewManager(reg, sources.Options{
		Classifier: llm,
		Model:      cfg.LLM.Model,
		Embedder:   embedder,
		Store:      grantStore,
		Runs:       db.NewRunStore(pool),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deps := api.Deps{
		Grants:       grantSvc,
		Applications: applications.NewService(repo, tracker, logger),
		Auth:         authSvc,
		Writer:       writer,
		Analyzer:     analyzer,
		Templates:    templates,
		Sources:      manager,
		Metrics:      tracker,
		Logger:       logger,
	}
	if tokenStore != nil {
		deps.Tokens = tokenStore
	}
	srv, err := api.NewServer(deps, cfg.Server)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
