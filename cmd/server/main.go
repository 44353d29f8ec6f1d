package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/grant-importer/internal/ai"
	"github.com/david/grant-importer/internal/api"
	"github.com/david/grant-importer/internal/auth"
	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/credentials"
	"github.com/david/grant-importer/internal/db"
	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/lock"
	"github.com/david/grant-importer/internal/scheduler"
)

func main() {
	configPath := flag.String("config", os.Getenv("GI_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		return err
	}

	vault, err := credentials.NewVault(cfg.Security.EncryptionKey, logger)
	if err != nil {
		return err
	}
	creds := credentials.NewManager(db.NewCredentialStore(pool), vault, map[string]string{
		ai.ProviderOpenAI:    cfg.AI.OpenAI.APIKey,
		ai.ProviderAnthropic: cfg.AI.Anthropic.APIKey,
		ai.ProviderGemini:    cfg.AI.Gemini.APIKey,
	}, logger)

	router := ai.NewRouter(cfg.AI, creds, &http.Client{}, logger)

	var enricher ingest.GrantEnricher
	if cfg.Enrichment.Enabled {
		prompts, err := ai.LoadPrompts(cfg.Enrichment.PromptsFile)
		if err != nil {
			return err
		}
		enricher = ai.NewEnricher(router, prompts, cfg.Enrichment, logger)
	}

	registry := ingest.NewJGrantsClient(cfg.Source,
		ingest.WithCache(db.NewResponseCache(pool)),
		ingest.WithLogger(logger),
	)

	history := db.NewRunHistory(pool)
	importer := ingest.NewImporter(cfg.Import, ingest.Deps{
		Source:   registry,
		Store:    db.NewStore(pool),
		History:  history,
		Lock:     lock.New(db.NewLockStore(pool), cfg.Import.LockName, cfg.Import.LockTTL(), logger),
		Enricher: enricher,
		Tasks:    ai.NewTaskSet(cfg.Enrichment.Tasks...),
		Logger:   logger,
	})

	sched := scheduler.New(importer, cfg.Schedule.Frequency, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	authSvc, err := auth.NewService(cfg.Security, logger)
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Grants:      db.NewStore(pool),
		Importer:    importer,
		History:     history,
		Registry:    registry,
		Credentials: creds,
		AI:          router,
		Schedule:    sched,
		Auth:        authSvc,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "schedule", cfg.Schedule.Frequency, "ai_provider", router.Provider())
		errCh <- srv.Start(cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
