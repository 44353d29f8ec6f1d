package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-importer/internal/ai"
	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/db"
	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/lock"
	"github.com/david/grant-importer/internal/models"
)

func main() {
	configPath := flag.String("config", os.Getenv("GI_CONFIG"), "Path to a YAML config file")
	keyword := flag.String("keyword", "", "Search keyword (defaults to import.keyword)")
	limit := flag.Int("limit", 0, "Max records to process (capped at 50)")
	dryRun := flag.Bool("dry-run", false, "Keep results in memory instead of writing to the database")
	skipAI := flag.Bool("skip-ai", true, "Skip enrichment")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx := context.Background()
	registry := ingest.NewJGrantsClient(cfg.Source, ingest.WithLogger(logger))

	deps := ingest.Deps{
		Source: registry,
		Tasks:  ai.NewTaskSet(cfg.Enrichment.Tasks...),
		Logger: logger,
	}

	if *dryRun {
		deps.Store = ingest.NewMemoryStore()
		deps.History = ingest.NewMemoryHistory()
		deps.Lock = lock.New(lock.NewMemoryStore(), cfg.Import.LockName, cfg.Import.LockTTL(), logger)
	} else {
		pool, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		deps.Store = db.NewStore(pool)
		deps.History = db.NewRunHistory(pool)
		deps.Lock = lock.New(db.NewLockStore(pool), cfg.Import.LockName, cfg.Import.LockTTL(), logger)
	}

	if !*skipAI && cfg.Enrichment.Enabled {
		prompts, err := ai.LoadPrompts(cfg.Enrichment.PromptsFile)
		if err != nil {
			logger.Error("failed to load prompts", "error", err)
			os.Exit(1)
		}
		router := ai.NewRouter(cfg.AI, ai.StaticCredentials{
			ai.ProviderOpenAI:    cfg.AI.OpenAI.APIKey,
			ai.ProviderAnthropic: cfg.AI.Anthropic.APIKey,
			ai.ProviderGemini:    cfg.AI.Gemini.APIKey,
		}, nil, logger)
		deps.Enricher = ai.NewEnricher(router, prompts, cfg.Enrichment, logger)
	}

	importer := ingest.NewImporter(cfg.Import, deps)

	logger.Info("starting manual import", "keyword", *keyword, "limit", *limit, "dry_run", *dryRun)
	res, err := importer.Trigger(ctx, models.RunManual, ingest.RunParams{
		Keyword:         *keyword,
		MaxProcessCount: *limit,
		SkipEnrichment:  *skipAI,
	})
	if err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"External ID", "Title", "Outcome", "Message"})
	for _, r := range res.Records {
		t.AppendRow(table.Row{r.ExternalID, ingest.TruncateText(r.Title, 40), r.Outcome, r.Message})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%s in %s", res.Status(), res.Duration().Round(time.Second)),
		fmt.Sprintf("created %d / dup %d / skipped %d", res.Created, res.Duplicate, res.Skipped),
		fmt.Sprintf("errors %d", res.Errors)})
	t.Render()
}
