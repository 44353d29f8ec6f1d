package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/david/grant-importer/internal/ai"
	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/ingest"
)

// enrich_preview runs the enrichment tasks against a single registry record
// and prints the result. Nothing is stored.
func main() {
	configPath := flag.String("config", os.Getenv("GI_CONFIG"), "Path to a YAML config file")
	id := flag.String("id", "", "jGrants subsidy ID")
	tasks := flag.String("tasks", "", "Comma-separated tasks (default: configured tasks)")
	provider := flag.String("provider", "", "Override ai.provider")
	flag.Parse()

	if *id == "" {
		slog.Error("please provide a subsidy ID using -id")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *provider != "" {
		cfg.AI.Provider = *provider
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	ctx := context.Background()

	raw, err := ingest.NewJGrantsClient(cfg.Source, ingest.WithLogger(logger)).Detail(ctx, *id)
	if err != nil {
		logger.Error("detail fetch failed", "id", *id, "error", err)
		os.Exit(1)
	}
	grant, err := ingest.MapRecord(raw)
	if err != nil {
		logger.Error("mapping failed", "id", *id, "error", err)
		os.Exit(1)
	}

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

	taskNames := cfg.Enrichment.Tasks
	if *tasks != "" {
		taskNames = splitCSV(*tasks)
	}
	out := ai.NewEnricher(router, prompts, cfg.Enrichment, logger).Enrich(ctx, grant, ai.NewTaskSet(taskNames...))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		logger.Error("encode failed", "error", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
