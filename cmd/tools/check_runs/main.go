package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/db"
)

func main() {
	configPath := flag.String("config", os.Getenv("GI_CONFIG"), "Path to a YAML config file")
	n := flag.Int("n", 10, "Number of runs to show")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runs, err := db.NewRunHistory(pool).History(ctx, *n)
	if err != nil {
		slog.Error("failed to load run history", "error", err)
		os.Exit(1)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Kind", "Status", "Attempted", "Created", "Dup", "Skipped", "Errors", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if !r.FinishedAt.IsZero() {
			duration = r.Duration().Round(time.Second).String()
		}
		status := r.Status()
		if r.Aborted != "" {
			status += ": " + r.Aborted
		}
		t.AppendRow(table.Row{r.Kind, status, r.Attempted, r.Created, r.Duplicate, r.Skipped, r.Errors, duration, r.StartedAt.Local().Format("01-02 15:04:05")})
	}
	t.Render()
}
