package ai

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/models"
)

// Generator is the text-generation surface the enricher needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Enricher fills the generated fields of a grant, task by task.
type Enricher struct {
	gen             Generator
	prompts         Prompts
	retryCount      int
	retryBaseDelay  time.Duration
	interTaskDelay  time.Duration
	fallbackEnabled bool
	logger          *slog.Logger
	sleep           func(ctx context.Context, d time.Duration) error
}

func NewEnricher(gen Generator, prompts Prompts, cfg config.Enrichment, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	return &Enricher{
		gen:             gen,
		prompts:         prompts,
		retryCount:      cfg.RetryCount,
		retryBaseDelay:  cfg.RetryBaseDelay,
		interTaskDelay:  cfg.InterTaskDelay,
		fallbackEnabled: cfg.FallbackEnabled,
		logger:          logger,
		sleep:           sleep,
	}
}

// SetSleep replaces the pacing and backoff wait, mainly for tests.
func (e *Enricher) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Enrich runs the selected tasks in table order. A failing task leaves its
// field empty (or filler, when enabled) and never stops the others.
func (e *Enricher) Enrich(ctx context.Context, g models.Grant, tasks TaskSet) models.EnrichedGrant {
	out := models.EnrichedGrant{Grant: g}
	log := e.logger.With("external_id", g.ExternalID)

	called := false
	for _, spec := range taskTable {
		if !tasks[spec.task] {
			continue
		}
		if ctx.Err() != nil {
			log.Warn("enrichment cancelled", "task", spec.task, "error", ctx.Err())
			break
		}

		tmpl := strings.TrimSpace(e.prompts[spec.task])
		if tmpl == "" {
			log.Info("no prompt template, skipping task", "task", spec.task)
			continue
		}

		if called && e.interTaskDelay > 0 {
			if err := e.sleep(ctx, e.interTaskDelay); err != nil {
				break
			}
		}
		called = true

		reply, err := e.generate(ctx, log, spec, Render(tmpl, g))
		if err != nil {
			e.applyFallback(&out.Enrichment, spec, log)
			continue
		}
		spec.apply(&out.Enrichment, reply)
	}

	return out
}

func (e *Enricher) generate(ctx context.Context, log *slog.Logger, spec taskSpec, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < e.retryCount; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, retryDelay(e.retryBaseDelay, attempt)); err != nil {
				return "", err
			}
		}

		reply, err := e.gen.Generate(ctx, prompt, spec.opts)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !Retryable(err) || ctx.Err() != nil {
			log.Warn("generation failed", "task", spec.task, "attempt", attempt+1, "error", err)
			return "", err
		}
		log.Warn("generation attempt failed", "task", spec.task, "attempt", attempt+1, "error", err)
	}

	log.Warn("generation retries exhausted, skipping field",
		"task", spec.task, "attempt", e.retryCount, "error", lastErr)
	return "", lastErr
}

func (e *Enricher) applyFallback(out *models.Enrichment, spec taskSpec, log *slog.Logger) {
	if !e.fallbackEnabled {
		return
	}
	var text string
	switch spec.fallback {
	case fallbackLong:
		text = fallbackLongText
	case fallbackShort:
		text = fallbackShortText
	default:
		return
	}
	spec.apply(out, text)
	out.Fallback = append(out.Fallback, string(spec.task))
	log.Info("fallback text applied", "task", spec.task)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
