package ai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/david/grant-importer/internal/config"
)

// Router forwards generation calls to the configured provider. It applies
// default options, a per-call timeout and the shared rate limit. It never
// retries; that is the caller's decision.
type Router struct {
	provider Provider
	defaults Options
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewRouter picks the provider named in cfg once. Unknown names fall back
// to Gemini.
func NewRouter(cfg config.AI, creds CredentialSource, client *http.Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}

	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		p = NewOpenAIProvider(cfg.OpenAI.BaseURL, cfg.OpenAI.Model, creds, client)
	case ProviderAnthropic:
		p = NewAnthropicProvider(cfg.Anthropic.BaseURL, cfg.Anthropic.Model, creds, client)
	case ProviderOllama:
		p = NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model, client)
	case ProviderGemini:
		p = NewGeminiProvider(cfg.Gemini.BaseURL, cfg.Gemini.Model, creds, client)
	default:
		logger.Warn("unknown ai provider, using gemini", "provider", cfg.Provider)
		p = NewGeminiProvider(cfg.Gemini.BaseURL, cfg.Gemini.Model, creds, client)
	}

	return NewRouterWithProvider(p, Options{
		Temperature: Float(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		TopP:        Float(cfg.TopP),
		Timeout:     cfg.Timeout,
	}, cfg.RateLimitRPS, logger)
}

// NewRouterWithProvider wraps an already built provider.
func NewRouterWithProvider(p Provider, defaults Options, rps float64, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	defaults = defaults.withDefaults(Options{
		Temperature: Float(0.7),
		MaxTokens:   2048,
		TopP:        Float(0.9),
		Timeout:     60 * time.Second,
	})

	r := &Router{provider: p, defaults: defaults, logger: logger}
	if rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return r
}

// Provider reports the active provider name.
func (r *Router) Provider() string {
	return r.provider.Name()
}

func (r *Router) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	opts = opts.withDefaults(r.defaults)

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	text, err := r.provider.Generate(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	r.logger.Debug("generation complete",
		"provider", r.provider.Name(), "max_tokens", opts.MaxTokens, "duration", time.Since(start))
	return text, nil
}

// Ping sends a tiny prompt to check that the provider answers.
func (r *Router) Ping(ctx context.Context) (string, error) {
	text, err := r.Generate(ctx, "こんにちは", Options{MaxTokens: 50})
	if err != nil {
		return "", fmt.Errorf("%s connection test: %w", r.provider.Name(), err)
	}
	return text, nil
}
