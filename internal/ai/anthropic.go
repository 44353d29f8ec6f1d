package ai

import (
	"context"
	"net/http"
	"strings"
)

const (
	ProviderAnthropic = "anthropic"
	anthropicVersion  = "2023-06-01"
)

type AnthropicProvider struct {
	BaseURL string
	Model   string
	creds   CredentialSource
	client  *http.Client
}

func NewAnthropicProvider(baseURL, model string, creds CredentialSource, client *http.Client) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if model == "" {
		model = "claude-3-sonnet-20240229"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicProvider{BaseURL: strings.TrimRight(baseURL, "/"), Model: model, creds: creds, client: client}
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

type anthropicRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Messages    []openAIMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	key, err := resolveKey(ctx, p.creds, ProviderAnthropic)
	if err != nil {
		return "", err
	}

	req := anthropicRequest{
		Model:       p.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := postJSON(ctx, p.client, ProviderAnthropic, p.BaseURL+"/v1/messages", headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Content) == 0 {
		return "", ErrInvalidResponse
	}
	return nonEmpty(ProviderAnthropic, resp.Content[0].Text)
}
