package ai

import (
	"context"
	"net/http"
	"strings"
)

const ProviderOpenAI = "openai"

type OpenAIProvider struct {
	BaseURL string
	Model   string
	creds   CredentialSource
	client  *http.Client
}

func NewOpenAIProvider(baseURL, model string, creds CredentialSource, client *http.Client) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{BaseURL: strings.TrimRight(baseURL, "/"), Model: model, creds: creds, client: client}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	TopP        *float64        `json:"top_p,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	key, err := resolveKey(ctx, p.creds, ProviderOpenAI)
	if err != nil {
		return "", err
	}

	req := openAIRequest{
		Model:       p.Model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	}
	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + key}
	if err := postJSON(ctx, p.client, ProviderOpenAI, p.BaseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	return nonEmpty(ProviderOpenAI, resp.Choices[0].Message.Content)
}
