package ai

import (
	"context"
	"net/http"
	"strings"
)

const ProviderOllama = "ollama"

// OllamaProvider generates text with a self-hosted Ollama server. It needs
// no credential.
type OllamaProvider struct {
	BaseURL  string
	GenModel string
	client   *http.Client
}

func NewOllamaProvider(baseURL, genModel string, client *http.Client) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if genModel == "" {
		genModel = "llama3.2:latest" // Default generation model
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaProvider{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		GenModel: genModel,
		client:   client,
	}
}

func (p *OllamaProvider) Name() string { return ProviderOllama }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	reqBody := generateRequest{
		Model:   p.GenModel,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"num_predict": opts.MaxTokens},
	}
	if opts.Temperature != nil {
		reqBody.Options["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		reqBody.Options["top_p"] = *opts.TopP
	}

	var parsedResp generateResponse
	if err := postJSON(ctx, p.client, ProviderOllama, p.BaseURL+"/api/generate", nil, reqBody, &parsedResp); err != nil {
		return "", err
	}
	return nonEmpty(ProviderOllama, parsedResp.Response)
}
