package ai

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const (
	ProviderGemini = "gemini"
	geminiTopK     = 40
)

type GeminiProvider struct {
	BaseURL string
	Model   string
	creds   CredentialSource
	client  *http.Client
}

func NewGeminiProvider(baseURL, model string, creds CredentialSource, client *http.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-pro"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiProvider{BaseURL: strings.TrimRight(baseURL, "/"), Model: model, creds: creds, client: client}
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		MaxOutputTokens int      `json:"maxOutputTokens"`
		TopP            *float64 `json:"topP,omitempty"`
		TopK            int      `json:"topK"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	key, err := resolveKey(ctx, p.creds, ProviderGemini)
	if err != nil {
		return "", err
	}

	var req geminiRequest
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}
	req.GenerationConfig.Temperature = opts.Temperature
	req.GenerationConfig.MaxOutputTokens = opts.MaxTokens
	req.GenerationConfig.TopP = opts.TopP
	req.GenerationConfig.TopK = geminiTopK

	endpoint := p.BaseURL + "/v1beta/models/" + url.PathEscape(p.Model) + ":generateContent?key=" + url.QueryEscape(key)
	var resp geminiResponse
	if err := postJSON(ctx, p.client, ProviderGemini, endpoint, nil, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrInvalidResponse
	}
	return nonEmpty(ProviderGemini, resp.Candidates[0].Content.Parts[0].Text)
}
