package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{Temperature: Float(0.5), MaxTokens: 123, TopP: Float(0.8)}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestOpenAIProvider_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.EqualValues(t, 123, body["max_tokens"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "hello", msgs[0].(map[string]any)["content"])

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" hi there "}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1", "", StaticCredentials{ProviderOpenAI: "sk-test"}, srv.Client())
	text, err := p.Generate(context.Background(), "hello", testOpts)
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestAnthropicProvider_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body := decodeBody(t, r)
		assert.Equal(t, "claude-3-sonnet-20240229", body["model"])
		assert.EqualValues(t, 123, body["max_tokens"])

		w.Write([]byte(`{"content":[{"type":"text","text":"こんにちは"}]}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL, "", StaticCredentials{ProviderAnthropic: "ak-test"}, srv.Client())
	text, err := p.Generate(context.Background(), "hello", testOpts)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", text)
}

func TestGeminiProvider_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "gk-test", r.URL.Query().Get("key"))

		body := decodeBody(t, r)
		cfg := body["generationConfig"].(map[string]any)
		assert.EqualValues(t, 123, cfg["maxOutputTokens"])
		assert.EqualValues(t, 40, cfg["topK"])
		assert.InDelta(t, 0.8, cfg["topP"], 1e-9)
		contents := body["contents"].([]any)
		parts := contents[0].(map[string]any)["parts"].([]any)
		assert.Equal(t, "hello", parts[0].(map[string]any)["text"])

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "", StaticCredentials{ProviderGemini: "gk-test"}, srv.Client())
	text, err := p.Generate(context.Background(), "hello", testOpts)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestOllamaProvider_NoCredentialNeeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, false, body["stream"])
		w.Write([]byte(`{"response":"done","done":true}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "", srv.Client())
	text, err := p.Generate(context.Background(), "hello", testOpts)
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestProviders_MissingCredentialIsTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	providers := []Provider{
		NewOpenAIProvider(srv.URL, "", StaticCredentials{}, srv.Client()),
		NewAnthropicProvider(srv.URL, "", StaticCredentials{}, srv.Client()),
		NewGeminiProvider(srv.URL, "", StaticCredentials{}, srv.Client()),
	}
	for _, p := range providers {
		_, err := p.Generate(context.Background(), "hello", testOpts)
		assert.ErrorIs(t, err, ErrMissingCredential, p.Name())
		assert.False(t, Retryable(err), p.Name())
	}
	assert.Zero(t, calls, "no request should be sent without a credential")
}

func TestProviders_EmptyPayloadIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "", StaticCredentials{ProviderOpenAI: "k"}, srv.Client())
	_, err := p.Generate(context.Background(), "hello", testOpts)
	assert.ErrorIs(t, err, ErrInvalidResponse)

	var te *TransportError
	assert.False(t, errors.As(err, &te), "empty payload must not look like a transport failure")
}

func TestProviders_StatusErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL, "", StaticCredentials{ProviderAnthropic: "k"}, srv.Client())
	_, err := p.Generate(context.Background(), "hello", testOpts)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, "overloaded", te.Message)
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"credential", ErrMissingCredential, false},
		{"invalid", ErrInvalidResponse, false},
		{"network", &TransportError{Provider: "x", Err: errors.New("reset")}, true},
		{"rate limited", &TransportError{Provider: "x", StatusCode: 429}, true},
		{"server", &TransportError{Provider: "x", StatusCode: 502}, true},
		{"bad request", &TransportError{Provider: "x", StatusCode: 400}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
