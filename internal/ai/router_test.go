package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-importer/internal/config"
)

type recordingProvider struct {
	name  string
	reply string
	err   error
	calls atomic.Int32
	last  Options
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Generate(_ context.Context, _ string, opts Options) (string, error) {
	p.calls.Add(1)
	p.last = opts
	return p.reply, p.err
}

func TestRouter_AppliesDefaults(t *testing.T) {
	p := &recordingProvider{name: "fake", reply: "ok"}
	r := NewRouterWithProvider(p, Options{}, 0, nil)

	_, err := r.Generate(context.Background(), "hi", Options{MaxTokens: 100})
	require.NoError(t, err)

	require.NotNil(t, p.last.Temperature)
	assert.InDelta(t, 0.7, *p.last.Temperature, 1e-9)
	assert.Equal(t, 100, p.last.MaxTokens)
	require.NotNil(t, p.last.TopP)
	assert.InDelta(t, 0.9, *p.last.TopP, 1e-9)
	assert.Equal(t, 60*time.Second, p.last.Timeout)
}

func TestRouter_ZeroTemperatureIsKept(t *testing.T) {
	p := &recordingProvider{name: "fake", reply: "ok"}
	r := NewRouterWithProvider(p, Options{}, 0, nil)

	_, err := r.Generate(context.Background(), "hi", Options{Temperature: Float(0), TopP: Float(0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, *p.last.Temperature)
	assert.Equal(t, 0.0, *p.last.TopP)

	r = NewRouter(config.AI{Provider: ProviderOllama, Temperature: 0}, StaticCredentials{}, nil, nil)
	require.NotNil(t, r.defaults.Temperature)
	assert.Equal(t, 0.0, *r.defaults.Temperature)
}

func TestRouter_DoesNotRetry(t *testing.T) {
	p := &recordingProvider{name: "fake", err: &TransportError{Provider: "fake", StatusCode: 503}}
	r := NewRouterWithProvider(p, Options{}, 0, nil)

	_, err := r.Generate(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRouter_RejectsEmptyPrompt(t *testing.T) {
	p := &recordingProvider{name: "fake", reply: "ok"}
	r := NewRouterWithProvider(p, Options{}, 0, nil)

	_, err := r.Generate(context.Background(), "  ", Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Zero(t, p.calls.Load())
}

func TestNewRouter_SelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", ProviderOpenAI},
		{"Anthropic", ProviderAnthropic},
		{"gemini", ProviderGemini},
		{"ollama", ProviderOllama},
		{"mystery", ProviderGemini},
	}
	for _, tt := range tests {
		r := NewRouter(config.AI{Provider: tt.provider}, StaticCredentials{}, nil, nil)
		assert.Equal(t, tt.want, r.Provider(), tt.provider)
	}
}

func TestRouter_CredentialRotationTakesEffect(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	creds := StaticCredentials{ProviderOpenAI: "first"}
	r := NewRouter(config.AI{Provider: "openai", OpenAI: config.ProviderAccount{BaseURL: srv.URL}}, creds, srv.Client(), nil)

	_, err := r.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer first", seen.Load())

	creds[ProviderOpenAI] = "second"
	_, err = r.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer second", seen.Load())
}

func TestRouter_Ping(t *testing.T) {
	p := &recordingProvider{name: "fake", reply: "こんにちは！"}
	r := NewRouterWithProvider(p, Options{}, 0, nil)

	text, err := r.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "こんにちは！", text)
	assert.Equal(t, 50, p.last.MaxTokens)
}
