package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrMissingCredential = errors.New("ai: provider credential not configured")
	ErrInvalidResponse   = errors.New("ai: provider returned no text")
	ErrEmptyPrompt       = errors.New("ai: empty prompt")
)

// TransportError is a failed exchange with a provider: network failure or
// a non-2xx answer. StatusCode is 0 for network failures.
type TransportError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("ai: %s request failed: %v", e.Provider, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("ai: %s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ai: %s returned status %d", e.Provider, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may try again.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrEmptyPrompt) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		switch {
		case te.StatusCode == 0, te.StatusCode == http.StatusTooManyRequests, te.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return false
}

// Options tune one generation call. Zero or nil fields take the router
// defaults; Temperature and TopP are pointers so that 0 can be requested.
type Options struct {
	Temperature *float64
	MaxTokens   int
	TopP        *float64
	Timeout     time.Duration
}

// Float returns a pointer to v, for Options literals.
func Float(v float64) *float64 { return &v }

func (o Options) withDefaults(d Options) Options {
	if o.Temperature == nil {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.TopP == nil {
		o.TopP = d.TopP
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// Provider is one text-generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// CredentialSource resolves a provider's API key at call time.
type CredentialSource interface {
	Credential(ctx context.Context, provider string) (string, error)
}

// StaticCredentials serves keys from configuration.
type StaticCredentials map[string]string

func (s StaticCredentials) Credential(_ context.Context, provider string) (string, error) {
	return s[provider], nil
}

func resolveKey(ctx context.Context, creds CredentialSource, provider string) (string, error) {
	if creds == nil {
		return "", ErrMissingCredential
	}
	key, err := creds.Credential(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("resolve %s credential: %w", provider, err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, provider)
	}
	return key, nil
}

// postJSON sends body as JSON and decodes a 2xx reply into out.
func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Provider: provider, Err: redactURL(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &TransportError{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Provider: provider, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, provider, err)
	}
	return nil
}

// errorMessage pulls a human readable message from the common vendor
// error envelopes: {"error":{"message":..}}, {"error":".."}, {"message":..}.
func errorMessage(raw []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return strings.TrimSpace(string(truncate(raw, 200)))
	}
	if len(env.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
	}
	return env.Message
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func nonEmpty(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, provider)
	}
	return text, nil
}

// redactURL drops the query string from request errors; Gemini carries its
// key there.
func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if i := strings.IndexByte(uerr.URL, '?'); i >= 0 {
			uerr.URL = uerr.URL[:i]
		}
	}
	return err
}
