package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEmptyCredential = errors.New("credential value is empty; use Clear to remove it")
	ErrUnknownProvider = errors.New("unknown provider")
)

// Store persists sealed credentials by provider name.
type Store interface {
	Put(ctx context.Context, provider string, sealed []byte) error
	Get(ctx context.Context, provider string) ([]byte, bool, error)
	Delete(ctx context.Context, provider string) error
}

// Status describes where a provider's key currently comes from. The key
// itself is never exposed, only a masked hint.
type Status struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	Source     string `json:"source,omitempty"` // stored or config
	Hint       string `json:"hint,omitempty"`
}

// Manager resolves keys from the encrypted store first and falls back to
// keys supplied through configuration.
type Manager struct {
	store     Store
	vault     *Vault
	fallback  map[string]string
	providers []string
	logger    *slog.Logger
}

func NewManager(store Store, vault *Vault, fallback map[string]string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	providers := make([]string, 0, len(fallback))
	for p := range fallback {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return &Manager{store: store, vault: vault, fallback: fallback, providers: providers, logger: logger}
}

func (m *Manager) known(provider string) bool {
	_, ok := m.fallback[provider]
	return ok
}

// Set stores an API key. An empty value is rejected; removing a key is
// an explicit Clear.
func (m *Manager) Set(ctx context.Context, provider, key string) error {
	if !m.known(provider) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyCredential
	}
	sealed, err := m.vault.Seal(key)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, provider, sealed); err != nil {
		return fmt.Errorf("store %s credential: %w", provider, err)
	}
	m.logger.Info("credential updated", "provider", provider)
	return nil
}

func (m *Manager) Clear(ctx context.Context, provider string) error {
	if !m.known(provider) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if err := m.store.Delete(ctx, provider); err != nil {
		return fmt.Errorf("clear %s credential: %w", provider, err)
	}
	m.logger.Info("credential cleared", "provider", provider)
	return nil
}

// Credential implements the provider router's key lookup.
func (m *Manager) Credential(ctx context.Context, provider string) (string, error) {
	key, _, err := m.resolve(ctx, provider)
	return key, err
}

func (m *Manager) resolve(ctx context.Context, provider string) (string, string, error) {
	sealed, ok, err := m.store.Get(ctx, provider)
	if err != nil {
		return "", "", fmt.Errorf("load %s credential: %w", provider, err)
	}
	if ok {
		key, err := m.vault.Open(sealed)
		if err != nil {
			// Usually a changed encryption key; the config key still works.
			m.logger.Warn("stored credential unreadable, using configured key", "provider", provider, "error", err)
		} else {
			return key, "stored", nil
		}
	}
	if key := strings.TrimSpace(m.fallback[provider]); key != "" {
		return key, "config", nil
	}
	return "", "", nil
}

func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(m.providers))
	for _, p := range m.providers {
		key, source, err := m.resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{Provider: p, Configured: key != "", Source: source, Hint: mask(key)})
	}
	return out, nil
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	r := []rune(key)
	if len(r) <= 4 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}

// MemoryStore keeps sealed credentials in process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, provider string, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[provider] = append([]byte(nil), sealed...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, provider string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[provider]
	return v, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, provider)
	return nil
}
