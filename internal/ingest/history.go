package ingest

import (
	"context"
	"sync"

	"github.com/david/grant-importer/internal/models"
)

// HistoryLimit is how many past runs a history sink keeps.
const HistoryLimit = 10

// MemoryHistory keeps the most recent runs in process.
type MemoryHistory struct {
	mu      sync.RWMutex
	results []models.ImportResult // newest first
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Record(_ context.Context, r models.ImportResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append([]models.ImportResult{r}, h.results...)
	if len(h.results) > HistoryLimit {
		h.results = h.results[:HistoryLimit]
	}
	return nil
}

func (h *MemoryHistory) Last(_ context.Context) (*models.ImportResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.results) == 0 {
		return nil, nil
	}
	r := h.results[0]
	return &r, nil
}

func (h *MemoryHistory) History(_ context.Context, n int) ([]models.ImportResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.results) {
		n = len(h.results)
	}
	out := make([]models.ImportResult, n)
	copy(out, h.results[:n])
	return out, nil
}
