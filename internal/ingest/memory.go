package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-importer/internal/models"
)

var (
	ErrDuplicate     = errors.New("grant already exists")
	ErrGrantNotFound = errors.New("grant not found")
)

// MemoryStore is an in-process content store used for dry runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	grants []models.StoredGrant
	byExt  map[string]int
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byExt: make(map[string]int),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, g models.EnrichedGrant) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExt[g.Grant.ExternalID]; ok {
		return "", ErrDuplicate
	}
	if g.Enrichment.Excerpt == "" {
		g.Enrichment.Excerpt = DefaultExcerpt(g.Grant.Overview)
	}

	stored := models.StoredGrant{
		ID:            uuid.New(),
		Status:        models.StatusDraft,
		CreatedAt:     s.now(),
		EnrichedGrant: g,
	}
	s.byExt[g.Grant.ExternalID] = len(s.grants)
	s.grants = append(s.grants, stored)
	return stored.ID.String(), nil
}

func (s *MemoryStore) Exists(_ context.Context, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byExt[externalID]
	return ok, nil
}

func (s *MemoryStore) ListGrants(_ context.Context, q models.GrantQuery) (*models.GrantPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q.Query))
	var matched []models.StoredGrant
	for i := len(s.grants) - 1; i >= 0; i-- {
		g := s.grants[i]
		if q.Status != "" && q.Status != "all" && g.Status != q.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(g.Grant.Title), needle) {
			continue
		}
		matched = append(matched, g)
	}

	page := &models.GrantPage{Total: len(matched), Limit: q.Limit, Offset: q.Offset}
	if q.Offset < len(matched) {
		end := len(matched)
		if q.Limit > 0 && q.Offset+q.Limit < end {
			end = q.Offset + q.Limit
		}
		page.Grants = matched[q.Offset:end]
	}
	return page, nil
}

func (s *MemoryStore) GetGrant(_ context.Context, id string) (*models.StoredGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.grants {
		if g.ID.String() == id {
			out := g
			return &out, nil
		}
	}
	return nil, ErrGrantNotFound
}

func (s *MemoryStore) Stats(_ context.Context) (*models.GrantStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &models.GrantStats{Total: len(s.grants)}
	for _, g := range s.grants {
		switch g.Status {
		case models.StatusDraft:
			st.Draft++
		case models.StatusPublish:
			st.Published++
		case models.StatusPrivate:
			st.Private++
		}
	}
	return st, nil
}

// PublishDrafts publishes up to n of the oldest drafts.
func (s *MemoryStore) PublishDrafts(_ context.Context, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := make([]int, 0, len(s.grants))
	for i, g := range s.grants {
		if g.Status == models.StatusDraft {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.grants[idx[a]].CreatedAt.Before(s.grants[idx[b]].CreatedAt)
	})

	now := s.now()
	published := 0
	for _, i := range idx {
		if n > 0 && published >= n {
			break
		}
		s.grants[i].Status = models.StatusPublish
		s.grants[i].PublishedAt = &now
		published++
	}
	return published, nil
}
