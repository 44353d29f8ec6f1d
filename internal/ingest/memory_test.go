package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-importer/internal/models"
)

func seedStore(t *testing.T, n int) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	for i := 0; i < n; i++ {
		_, err := s.Create(context.Background(), models.EnrichedGrant{Grant: models.Grant{
			ExternalID: fmt.Sprintf("g-%d", i),
			Title:      fmt.Sprintf("Grant %d", i),
			Overview:   "<p>概要</p>",
		}})
		require.NoError(t, err)
	}
	return s
}

func TestMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	s := seedStore(t, 1)
	_, err := s.Create(context.Background(), models.EnrichedGrant{Grant: models.Grant{ExternalID: "g-0"}})
	assert.ErrorIs(t, err, ErrDuplicate)

	ok, err := s.Exists(context.Background(), "g-0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ListGrants(t *testing.T) {
	s := seedStore(t, 5)
	ctx := context.Background()

	page, err := s.ListGrants(ctx, models.GrantQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Grants, 2)
	assert.Equal(t, "g-4", page.Grants[0].Grant.ExternalID, "newest first")
	assert.Equal(t, "概要", page.Grants[0].Enrichment.Excerpt)

	page, err = s.ListGrants(ctx, models.GrantQuery{Query: "grant 3"})
	require.NoError(t, err)
	require.Len(t, page.Grants, 1)

	page, err = s.ListGrants(ctx, models.GrantQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Grants)
}

func TestMemoryStore_PublishDraftsOldestFirst(t *testing.T) {
	s := seedStore(t, 4)
	ctx := context.Background()

	n, err := s.PublishDrafts(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := s.ListGrants(ctx, models.GrantQuery{Status: models.StatusPublish})
	require.NoError(t, err)
	require.Len(t, page.Grants, 2)
	assert.Equal(t, "g-1", page.Grants[0].Grant.ExternalID)
	assert.Equal(t, "g-0", page.Grants[1].Grant.ExternalID)
	assert.NotNil(t, page.Grants[0].PublishedAt)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.GrantStats{Total: 4, Draft: 2, Published: 2}, *stats)

	_, err = s.GetGrant(ctx, "missing")
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestMemoryHistory_KeepsMostRecent(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	last, err := h.Last(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	for i := 0; i < HistoryLimit+3; i++ {
		require.NoError(t, h.Record(ctx, models.ImportResult{Attempted: i}))
	}

	all, err := h.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, HistoryLimit)
	assert.Equal(t, HistoryLimit+2, all[0].Attempted)

	two, err := h.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}
