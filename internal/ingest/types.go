package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/david/grant-importer/internal/models"
)

// RawRecord is one registry record as decoded from JSON.
type RawRecord map[string]any

// String returns the field as text. Numbers are rendered without exponent.
func (r RawRecord) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := (RawRecord{"v": item}).String("v"); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// First returns the first non-empty field among keys.
func (r RawRecord) First(keys ...string) string {
	for _, k := range keys {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}

// SearchParams are the registry query inputs for one run.
type SearchParams struct {
	Keyword        string
	PerPage        int
	AcceptanceOnly bool
	AmountFrom     int64
	AmountTo       int64
	TargetAreas    []string
	UsePurpose     string
}

// ContentStore is the persistence boundary for imported grants. Records
// are only ever created; updates belong to the host.
type ContentStore interface {
	Create(ctx context.Context, g models.EnrichedGrant) (string, error)
	Exists(ctx context.Context, externalID string) (bool, error)
}

// HistorySink keeps recent run results.
type HistorySink interface {
	Record(ctx context.Context, r models.ImportResult) error
	Last(ctx context.Context) (*models.ImportResult, error)
	History(ctx context.Context, n int) ([]models.ImportResult, error)
}
