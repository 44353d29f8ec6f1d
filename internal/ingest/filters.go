package ingest

import (
	"time"

	"github.com/david/grant-importer/internal/models"
)

// Filters are the local exclusion checks applied after mapping. They
// repeat the registry-side filters because the registry does not always
// honor them.
type Filters struct {
	ExcludeZeroAmount bool
	MinAmount         int64
	MaxAmount         int64
	AcceptanceOnly    bool
}

// Exclude returns a reason when g must not be imported.
func (f Filters) Exclude(g models.Grant, now time.Time) (string, bool) {
	if f.ExcludeZeroAmount && g.MaxAmount <= 0 {
		return "max amount is zero or undetermined", true
	}
	if f.MinAmount > 0 && g.MaxAmount > 0 && g.MaxAmount < f.MinAmount {
		return "max amount below configured minimum", true
	}
	if f.MaxAmount > 0 && g.MaxAmount > f.MaxAmount {
		return "max amount above configured maximum", true
	}
	if f.AcceptanceOnly && acceptanceClosed(g.DeadlineAt, now) {
		return "acceptance window closed", true
	}
	return "", false
}
