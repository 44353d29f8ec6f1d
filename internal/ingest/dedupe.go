package ingest

import (
	"context"
	"fmt"
)

// DuplicateDetector answers whether a registry id was already imported.
type DuplicateDetector struct {
	store ContentStore
}

func NewDuplicateDetector(store ContentStore) *DuplicateDetector {
	return &DuplicateDetector{store: store}
}

func (d *DuplicateDetector) Exists(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, ErrMissingExternalID
	}
	ok, err := d.store.Exists(ctx, externalID)
	if err != nil {
		return false, fmt.Errorf("duplicate lookup %s: %w", externalID, err)
	}
	return ok, nil
}
