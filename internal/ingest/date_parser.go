package ingest

import (
	"strings"
	"time"
)

// jst is fixed so deadlines render the same without a tz database.
var jst = time.FixedZone("JST", 9*60*60)

var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// parseDeadline accepts the timestamp shapes the registry has used.
// Values without a zone are read as JST.
func parseDeadline(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, raw, jst); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// deadlineFields returns the compact date and the Japanese display text.
func deadlineFields(t time.Time) (date string, text string) {
	local := t.In(jst)
	return local.Format("20060102"), local.Format("2006年1月2日")
}

// acceptanceClosed reports whether the deadline has already passed.
func acceptanceClosed(deadline *time.Time, now time.Time) bool {
	return deadline != nil && deadline.Before(now)
}
