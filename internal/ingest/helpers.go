package ingest

import (
	"strings"
)

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendUnique appends a string to a slice if it doesn't already exist (case-insensitive).
func appendUnique(list []string, v string) []string {
	vClean := strings.TrimSpace(v)
	if vClean == "" {
		return list
	}

	for _, existing := range list {
		if strings.EqualFold(existing, vClean) {
			return list
		}
	}
	return append(list, vClean)
}

// mergeAreas combines configured and per-run target areas.
func mergeAreas(base, extra []string) []string {
	var out []string
	for _, a := range base {
		out = appendUnique(out, a)
	}
	for _, a := range extra {
		out = appendUnique(out, a)
	}
	return out
}
