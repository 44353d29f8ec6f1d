package ai

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/david/grant-importer/internal/models"
)

var (
	easyMarkers = []string{"easy", "易しい", "やさしい", "簡単"}
	hardMarkers = []string{"hard", "難しい", "困難"}
)

// ParseDifficulty maps a free-text answer onto the three levels. Anything
// unrecognized is medium.
func ParseDifficulty(reply string) models.Difficulty {
	s := strings.ToLower(strings.TrimSpace(reply))
	for _, m := range easyMarkers {
		if strings.Contains(s, m) {
			return models.DifficultyEasy
		}
	}
	for _, m := range hardMarkers {
		if strings.Contains(s, m) {
			return models.DifficultyHard
		}
	}
	return models.DifficultyMedium
}

var (
	firstInt   = regexp.MustCompile(`\d+`)
	listMarker = regexp.MustCompile(`^\s*(?:[-*•#]+|\d+[.)．])\s*`)
)

const defaultSuccessRate = 50

// ParseSuccessRate takes the first integer of the reply, clamped to 0-100.
func ParseSuccessRate(reply string) int {
	m := firstInt.FindString(reply)
	if m == "" {
		return defaultSuccessRate
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		// Only overflow gets here.
		return 100
	}
	return max(0, min(100, n))
}

// ParseKeywords splits a list reply on commas, Japanese commas and newlines.
func ParseKeywords(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		switch r {
		case ',', '、', '，', '\n', '\r', '・':
			return true
		}
		return false
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(listMarker.ReplaceAllString(f, ""))
		f = strings.Trim(f, "「」\"'")
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// cleanOrganization keeps the first line of the reply without a label.
func cleanOrganization(reply string) string {
	line := strings.TrimSpace(reply)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	for _, prefix := range []string{"実施組織:", "実施組織：", "組織名:", "組織名：", "Organization:"} {
		line = strings.TrimPrefix(line, prefix)
	}
	return strings.Trim(strings.TrimSpace(line), "「」。")
}
