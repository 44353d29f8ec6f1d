package ingest

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/david/grant-importer/internal/models"
)

var ErrMissingExternalID = errors.New("record has no id")

var overviewPolicy = bluemonday.UGCPolicy()

// TruncateText cuts a string to maxLen runes, appending an ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if maxLen > 1 {
		return string(runes[:maxLen-1]) + "…"
	}
	return string(runes[:maxLen])
}

// HTMLToText converts HTML to plain text, collapsing whitespace.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return normalizeSpace(html)
	}
	return normalizeSpace(doc.Text())
}

// SanitizeHTML keeps formatting markup and drops anything executable.
func SanitizeHTML(s string) string {
	return strings.TrimSpace(overviewPolicy.Sanitize(s))
}

// MapRecord converts a registry record into a Grant. Only a missing id is
// an error; every other field falls back to its zero value.
func MapRecord(raw RawRecord) (models.Grant, error) {
	id := raw.String("id")
	if id == "" {
		return models.Grant{}, ErrMissingExternalID
	}

	g := models.Grant{
		ExternalID:    id,
		Title:         HTMLToText(raw.String("title")),
		Overview:      SanitizeHTML(raw.First("detail", "overview", "description", "summary")),
		SubsidyRate:   normalizeSpace(raw.String("subsidy_rate")),
		OfficialURL:   raw.String("front_subsidy_detail_page_url"),
		ApplicantType: normalizeSpace(raw.String("target_number_of_employees")),
		TargetArea:    normalizeSpace(raw.String("target_area_search")),
		UsePurpose:    normalizeSpace(raw.String("use_purpose")),
		Organization:  normalizeSpace(raw.String("institution_name")),
	}

	g.MaxAmountRaw = raw.String("subsidy_max_limit")
	g.MaxAmount, g.MaxAmountDisplay = NormalizeAmount(g.MaxAmountRaw)

	if t, ok := parseDeadline(raw.String("acceptance_end_datetime")); ok {
		g.DeadlineAt = &t
		g.DeadlineDate, g.DeadlineText = deadlineFields(t)
	}

	return g, nil
}

// DefaultExcerpt derives a short plain-text excerpt from the overview.
func DefaultExcerpt(overviewHTML string) string {
	return TruncateText(HTMLToText(overviewHTML), 120)
}
