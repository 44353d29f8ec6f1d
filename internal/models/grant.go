package models

import (
	"time"

	"github.com/google/uuid"
)

// Grant is a registry record after mapping and amount normalization.
type Grant struct {
	ExternalID       string     `json:"external_id"`
	Title            string     `json:"title"`
	Overview         string     `json:"overview"` // Sanitized HTML
	DeadlineAt       *time.Time `json:"deadline_at,omitempty"`
	DeadlineDate     string     `json:"deadline_date"` // YYYYMMDD
	DeadlineText     string     `json:"deadline_text"` // 2006年1月2日
	MaxAmount        int64      `json:"max_amount"`
	MaxAmountDisplay string     `json:"max_amount_display"`
	MaxAmountRaw     string     `json:"max_amount_raw"`
	SubsidyRate      string     `json:"subsidy_rate"`
	OfficialURL      string     `json:"official_url"`
	ApplicantType    string     `json:"applicant_type"`
	TargetArea       string     `json:"target_area"`
	UsePurpose       string     `json:"use_purpose"`
	Organization     string     `json:"organization"`
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Enrichment holds generated fields. Empty values mean the task did not
// produce anything for this record.
type Enrichment struct {
	Body            string     `json:"body,omitempty"`
	Excerpt         string     `json:"excerpt,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	Organization    string     `json:"organization,omitempty"`
	Difficulty      Difficulty `json:"difficulty,omitempty"`
	SuccessRate     *int       `json:"success_rate,omitempty"`
	Keywords        []string   `json:"keywords,omitempty"`
	TargetAudience  string     `json:"target_audience,omitempty"`
	ApplicationTips string     `json:"application_tips,omitempty"`
	Requirements    string     `json:"requirements,omitempty"`
	Fallback        []string   `json:"fallback,omitempty"` // Tasks that received filler text
}

type EnrichedGrant struct {
	Grant      Grant      `json:"grant"`
	Enrichment Enrichment `json:"enrichment"`
}

// EffectiveOrganization prefers the mapped organization over a generated one.
func (e EnrichedGrant) EffectiveOrganization() string {
	if e.Grant.Organization != "" {
		return e.Grant.Organization
	}
	return e.Enrichment.Organization
}

const (
	StatusDraft   = "draft"
	StatusPublish = "publish"
	StatusPrivate = "private"
)

// StoredGrant is a grant as persisted by a content store.
type StoredGrant struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	EnrichedGrant
}

type GrantQuery struct {
	Query  string
	Status string
	Limit  int
	Offset int
}

type GrantPage struct {
	Grants []StoredGrant `json:"grants"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type GrantStats struct {
	Total     int `json:"total"`
	Draft     int `json:"draft"`
	Published int `json:"published"`
	Private   int `json:"private"`
}
