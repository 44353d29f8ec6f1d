package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/models"
)

// Store is the Postgres content store for imported grants.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// selectCols is the column list shared by every grant query.
const selectCols = `id, external_id, title, overview, deadline_at, deadline_date, deadline_text,
	max_amount, max_amount_display, max_amount_raw, subsidy_rate, official_url,
	applicant_type, target_area, use_purpose, organization,
	body, excerpt, summary, ai_organization, difficulty, success_rate, keywords,
	target_audience, application_tips, requirements, fallback_fields,
	status, created_at, published_at`

func scanGrant(scan func(dest ...any) error) (models.StoredGrant, error) {
	var g models.StoredGrant
	var overview, deadlineDate, deadlineText, display, rawAmount, rate, officialURL *string
	var applicant, area, purpose, org *string
	var body, excerpt, summary, aiOrg, difficulty, audience, tips, reqs *string

	err := scan(
		&g.ID, &g.Grant.ExternalID, &g.Grant.Title, &overview, &g.Grant.DeadlineAt, &deadlineDate, &deadlineText,
		&g.Grant.MaxAmount, &display, &rawAmount, &rate, &officialURL,
		&applicant, &area, &purpose, &org,
		&body, &excerpt, &summary, &aiOrg, &difficulty, &g.Enrichment.SuccessRate, &g.Enrichment.Keywords,
		&audience, &tips, &reqs, &g.Enrichment.Fallback,
		&g.Status, &g.CreatedAt, &g.PublishedAt,
	)
	if err != nil {
		return g, err
	}

	g.Grant.Overview = deref(overview)
	g.Grant.DeadlineDate = deref(deadlineDate)
	g.Grant.DeadlineText = deref(deadlineText)
	g.Grant.MaxAmountDisplay = deref(display)
	g.Grant.MaxAmountRaw = deref(rawAmount)
	g.Grant.SubsidyRate = deref(rate)
	g.Grant.OfficialURL = deref(officialURL)
	g.Grant.ApplicantType = deref(applicant)
	g.Grant.TargetArea = deref(area)
	g.Grant.UsePurpose = deref(purpose)
	g.Grant.Organization = deref(org)

	g.Enrichment.Body = deref(body)
	g.Enrichment.Excerpt = deref(excerpt)
	g.Enrichment.Summary = deref(summary)
	g.Enrichment.Organization = deref(aiOrg)
	g.Enrichment.Difficulty = models.Difficulty(deref(difficulty))
	g.Enrichment.TargetAudience = deref(audience)
	g.Enrichment.ApplicationTips = deref(tips)
	g.Enrichment.Requirements = deref(reqs)

	return g, nil
}

// Create inserts a new draft. A second insert for the same registry id
// returns ingest.ErrDuplicate and leaves the first row untouched.
func (s *Store) Create(ctx context.Context, eg models.EnrichedGrant) (string, error) {
	g, e := eg.Grant, eg.Enrichment
	if e.Excerpt == "" {
		e.Excerpt = ingest.DefaultExcerpt(g.Overview)
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO grants (
			id, external_id, title, overview, deadline_at, deadline_date, deadline_text,
			max_amount, max_amount_display, max_amount_raw, subsidy_rate, official_url,
			applicant_type, target_area, use_purpose, organization,
			body, excerpt, summary, ai_organization, difficulty, success_rate, keywords,
			target_audience, application_tips, requirements, fallback_fields, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23,
			$24, $25, $26, $27, 'draft'
		)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id
	`,
		uuid.New(), g.ExternalID, g.Title, nullable(g.Overview), g.DeadlineAt, nullable(g.DeadlineDate), nullable(g.DeadlineText),
		g.MaxAmount, nullable(g.MaxAmountDisplay), nullable(g.MaxAmountRaw), nullable(g.SubsidyRate), nullable(g.OfficialURL),
		nullable(g.ApplicantType), nullable(g.TargetArea), nullable(g.UsePurpose), nullable(g.Organization),
		nullable(e.Body), nullable(e.Excerpt), nullable(e.Summary), nullable(e.Organization), nullable(string(e.Difficulty)), e.SuccessRate, nonNil(e.Keywords),
		nullable(e.TargetAudience), nullable(e.ApplicationTips), nullable(e.Requirements), nonNil(e.Fallback),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ingest.ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("insert grant %s: %w", g.ExternalID, err)
	}
	return id.String(), nil
}

func (s *Store) Exists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM grants WHERE external_id = $1)", externalID).Scan(&exists)
	return exists, err
}

// buildGrantWhere turns a query into a WHERE clause and its args.
func buildGrantWhere(q models.GrantQuery) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if status := strings.TrimSpace(q.Status); status != "" && status != "all" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if query := strings.TrimSpace(q.Query); query != "" {
		where += fmt.Sprintf(" AND (title ILIKE '%%' || $%d || '%%' OR organization ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, query)
	}
	return where, args
}

func (s *Store) ListGrants(ctx context.Context, q models.GrantQuery) (*models.GrantPage, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	where, args := buildGrantWhere(q)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM grants "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM grants %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectCols, where, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	grants := []models.StoredGrant{}
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &models.GrantPage{Grants: grants, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func (s *Store) GetGrant(ctx context.Context, id string) (*models.StoredGrant, error) {
	gid, err := uuid.Parse(id)
	if err != nil {
		return nil, ingest.ErrGrantNotFound
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM grants WHERE id = $1", selectCols), gid)
	g, err := scanGrant(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ingest.ErrGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) Stats(ctx context.Context) (*models.GrantStats, error) {
	rows, err := s.pool.Query(ctx, "SELECT status, COUNT(*) FROM grants GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := &models.GrantStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		st.Total += count
		switch status {
		case models.StatusDraft:
			st.Draft = count
		case models.StatusPublish:
			st.Published = count
		case models.StatusPrivate:
			st.Private = count
		}
	}
	return st, rows.Err()
}

// PublishDrafts publishes up to n of the oldest drafts; n <= 0 publishes all.
func (s *Store) PublishDrafts(ctx context.Context, n int) (int, error) {
	var limit *int
	if n > 0 {
		limit = &n
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE grants SET status = 'publish', published_at = NOW()
		WHERE id IN (
			SELECT id FROM grants WHERE status = 'draft'
			ORDER BY created_at ASC
			LIMIT $1
		)
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("publish drafts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
