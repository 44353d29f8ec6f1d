package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/david/grant-importer/internal/ai"
	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/lock"
	"github.com/david/grant-importer/internal/models"
)

var ErrAlreadyRunning = errors.New("import already running")

// Source is the registry surface the importer needs.
type Source interface {
	Search(ctx context.Context, params SearchParams) ([]RawRecord, error)
	Detail(ctx context.Context, externalID string) (RawRecord, error)
}

// GrantEnricher fills generated fields; it reports problems through logs only.
type GrantEnricher interface {
	Enrich(ctx context.Context, g models.Grant, tasks ai.TaskSet) models.EnrichedGrant
}

// Locker guards against overlapping runs.
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// RunParams are per-run overrides of the configured search. Zero values
// keep the configuration.
type RunParams struct {
	Keyword         string   `json:"keyword"`
	MaxProcessCount int      `json:"max_process_count"`
	TargetAreas     []string `json:"target_areas"`
	UsePurpose      string   `json:"use_purpose"`
	MinAmount       int64    `json:"min_amount"`
	MaxAmount       int64    `json:"max_amount"`
	SkipEnrichment  bool     `json:"skip_enrichment"`
}

type Deps struct {
	Source   Source
	Store    ContentStore
	History  HistorySink
	Lock     Locker
	Enricher GrantEnricher // nil disables enrichment
	Tasks    ai.TaskSet
	Logger   *slog.Logger
}

type ImporterOption func(*Importer)

// WithClock replaces time.Now and the pacing sleep, mainly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) ImporterOption {
	return func(i *Importer) {
		if now != nil {
			i.now = now
		}
		if sleep != nil {
			i.sleep = sleep
		}
	}
}

// Importer runs one import from search to persistence.
type Importer struct {
	cfg      config.Import
	source   Source
	store    ContentStore
	dedupe   *DuplicateDetector
	history  HistorySink
	lock     Locker
	enricher GrantEnricher
	tasks    ai.TaskSet
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewImporter(cfg config.Import, deps Deps, opts ...ImporterOption) *Importer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRunDuration <= 0 {
		cfg.MaxRunDuration = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.History == nil {
		deps.History = NewMemoryHistory()
	}

	i := &Importer{
		cfg:      cfg,
		source:   deps.Source,
		store:    deps.Store,
		dedupe:   NewDuplicateDetector(deps.Store),
		history:  deps.History,
		lock:     deps.Lock,
		enricher: deps.Enricher,
		tasks:    deps.Tasks,
		logger:   deps.Logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run is an import that holds the run lock. Execute must be called exactly
// once; it releases the lock.
type Run struct {
	imp     *Importer
	kind    models.RunKind
	release func()
	result  models.ImportResult
	log     *slog.Logger
}

// Begin takes the run lock without starting the import, so callers can
// refuse contention before committing to a run. It returns
// ErrAlreadyRunning when another run holds the lock. Other lock failures
// are recorded in history as aborted runs.
func (i *Importer) Begin(ctx context.Context, kind models.RunKind) (*Run, error) {
	run, _, err := i.begin(ctx, kind)
	return run, err
}

func (i *Importer) begin(ctx context.Context, kind models.RunKind) (*Run, models.ImportResult, error) {
	log := i.logger.With("kind", kind)
	log.Debug("import state", "state", "idle")

	release, err := i.acquire(ctx)
	if errors.Is(err, lock.ErrHeld) {
		return nil, models.ImportResult{}, ErrAlreadyRunning
	}

	result := models.ImportResult{
		RunID:     uuid.New(),
		Kind:      kind,
		StartedAt: i.now(),
	}
	log = log.With("run_id", result.RunID)

	if err != nil {
		err = fmt.Errorf("acquire import lock: %w", err)
		result.Aborted = err.Error()
		result.FinishedAt = i.now()
		log.Error("import aborted", "error", err)
		if herr := i.history.Record(context.WithoutCancel(ctx), result); herr != nil {
			log.Error("failed to record import history", "error", herr)
		}
		return nil, result, err
	}

	log.Info("import state", "state", "locked")
	return &Run{imp: i, kind: kind, release: release, result: result, log: log}, result, nil
}

// Trigger runs an import. A scheduled run that finds the lock taken returns
// a zero result and nil; a manual one returns ErrAlreadyRunning. Run-level
// failures are returned as errors for manual runs only; both kinds record
// them in history.
func (i *Importer) Trigger(ctx context.Context, kind models.RunKind, params RunParams) (models.ImportResult, error) {
	run, aborted, err := i.begin(ctx, kind)
	if errors.Is(err, ErrAlreadyRunning) {
		if kind == models.RunScheduled {
			i.logger.Info("import already running, scheduled run skipped", "kind", kind)
			return models.ImportResult{}, nil
		}
		return models.ImportResult{}, err
	}
	if err != nil {
		if kind == models.RunManual {
			return aborted, err
		}
		return aborted, nil
	}
	return run.Execute(ctx, params)
}

// Execute performs the run, records it in history and releases the lock.
func (r *Run) Execute(ctx context.Context, params RunParams) (models.ImportResult, error) {
	i, log, result := r.imp, r.log, r.result
	defer func() {
		r.release()
		log.Info("import state", "state", "released")
	}()

	runErr := i.run(ctx, log, params, &result)

	log.Info("import state", "state", "finalizing")
	result.FinishedAt = i.now()
	if err := i.history.Record(context.WithoutCancel(ctx), result); err != nil {
		log.Error("failed to record import history", "error", err)
	}
	log.Info("import finished",
		"status", result.Status(), "attempted", result.Attempted, "created", result.Created,
		"duplicate", result.Duplicate, "skipped", result.Skipped, "errors", result.Errors,
		"duration", result.Duration())

	if runErr != nil && r.kind == models.RunManual {
		return result, runErr
	}
	return result, nil
}

func (i *Importer) acquire(ctx context.Context) (func(), error) {
	if i.lock == nil {
		return func() {}, nil
	}
	return i.lock.Acquire(ctx)
}

func (i *Importer) run(ctx context.Context, log *slog.Logger, params RunParams, result *models.ImportResult) error {
	deadline := result.StartedAt.Add(i.cfg.MaxRunDuration)
	search, filters := i.effective(params)

	log.Info("import state", "state", "searching", "keyword", search.Keyword, "limit", search.PerPage)
	records, err := i.source.Search(ctx, search)
	if err != nil {
		result.Aborted = err.Error()
		log.Error("search failed", "error", err)
		return fmt.Errorf("search: %w", err)
	}
	if len(records) > search.PerPage {
		records = records[:search.PerPage]
	}
	log.Info("search complete", "found", len(records))

	enrich := i.enricher != nil && len(i.tasks) > 0 && !params.SkipEnrichment

	for start := 0; start < len(records); start += i.cfg.BatchSize {
		end := min(start+i.cfg.BatchSize, len(records))
		log.Info("import state", "state", "processing_batch", "from", start+1, "to", end)

		batch := i.processBatch(ctx, log, records[start:end], filters, enrich, deadline)
		for _, rr := range batch {
			if rr == nil {
				result.Partial = true
				continue
			}
			result.Records = append(result.Records, *rr)
			tally(result, rr.Outcome)
		}

		if result.Partial || ctx.Err() != nil {
			break
		}
		if end < len(records) {
			if !i.now().Add(i.cfg.BatchDelay).Before(deadline) {
				result.Partial = true
				break
			}
			if err := i.sleep(ctx, i.cfg.BatchDelay); err != nil {
				break
			}
		}
	}

	if ctx.Err() != nil && result.Attempted < len(records) {
		result.Partial = true
	}
	if result.Partial {
		log.Warn("run budget exhausted, remaining records not started",
			"processed", result.Attempted, "found", len(records))
	}
	return nil
}

// processBatch returns one entry per record, nil for records that were not
// started because the run budget ran out.
func (i *Importer) processBatch(ctx context.Context, log *slog.Logger, batch []RawRecord, filters Filters, enrich bool, deadline time.Time) []*models.RecordResult {
	out := make([]*models.RecordResult, len(batch))

	step := func(idx int) bool {
		if ctx.Err() != nil || !i.now().Before(deadline) {
			return false
		}
		rr := i.processRecord(ctx, log, batch[idx], filters, enrich)
		out[idx] = &rr
		if i.cfg.RecordDelay > 0 {
			_ = i.sleep(ctx, i.cfg.RecordDelay)
		}
		return true
	}

	if i.cfg.Workers <= 1 {
		for idx := range batch {
			if !step(idx) {
				break
			}
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(i.cfg.Workers)
	for idx := range batch {
		idx := idx
		g.Go(func() error {
			step(idx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (i *Importer) processRecord(ctx context.Context, log *slog.Logger, listed RawRecord, filters Filters, enrich bool) models.RecordResult {
	id := listed.String("id")
	rr := models.RecordResult{ExternalID: id, Title: listed.String("title")}
	log = log.With("external_id", id)

	fail := func(msg string, err error) models.RecordResult {
		rr.Outcome = models.OutcomeError
		rr.Message = fmt.Sprintf("%s: %v", msg, err)
		log.Warn(msg, "error", err)
		return rr
	}

	if id == "" {
		return fail("listing entry", ErrMissingExternalID)
	}

	detail, err := i.source.Detail(ctx, id)
	if err != nil {
		return fail("detail fetch failed", err)
	}
	raw := mergeRecords(detail, listed)

	grant, err := MapRecord(raw)
	if err != nil {
		return fail("mapping failed", err)
	}
	rr.Title = grant.Title

	dup, err := i.dedupe.Exists(ctx, grant.ExternalID)
	if err != nil {
		return fail("duplicate check failed", err)
	}
	if dup {
		rr.Outcome = models.OutcomeDuplicate
		log.Info("duplicate, skipped")
		return rr
	}

	if reason, excluded := filters.Exclude(grant, i.now()); excluded {
		rr.Outcome = models.OutcomeSkipped
		rr.Message = reason
		log.Info("excluded", "reason", reason)
		return rr
	}

	enriched := models.EnrichedGrant{Grant: grant}
	if enrich {
		enriched = i.enricher.Enrich(ctx, grant, i.tasks)
	}

	contentID, err := i.store.Create(ctx, enriched)
	if errors.Is(err, ErrDuplicate) {
		rr.Outcome = models.OutcomeDuplicate
		log.Info("duplicate on create, skipped")
		return rr
	}
	if err != nil {
		return fail("create failed", err)
	}

	rr.Outcome = models.OutcomeCreated
	rr.ContentID = contentID
	log.Info("grant created", "content_id", contentID, "title", grant.Title)
	return rr
}

// effective merges per-run params over the configured search.
func (i *Importer) effective(p RunParams) (SearchParams, Filters) {
	keyword := p.Keyword
	if keyword == "" {
		keyword = i.cfg.Keyword
	}
	limit := i.cfg.MaxProcessCount
	if p.MaxProcessCount != 0 {
		limit = p.MaxProcessCount
	}
	areas := i.cfg.TargetAreas
	if len(p.TargetAreas) > 0 {
		areas = mergeAreas(nil, p.TargetAreas)
	}
	purpose := i.cfg.UsePurpose
	if p.UsePurpose != "" {
		purpose = p.UsePurpose
	}
	minAmount, maxAmount := i.cfg.MinAmount, i.cfg.MaxAmount
	if p.MinAmount > 0 {
		minAmount = p.MinAmount
	}
	if p.MaxAmount > 0 {
		maxAmount = p.MaxAmount
	}

	search := SearchParams{
		Keyword:        keyword,
		PerPage:        config.ClampProcessCount(limit),
		AcceptanceOnly: i.cfg.AcceptanceOnly,
		AmountFrom:     minAmount,
		AmountTo:       maxAmount,
		TargetAreas:    areas,
		UsePurpose:     purpose,
	}
	filters := Filters{
		ExcludeZeroAmount: i.cfg.ExcludeZeroAmount,
		MinAmount:         minAmount,
		MaxAmount:         maxAmount,
		AcceptanceOnly:    i.cfg.AcceptanceOnly,
	}
	return search, filters
}

// mergeRecords fills gaps in the detail record from the listing entry.
func mergeRecords(detail, listed RawRecord) RawRecord {
	out := make(RawRecord, len(detail)+len(listed))
	for k, v := range listed {
		out[k] = v
	}
	for k, v := range detail {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func tally(r *models.ImportResult, o models.Outcome) {
	r.Attempted++
	switch o {
	case models.OutcomeCreated:
		r.Created++
	case models.OutcomeDuplicate:
		r.Duplicate++
	case models.OutcomeSkipped:
		r.Skipped++
	case models.OutcomeError:
		r.Errors++
	}
}
