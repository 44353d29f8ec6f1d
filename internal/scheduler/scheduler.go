// Package scheduler fires scheduled import runs on a fixed frequency.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/models"
)

const (
	Hourly       = "hourly"
	EverySix     = "every_6_hours"
	EveryTwelve  = "every_12_hours"
	TwiceDaily   = "twicedaily"
	Daily        = "daily"
	Disabled     = "disabled"
	runTimeLimit = 30 * time.Minute
)

var ErrUnknownFrequency = errors.New("unknown schedule frequency")

var specs = map[string]string{
	Hourly:      "0 * * * *",
	EverySix:    "0 */6 * * *",
	EveryTwelve: "0 */12 * * *",
	TwiceDaily:  "0 0,12 * * *",
	Daily:       "0 0 * * *",
}

// Spec maps a frequency name to its cron expression. Disabled yields "".
func Spec(frequency string) (string, error) {
	if frequency == "" || frequency == Disabled {
		return "", nil
	}
	spec, ok := specs[frequency]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}
	return spec, nil
}

type Triggerer interface {
	Trigger(ctx context.Context, kind models.RunKind, params ingest.RunParams) (models.ImportResult, error)
}

// jst keeps the schedule on registry time regardless of host zone.
var jst = time.FixedZone("JST", 9*60*60)

type ImportScheduler struct {
	trigger   Triggerer
	frequency string
	logger    *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.RWMutex
	running bool
	base    context.Context
}

func New(trigger Triggerer, frequency string, logger *slog.Logger) *ImportScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportScheduler{
		trigger:   trigger,
		frequency: frequency,
		logger:    logger,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithLocation(jst),
		),
	}
}

// Start registers the job and starts the cron loop. It is a no-op when
// the frequency is disabled. Runs stop when ctx is cancelled.
func (s *ImportScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	spec, err := Spec(s.frequency)
	if err != nil {
		return err
	}
	if spec == "" {
		s.logger.Info("import scheduler disabled")
		return nil
	}

	entryID, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("failed to schedule import job: %w", err)
	}
	s.entryID = entryID
	s.base = ctx
	s.cron.Start()
	s.running = true

	next := s.cron.Entry(entryID).Next
	s.logger.Info("import scheduler started", "frequency", s.frequency, "spec", spec, "next_run", next)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for an in-flight run to finish.
func (s *ImportScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.running = false
	s.logger.Info("import scheduler stopped")
}

func (s *ImportScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// NextRun returns the next fire time, or nil when not running.
func (s *ImportScheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil
	}
	t := s.cron.Entry(s.entryID).Next
	return &t
}

func (s *ImportScheduler) runOnce() {
	s.mu.RLock()
	base := s.base
	s.mu.RUnlock()
	if base == nil {
		base = context.Background()
	}

	ctx, cancel := context.WithTimeout(base, runTimeLimit)
	defer cancel()

	res, err := s.trigger.Trigger(ctx, models.RunScheduled, ingest.RunParams{})
	if err != nil {
		s.logger.Error("scheduled import failed", "error", err)
		return
	}
	if res.RunID == uuid.Nil {
		// another run held the lock
		return
	}
	s.logger.Info("scheduled import complete", "run_id", res.RunID, "status", res.Status(), "created", res.Created)
}
