package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/models"
)

type recordingTrigger struct {
	mu    sync.Mutex
	kinds []models.RunKind
	err   error
}

func (r *recordingTrigger) Trigger(_ context.Context, kind models.RunKind, _ ingest.RunParams) (models.ImportResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return models.ImportResult{RunID: uuid.New(), Kind: kind}, r.err
}

func TestSpec(t *testing.T) {
	tests := []struct {
		freq string
		want string
	}{
		{Hourly, "0 * * * *"},
		{EverySix, "0 */6 * * *"},
		{EveryTwelve, "0 */12 * * *"},
		{TwiceDaily, "0 0,12 * * *"},
		{Daily, "0 0 * * *"},
		{Disabled, ""},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := Spec(tt.freq)
		require.NoError(t, err, tt.freq)
		assert.Equal(t, tt.want, got, tt.freq)
	}

	_, err := Spec("weekly")
	assert.ErrorIs(t, err, ErrUnknownFrequency)
}

func TestStart_DisabledIsNoop(t *testing.T) {
	s := New(&recordingTrigger{}, Disabled, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.NextRun())
}

func TestStart_UnknownFrequency(t *testing.T) {
	s := New(&recordingTrigger{}, "fortnightly", nil)
	assert.ErrorIs(t, s.Start(context.Background()), ErrUnknownFrequency)
}

func TestStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(&recordingTrigger{}, Hourly, nil)
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	next := s.NextRun()
	require.NotNil(t, next)
	assert.Zero(t, next.Minute())

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestRunOnce_TriggersScheduledRun(t *testing.T) {
	trig := &recordingTrigger{}
	s := New(trig, Daily, nil)

	s.runOnce()
	trig.err = errors.New("boom")
	s.runOnce()

	assert.Equal(t, []models.RunKind{models.RunScheduled, models.RunScheduled}, trig.kinds)
}
