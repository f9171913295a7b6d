package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrevScheduled_EveryFiveMinutes(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 2, 0, 0, time.UTC)
	prev, err := PrevScheduled("*/5 * * * *", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), prev)
}

func TestPrevScheduled_WeeklyCronBeyondOneDayLookback(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 2, 0, 0, time.UTC)
	prev, err := PrevScheduled("0 0 * * 0", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 26, 0, 0, 0, 0, time.UTC), prev)
}

func TestPrevScheduled_MonthlyCronBeyondOneWeekLookback(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	prev, err := PrevScheduled("0 0 1 * *", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), prev)
}

func TestIsDue_NoPriorRunWithinGraceWindow(t *testing.T) {
	prevScheduled := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 12, 2, 0, 0, time.UTC)
	assert.True(t, IsDue(prevScheduled, now, nil))
}

func TestIsDue_NoPriorRunOutsideGraceWindow(t *testing.T) {
	prevScheduled := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 12, 10, 0, 0, time.UTC)
	assert.False(t, IsDue(prevScheduled, now, nil))
}

func TestIsDue_PriorRunBeforePrevScheduledIsDue(t *testing.T) {
	prevScheduled := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lastRun := time.Date(2026, 8, 1, 11, 55, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 12, 3, 0, 0, time.UTC)
	assert.True(t, IsDue(prevScheduled, now, &lastRun))
}

func TestIsDue_PriorRunAtOrAfterPrevScheduledIsNotDue(t *testing.T) {
	prevScheduled := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lastRun := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 12, 3, 0, 0, time.UTC)
	assert.False(t, IsDue(prevScheduled, now, &lastRun))
}

type fakeStore struct {
	heartbeats []domain.Heartbeat
	lastRun    *time.Time
	saved      []domain.HeartbeatRun
}

func (f *fakeStore) ActiveHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	return f.heartbeats, nil
}
func (f *fakeStore) LastSuccessfulRun(ctx context.Context, heartbeatID string) (*time.Time, error) {
	return f.lastRun, nil
}
func (f *fakeStore) SaveRun(ctx context.Context, run domain.HeartbeatRun) error {
	f.saved = append(f.saved, run)
	return nil
}

type fakeRunner struct {
	response domain.TaskResponse
}

func (f *fakeRunner) Run(ctx context.Context, req domain.TaskRequest) (domain.TaskResponse, error) {
	return f.response, nil
}

func TestScheduler_TickRunsDueHeartbeatToCompletion(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 2, 0, 0, time.UTC)
	store := &fakeStore{
		heartbeats: []domain.Heartbeat{{
			ID:             "hb-1",
			Name:           "morning digest",
			QueryTemplate:  "summarize {date}",
			CronExpression: "*/5 * * * *",
			Timezone:       "UTC",
			IsActive:       true,
		}},
	}
	runner := &fakeRunner{response: domain.TaskResponse{RequestID: "task-1", Result: domain.InstrumentResult{Outcome: domain.OutcomeComplete}}}
	sched := New(store, runner, WithClock(func() time.Time { return now }))

	sched.Tick(context.Background())
	waitForRuns(t, store, 2)

	require.Len(t, store.saved, 2)
	assert.Equal(t, domain.HeartbeatRunRunning, store.saved[0].Status)
	assert.Equal(t, domain.HeartbeatRunCompleted, store.saved[1].Status)
}

func waitForRuns(t *testing.T, store *fakeStore, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(store.saved) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d saved runs, got %d", n, len(store.saved))
}
