// Package heartbeat implements the Heartbeat Scheduler (C10): a tick
// loop that fires due cron-scheduled Heartbeats through the Conductor.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

const (
	// DefaultTickInterval is how often the scheduler checks for due
	// heartbeats.
	DefaultTickInterval = 60 * time.Second
	graceWindow         = 5 * time.Minute
	webhookTimeout      = 30 * time.Second
)

// Runner invokes the Conductor for one heartbeat's built TaskRequest.
type Runner interface {
	Run(ctx context.Context, req domain.TaskRequest) (domain.TaskResponse, error)
}

// Store is the persistence seam the scheduler reads heartbeats from and
// writes run records to.
type Store interface {
	ActiveHeartbeats(ctx context.Context) ([]domain.Heartbeat, error)
	LastSuccessfulRun(ctx context.Context, heartbeatID string) (*time.Time, error)
	SaveRun(ctx context.Context, run domain.HeartbeatRun) error
}

// Scheduler ticks at a fixed interval, evaluating every active Heartbeat's
// due-ness and running it through Runner. At most one in-flight run per
// heartbeat at any time.
type Scheduler struct {
	store    Store
	runner   Runner
	interval time.Duration
	client   *http.Client
	logger   core.Logger
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	running map[string]bool
}

func New(store Store, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		runner:   runner,
		interval: DefaultTickInterval,
		client:   &http.Client{Timeout: webhookTimeout},
		logger:   core.NoOpLogger{},
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option    { return func(s *Scheduler) { s.interval = d } }
func WithClock(now func() time.Time) Option  { return func(s *Scheduler) { s.now = now } }
func WithLogger(l core.Logger) Option        { return func(s *Scheduler) { s.logger = l } }
func WithHTTPClient(c *http.Client) Option   { return func(s *Scheduler) { s.client = c } }
func WithIDGenerator(f func() string) Option { return func(s *Scheduler) { s.newID = f } }

// Run blocks, ticking every interval, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every active heartbeat once and runs the due ones.
// Heartbeats already in flight (per the exclusivity lock) are skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	heartbeats, err := s.store.ActiveHeartbeats(ctx)
	if err != nil {
		s.logger.Error("heartbeat tick: listing active heartbeats failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, hb := range heartbeats {
		if !s.tryLock(hb.ID) {
			continue
		}
		go func(hb domain.Heartbeat) {
			defer s.unlock(hb.ID)
			s.processIfDue(ctx, hb)
		}(hb)
	}
}

func (s *Scheduler) tryLock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) unlock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// maxPrevScheduledLookback bounds how far back PrevScheduled will widen
// its search before giving up; generous enough for any sane cron
// period (yearly schedules included) without searching forever on a
// pathological expression.
const maxPrevScheduledLookback = 366 * 24 * time.Hour

// PrevScheduled returns the most recent cron fire time at or before now,
// in the heartbeat's timezone. Replaces croniter.get_prev from the
// original reference implementation. cron has no native "previous"
// query, so this doubles its backward probe window until it lands on a
// window containing at least one fire, then walks forward from there to
// the last fire at or before now — a fixed lookback would miss any
// schedule whose period exceeds it (e.g. weekly crons past a 24h probe).
func PrevScheduled(cronExpression, timezone string, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	schedule, err := cron.ParseStandard(cronExpression)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	for lookback := 24 * time.Hour; ; lookback *= 2 {
		if lookback > maxPrevScheduledLookback {
			lookback = maxPrevScheduledLookback
		}
		probe := local.Add(-lookback)
		first := schedule.Next(probe)
		if first.After(local) {
			if lookback == maxPrevScheduledLookback {
				break
			}
			continue
		}
		prev := first
		for {
			next := schedule.Next(prev)
			if next.After(local) {
				break
			}
			prev = next
		}
		return prev, nil
	}
	return time.Time{}, fmt.Errorf("no scheduled fire for %q found within %s of %s", cronExpression, maxPrevScheduledLookback, local)
}

// IsDue implements the due-ness rule: with no prior successful run, due
// iff now is within graceWindow of the previous scheduled fire;
// otherwise due iff the last successful run precedes that fire.
func IsDue(prevScheduled, now time.Time, lastSuccessfulRun *time.Time) bool {
	if lastSuccessfulRun == nil {
		return now.Sub(prevScheduled) <= graceWindow
	}
	return lastSuccessfulRun.Before(prevScheduled)
}

func (s *Scheduler) processIfDue(ctx context.Context, hb domain.Heartbeat) {
	prevScheduled, err := PrevScheduled(hb.CronExpression, hb.Timezone, s.now())
	if err != nil {
		s.logger.Error("heartbeat: invalid cron expression", map[string]interface{}{"heartbeat_id": hb.ID, "error": err.Error()})
		return
	}

	lastRun, err := s.store.LastSuccessfulRun(ctx, hb.ID)
	if err != nil {
		s.logger.Error("heartbeat: reading last run failed", map[string]interface{}{"heartbeat_id": hb.ID, "error": err.Error()})
		return
	}

	if !IsDue(prevScheduled, s.now(), lastRun) {
		return
	}

	s.execute(ctx, hb)
}

func (s *Scheduler) execute(ctx context.Context, hb domain.Heartbeat) {
	run := domain.HeartbeatRun{
		ID:          s.newID(),
		HeartbeatID: hb.ID,
		Status:      domain.HeartbeatRunRunning,
		StartedAt:   s.now(),
	}
	_ = s.store.SaveRun(ctx, run)

	query, err := core.ExpandTemplate(hb.QueryTemplate, templateValues(hb, s.now()))
	if err != nil {
		s.finish(ctx, run, domain.HeartbeatRunFailed, err.Error(), "")
		return
	}

	req := domain.TaskRequest{
		Query: query,
		Context: &domain.TaskContext{
			AppID:  hb.AppID,
			UserID: hb.UserID,
		},
	}

	response, err := s.runner.Run(ctx, req)
	if err != nil {
		s.finish(ctx, run, domain.HeartbeatRunFailed, err.Error(), "")
		return
	}

	s.finish(ctx, run, domain.HeartbeatRunCompleted, "", response.RequestID)

	if hb.WebhookURL != "" {
		s.callWebhook(hb, run, response)
	}
}

func templateValues(hb domain.Heartbeat, now time.Time) map[string]string {
	return map[string]string{
		"date":           now.Format("2006-01-02"),
		"datetime":       now.Format(time.RFC3339),
		"time":           now.Format("15:04"),
		"weekday":        now.Format("Monday"),
		"heartbeat_name": hb.Name,
	}
}

func (s *Scheduler) finish(ctx context.Context, run domain.HeartbeatRun, status domain.HeartbeatRunStatus, errMsg, taskID string) {
	completedAt := s.now()
	run.Status = status
	run.CompletedAt = &completedAt
	run.ErrorMessage = errMsg
	run.TaskID = taskID
	_ = s.store.SaveRun(ctx, run)
}

type webhookPayload struct {
	Event              string    `json:"event"`
	HeartbeatID        string    `json:"heartbeat_id"`
	HeartbeatName      string    `json:"heartbeat_name"`
	RunID              string    `json:"run_id"`
	TaskID             string    `json:"task_id"`
	Outcome            string    `json:"outcome"`
	Confidence         float64   `json:"confidence"`
	Summary            string    `json:"summary"`
	Findings           []domain.Finding `json:"findings"`
	SuggestedFollowups []string  `json:"suggested_followups"`
	Timestamp          time.Time `json:"timestamp"`
}

// callWebhook POSTs the run result; failure is logged but never fails
// the heartbeat run itself.
func (s *Scheduler) callWebhook(hb domain.Heartbeat, run domain.HeartbeatRun, response domain.TaskResponse) {
	payload := webhookPayload{
		Event:              "heartbeat.completed",
		HeartbeatID:        hb.ID,
		HeartbeatName:      hb.Name,
		RunID:              run.ID,
		TaskID:             response.RequestID,
		Outcome:            string(response.Result.Outcome),
		Confidence:         response.Result.Confidence,
		Summary:            response.Result.Summary,
		Findings:           response.Result.Findings,
		SuggestedFollowups: response.Result.SuggestedFollowups,
		Timestamp:          s.now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("heartbeat webhook: encoding payload failed", map[string]interface{}{"heartbeat_id": hb.ID, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, hb.WebhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("heartbeat webhook: building request failed", map[string]interface{}{"heartbeat_id": hb.ID, "error": err.Error()})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("heartbeat webhook failed", map[string]interface{}{"heartbeat_id": hb.ID, "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("heartbeat webhook returned non-2xx", map[string]interface{}{"heartbeat_id": hb.ID, "status": resp.StatusCode})
	}
}
