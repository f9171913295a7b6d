// Package tasks implements the Task Manager (C8): a thread-safe registry
// of background task lifecycles with cooperative cancellation.
package tasks

import (
	"sync"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// State is the lifecycle state of a managed task.
type State string

const (
	StateQueued     State = "QUEUED"
	StateRunning    State = "RUNNING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateCancelling State = "CANCELLING"
	StateCancelled  State = "CANCELLED"
)

func (s State) IsActive() bool {
	return s == StateQueued || s == StateRunning || s == StateCancelling
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CancelFunc is the handle a running job registers so the Task Manager
// can request cooperative cancellation.
type CancelFunc func()

// ManagedTask is one entry in the registry.
type ManagedTask struct {
	ID            string
	AppID         string
	UserID        string
	State         State
	MaxIterations int
	Progress      int
	Response      *domain.TaskResponse
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	cancel        CancelFunc
}

// Manager serializes all mutation per task_id behind a single mutex (the
// registry as a whole is small enough that per-task locks would add
// complexity without a measured benefit; gomind's async task store takes
// the same whole-registry-lock approach for its in-memory path).
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]*ManagedTask
	logger core.Logger
	now    func() time.Time
}

func New(opts ...Option) *Manager {
	m := &Manager{
		tasks:  make(map[string]*ManagedTask),
		logger: core.NoOpLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type Option func(*Manager)

func WithLogger(l core.Logger) Option        { return func(m *Manager) { m.logger = l } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// Register creates a QUEUED task.
func (m *Manager) Register(id, appID, userID string) *ManagedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &ManagedTask{ID: id, AppID: appID, UserID: userID, State: StateQueued, CreatedAt: m.now(), UpdatedAt: m.now()}
	m.tasks[id] = t
	return t
}

// Start transitions a task to RUNNING and records its cancel handle and
// iteration budget.
func (m *Manager) Start(id string, cancel CancelFunc, maxIterations int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return core.NewFrameworkError("Manager.Start", "tasks", core.ErrTaskNotFound)
	}
	t.State = StateRunning
	t.cancel = cancel
	t.MaxIterations = maxIterations
	t.UpdatedAt = m.now()
	return nil
}

// UpdateProgress records the current iteration count for an in-flight task.
func (m *Manager) UpdateProgress(id string, iteration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return core.NewFrameworkError("Manager.UpdateProgress", "tasks", core.ErrTaskNotFound)
	}
	t.Progress = iteration
	t.UpdatedAt = m.now()
	return nil
}

// Complete marks a task COMPLETED with its final response.
func (m *Manager) Complete(id string, response domain.TaskResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return core.NewFrameworkError("Manager.Complete", "tasks", core.ErrTaskNotFound)
	}
	t.State = StateCompleted
	t.Response = &response
	t.UpdatedAt = m.now()
	return nil
}

// Fail marks a task FAILED with an error message.
func (m *Manager) Fail(id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return core.NewFrameworkError("Manager.Fail", "tasks", core.ErrTaskNotFound)
	}
	t.State = StateFailed
	t.Error = errMsg
	t.UpdatedAt = m.now()
	return nil
}

// Cancel requests cancellation of a running task. Returns false (not an
// error) if the task is unknown or not RUNNING — cancellation is
// idempotent: a second call on an already-CANCELLING/CANCELLED task is a
// no-op that also returns false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.State != StateRunning || t.cancel == nil {
		m.mu.Unlock()
		return false
	}
	t.State = StateCancelling
	t.UpdatedAt = m.now()
	cancel := t.cancel
	m.mu.Unlock()

	cancel()
	return true
}

// MarkCancelled finalizes a CANCELLING task once the running job observed
// the cancellation and unwound.
func (m *Manager) MarkCancelled(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return core.NewFrameworkError("Manager.MarkCancelled", "tasks", core.ErrTaskNotFound)
	}
	t.State = StateCancelled
	t.UpdatedAt = m.now()
	return nil
}

// Get returns the task, or (nil, false) if unknown.
func (m *Manager) Get(id string) (*ManagedTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	clone := *t
	return &clone, true
}

// GetActive returns all tasks in {QUEUED, RUNNING, CANCELLING}, optionally
// filtered by appID/userID (empty string means "any").
func (m *Manager) GetActive(appID, userID string) []*ManagedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ManagedTask
	for _, t := range m.tasks {
		if !t.State.IsActive() {
			continue
		}
		if appID != "" && t.AppID != appID {
			continue
		}
		if userID != "" && t.UserID != userID {
			continue
		}
		clone := *t
		out = append(out, &clone)
	}
	return out
}

// CleanupOld garbage-collects terminal tasks older than maxAge.
func (m *Manager) CleanupOld(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var removed int
	for id, t := range m.tasks {
		if t.State.IsTerminal() && now.Sub(t.UpdatedAt) > maxAge {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}
