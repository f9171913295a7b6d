package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// Memory is an in-process Store suitable for tests and single-node
// deployments without a configured STORE_URL.
type Memory struct {
	mu sync.RWMutex

	appsByKey    map[string]domain.App
	userProfiles map[string]domain.UserProfile // key: appID+"/"+userID

	heartbeats map[string]domain.Heartbeat
	runs       map[string][]domain.HeartbeatRun // key: heartbeatID

	knowledge map[string]domain.KnowledgeEntry
	syncState map[string]int64

	learnings map[string]domain.RoomLearningRecord

	approvals map[string]domain.ApprovalRequest

	errors []domain.ErrorRecord
}

func NewMemory() *Memory {
	return &Memory{
		appsByKey:    make(map[string]domain.App),
		userProfiles: make(map[string]domain.UserProfile),
		heartbeats:   make(map[string]domain.Heartbeat),
		runs:         make(map[string][]domain.HeartbeatRun),
		knowledge:    make(map[string]domain.KnowledgeEntry),
		syncState:    make(map[string]int64),
		learnings:    make(map[string]domain.RoomLearningRecord),
		approvals:    make(map[string]domain.ApprovalRequest),
	}
}

func userProfileKey(appID, userID string) string { return appID + "/" + userID }

func (m *Memory) GetAppByAPIKey(ctx context.Context, apiKey string) (*domain.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.appsByKey[apiKey]
	if !ok {
		return nil, wrapNotFound("GetAppByAPIKey")
	}
	return &app, nil
}

// PutApp seeds or updates an App record. Not part of the Store
// interface: apps are provisioned out of band, never created by a
// request handler.
func (m *Memory) PutApp(app domain.App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appsByKey[app.APIKey] = app
}

func (m *Memory) GetUserProfile(ctx context.Context, appID, userID string) (*domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.userProfiles[userProfileKey(appID, userID)]
	if !ok {
		return nil, wrapNotFound("GetUserProfile")
	}
	return &p, nil
}

func (m *Memory) PutUserProfile(ctx context.Context, profile domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userProfiles[userProfileKey(profile.AppID, profile.ID)] = profile
	return nil
}

func (m *Memory) PutHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[hb.ID] = hb
	return nil
}

func (m *Memory) GetHeartbeat(ctx context.Context, id string) (*domain.Heartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hb, ok := m.heartbeats[id]
	if !ok {
		return nil, wrapNotFound("GetHeartbeat")
	}
	return &hb, nil
}

func (m *Memory) ListHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Heartbeat, 0, len(m.heartbeats))
	for _, hb := range m.heartbeats {
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListActiveHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Heartbeat
	for _, hb := range m.heartbeats {
		if hb.IsActive {
			out = append(out, hb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveHeartbeatRun(ctx context.Context, run domain.HeartbeatRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.runs[run.HeartbeatID]
	for i, r := range runs {
		if r.ID == run.ID {
			runs[i] = run
			m.runs[run.HeartbeatID] = runs
			return nil
		}
	}
	m.runs[run.HeartbeatID] = append(runs, run)
	return nil
}

func (m *Memory) LastSuccessfulHeartbeatRun(ctx context.Context, heartbeatID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *time.Time
	for _, r := range m.runs[heartbeatID] {
		if r.Status != domain.HeartbeatRunCompleted || r.CompletedAt == nil {
			continue
		}
		if latest == nil || r.CompletedAt.After(*latest) {
			latest = r.CompletedAt
		}
	}
	return latest, nil
}

func (m *Memory) PutKnowledgeEntry(ctx context.Context, entry domain.KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knowledge[entry.ID] = entry
	return nil
}

func (m *Memory) ListKnowledgeEntries(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.KnowledgeEntry, 0, len(m.knowledge))
	for _, e := range m.knowledge {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetRoomSyncState(ctx context.Context, roomID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncState[roomID], nil
}

func (m *Memory) PutRoomSyncState(ctx context.Context, roomID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncState[roomID] = version
	return nil
}

func (m *Memory) PutRoomLearning(ctx context.Context, learning domain.RoomLearningRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learnings[learning.ID] = learning
	return nil
}

func (m *Memory) ListUnprocessedRoomLearnings(ctx context.Context) ([]domain.RoomLearningRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RoomLearningRecord
	for _, l := range m.learnings {
		if !l.Processed {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (m *Memory) MarkRoomLearningsProcessed(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		l, ok := m.learnings[id]
		if !ok {
			continue
		}
		l.Processed = true
		m.learnings[id] = l
	}
	return nil
}

func (m *Memory) PutApprovalRequest(ctx context.Context, req domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[req.ID] = req
	return nil
}

func (m *Memory) GetApprovalRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.approvals[id]
	if !ok {
		return nil, wrapNotFound("GetApprovalRequest")
	}
	return &req, nil
}

func (m *Memory) SaveErrorRecord(ctx context.Context, rec domain.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, rec)
	return nil
}

func (m *Memory) ListErrorRecords(ctx context.Context, since time.Time) ([]domain.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ErrorRecord
	for _, r := range m.errors {
		if !r.OccurredAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
