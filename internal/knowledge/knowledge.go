// Package knowledge implements the Knowledge Sync Manager (C14):
// versioned entries, per-room sync state, and raw room-learning
// aggregation into new entries.
package knowledge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// AggregationThreshold is the minimum number of distinct rooms that
// must report the same title before aggregation emits an AGGREGATED
// entry instead of a ROOM_LEARNING one.
const AggregationThreshold = 3

// RawLearning is one unprocessed report accepted from a room.
type RawLearning struct {
	RoomID     string
	Title      string
	Content    string
	Confidence float64
	Processed  bool
}

// SyncPush is the delta a room should apply to catch up.
type SyncPush struct {
	Updated      []domain.KnowledgeEntry
	DeactivatedIDs []string
	ServerVersion int64
}

// Manager owns the global knowledge_version counter and the entries it
// guards; the version counter has a single mutex-serialized writer.
type Manager struct {
	mu              sync.Mutex
	version         int64
	entries         map[string]*domain.KnowledgeEntry
	lastSyncedByRoom map[string]int64
	learnings       []*RawLearning
	now             func() time.Time
	newID           func() string
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

func New(opts ...Option) *Manager {
	m := &Manager{
		entries:          make(map[string]*domain.KnowledgeEntry),
		lastSyncedByRoom: make(map[string]int64),
		now:              time.Now,
		newID:            func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put creates or updates an entry, bumping the global version.
func (m *Manager) Put(entry domain.KnowledgeEntry) domain.KnowledgeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = m.newID()
	}
	m.version++
	entry.Version = m.version
	entry.UpdatedAt = m.now()
	entry.IsActive = true
	clone := entry
	m.entries[entry.ID] = &clone
	return clone
}

// Deactivate marks an entry inactive, bumping the global version.
func (m *Manager) Deactivate(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || !e.IsActive {
		return false
	}
	m.version++
	e.IsActive = false
	e.Version = m.version
	e.UpdatedAt = m.now()
	return true
}

// GetSyncPush returns entries updated since the room's last synced
// version, deactivated IDs since then, and the current server version.
// Empty push when the room is already current.
func (m *Manager) GetSyncPush(roomID string) SyncPush {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := m.lastSyncedByRoom[roomID]
	var updated []domain.KnowledgeEntry
	var deactivated []string
	for _, e := range m.entries {
		if e.Version <= since {
			continue
		}
		if e.IsActive {
			updated = append(updated, *e)
		} else {
			deactivated = append(deactivated, e.ID)
		}
	}
	m.lastSyncedByRoom[roomID] = m.version
	return SyncPush{Updated: updated, DeactivatedIDs: deactivated, ServerVersion: m.version}
}

// AcceptLearnings stores a batch of unprocessed raw learnings from a room.
func (m *Manager) AcceptLearnings(batch []RawLearning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range batch {
		clone := l
		clone.Processed = false
		m.learnings = append(m.learnings, &clone)
	}
}

// AggregateLearnings groups unprocessed learnings by title. Titles
// reported by at least AggregationThreshold distinct rooms become an
// AGGREGATED entry with confidence min(1, mean+0.2); titles below the
// threshold each become a ROOM_LEARNING entry with confidence
// min(0.8, mean). All grouped learnings are marked processed exactly
// once, regardless of which branch produced their entry.
func (m *Manager) AggregateLearnings() []domain.KnowledgeEntry {
	m.mu.Lock()
	groups := make(map[string][]*RawLearning)
	for _, l := range m.learnings {
		if l.Processed {
			continue
		}
		groups[l.Title] = append(groups[l.Title], l)
	}
	m.mu.Unlock()

	var produced []domain.KnowledgeEntry
	for title, learnings := range groups {
		rooms := make(map[string]bool)
		sum := 0.0
		for _, l := range learnings {
			rooms[l.RoomID] = true
			sum += l.Confidence
		}
		mean := sum / float64(len(learnings))

		var entry domain.KnowledgeEntry
		if len(rooms) >= AggregationThreshold {
			conf := mean + 0.2
			if conf > 1 {
				conf = 1
			}
			entry = domain.KnowledgeEntry{
				Category:   domain.KnowledgePatterns,
				Title:      title,
				Content:    learnings[0].Content,
				Source:     domain.KnowledgeSourceAggregated,
				Confidence: conf,
			}
		} else {
			conf := mean
			if conf > 0.8 {
				conf = 0.8
			}
			entry = domain.KnowledgeEntry{
				Category:   domain.KnowledgePatterns,
				Title:      title,
				Content:    learnings[0].Content,
				Source:     domain.KnowledgeSourceRoomLearning,
				Confidence: conf,
			}
		}

		produced = append(produced, m.Put(entry))

		m.mu.Lock()
		for _, l := range learnings {
			l.Processed = true
		}
		m.mu.Unlock()
	}
	return produced
}

// Version returns the current global knowledge_version.
func (m *Manager) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}
