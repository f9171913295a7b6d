// Package rooms implements the Room Registry and Room Client (C7):
// tracking remote/local execution endpoints, scoring them for
// delegation, and normalizing their HTTP responses.
package rooms

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

const serverRoomID = "server"

// Registry tracks RoomInfo in memory. Timeout sweep runs on every read,
// matching the "sweep on read, not a background timer" TTL pattern used
// throughout this module.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*domain.RoomInfo
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
	logger   core.Logger
}

func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*domain.RoomInfo),
		timeout: 90 * time.Second,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		logger:  core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registerServerSentinel()
	return r
}

type Option func(*Registry)

func WithHeartbeatTimeout(d time.Duration) Option { return func(r *Registry) { r.timeout = d } }
func WithClock(now func() time.Time) Option       { return func(r *Registry) { r.now = now } }
func WithLogger(l core.Logger) Option             { return func(r *Registry) { r.logger = l } }

// registerServerSentinel installs the implicit always-online "server"
// room representing local execution. It is exempt from timeout sweeps.
func (r *Registry) registerServerSentinel() {
	r.rooms[serverRoomID] = &domain.RoomInfo{
		RoomID:        serverRoomID,
		RoomName:      "server",
		RoomType:      "server",
		Capabilities:  []string{"reasoning", "web_search", "synthesis", "vision"},
		Status:        domain.RoomOnline,
		LastHeartbeat: r.now(),
	}
}

// Register creates or replaces a room entry and returns the assigned
// RoomInfo. A caller-supplied room_id is honored if present.
func (r *Registry) Register(info domain.RoomInfo) domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.RoomID == "" {
		info.RoomID = r.newID()
	}
	info.Status = domain.RoomOnline
	info.LastHeartbeat = r.now()
	clone := info
	r.rooms[info.RoomID] = &clone
	return clone
}

// Deregister removes a room. Idempotent: deregistering an unknown id is a
// no-op.
func (r *Registry) Deregister(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roomID == serverRoomID {
		return // the sentinel cannot be removed
	}
	delete(r.rooms, roomID)
}

// Heartbeat refreshes a room's liveness timestamp. Returns
// core.ErrRoomReregister if the room is unknown (a room that timed out
// and was swept, or one that never registered).
func (r *Registry) Heartbeat(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return core.ErrRoomReregister
	}
	room.LastHeartbeat = r.now()
	room.Status = domain.RoomOnline
	return nil
}

// checkTimeouts marks rooms offline when now-last_heartbeat exceeds the
// configured timeout. The server sentinel is exempt. Must be called with
// r.mu held.
func (r *Registry) checkTimeouts() {
	now := r.now()
	for id, room := range r.rooms {
		if id == serverRoomID {
			continue
		}
		if room.Status != domain.RoomOffline && now.Sub(room.LastHeartbeat) > r.timeout {
			room.Status = domain.RoomOffline
		}
	}
}

// GetRoom returns a copy of the room, or (nil, false) if unknown.
func (r *Registry) GetRoom(roomID string) (*domain.RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkTimeouts()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	clone := *room
	return &clone, true
}

// GetAllRooms returns a snapshot of every tracked room.
func (r *Registry) GetAllRooms() []domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkTimeouts()
	out := make([]domain.RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	return out
}

// GetOnlineRooms returns only rooms currently marked online.
func (r *Registry) GetOnlineRooms() []domain.RoomInfo {
	all := r.GetAllRooms()
	out := all[:0]
	for _, room := range all {
		if room.Status == domain.RoomOnline {
			out = append(out, room)
		}
	}
	return out
}

// RoomRequest describes what a task needs from a room.
type RoomRequest struct {
	RequiredCapabilities []string
	PreferredType        string
	PreferLocal          bool
}

func hasAll(room domain.RoomInfo, required []string) bool {
	set := make(map[string]bool, len(room.Capabilities))
	for _, c := range room.Capabilities {
		set[c] = true
	}
	for _, c := range required {
		if !set[c] {
			return false
		}
	}
	return true
}

// ScoreRoom implements the scoring formula from spec §4.6/§4.7:
// +10 if room type matches the preference, +5 if prefer_local and the
// room is local, + the room's capability count as a tiebreak.
func ScoreRoom(room domain.RoomInfo, req RoomRequest) int {
	score := 0
	if req.PreferredType != "" && room.RoomType == req.PreferredType {
		score += 10
	}
	if req.PreferLocal && room.RoomType == "local" {
		score += 5
	}
	score += len(room.Capabilities)
	return score
}

// GetRoomsByCapability returns online rooms advertising cap.
func (r *Registry) GetRoomsByCapability(cap string) []domain.RoomInfo {
	var out []domain.RoomInfo
	for _, room := range r.GetOnlineRooms() {
		for _, c := range room.Capabilities {
			if c == cap {
				out = append(out, room)
				break
			}
		}
	}
	return out
}

// GetBestRoomForTask filters online rooms by req.RequiredCapabilities and
// returns the highest-scoring match. Returns (nil, false) if none qualify.
func (r *Registry) GetBestRoomForTask(req RoomRequest) (*domain.RoomInfo, bool) {
	var best *domain.RoomInfo
	bestScore := -1
	for _, room := range r.GetOnlineRooms() {
		if !hasAll(room, req.RequiredCapabilities) {
			continue
		}
		score := ScoreRoom(room, req)
		if score > bestScore {
			room := room
			best = &room
			bestScore = score
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
