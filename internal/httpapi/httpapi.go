// Package httpapi exposes the server's public endpoint table over
// net/http, in gomind's orchestration.TaskAPIHandler style: a plain
// http.ServeMux, prefix-matching handlers with suffix dispatch for
// sub-resources, and a writeError JSON helper rather than an external
// router.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattdarbro/loop-symphony-sub001/internal/approval"
	"github.com/mattdarbro/loop-symphony-sub001/internal/conductor"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/events"
	"github.com/mattdarbro/loop-symphony-sub001/internal/knowledge"
	"github.com/mattdarbro/loop-symphony-sub001/internal/rooms"
	"github.com/mattdarbro/loop-symphony-sub001/internal/store"
	"github.com/mattdarbro/loop-symphony-sub001/internal/tasks"
)

// Handler wires the endpoint table to the components it dispatches to.
// Every dependency is an already-constructed component; Handler itself
// holds no business logic beyond request/response translation and the
// auth contract.
type Handler struct {
	store      store.Store
	tasks      *tasks.Manager
	events     *events.Bus
	rooms      *rooms.Registry
	conductor  *conductor.Conductor
	knowledge  *knowledge.Manager
	approvals  *approval.Router
	logger     core.Logger
	now        func() time.Time
	newID      func() string

	mu     sync.Mutex
	plans  map[string]domain.ApprovalRequest // taskID -> plan, when policy required approval
}

type Option func(*Handler)

func WithLogger(l core.Logger) Option        { return func(h *Handler) { h.logger = l } }
func WithClock(now func() time.Time) Option  { return func(h *Handler) { h.now = now } }
func WithIDGenerator(f func() string) Option { return func(h *Handler) { h.newID = f } }

func New(st store.Store, tm *tasks.Manager, bus *events.Bus, roomRegistry *rooms.Registry, cond *conductor.Conductor, km *knowledge.Manager, approvals *approval.Router, opts ...Option) *Handler {
	h := &Handler{
		store:     st,
		tasks:     tm,
		events:    bus,
		rooms:     roomRegistry,
		conductor: cond,
		knowledge: km,
		approvals: approvals,
		logger:    core.NoOpLogger{},
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		plans:     make(map[string]domain.ApprovalRequest),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires every endpoint in spec §6's table onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/tasks", h.requireAuth(h.handleTasksCollection))
	mux.HandleFunc("/tasks/", h.requireAuth(h.handleTasksItem))

	mux.HandleFunc("/rooms/register", h.handleRoomsRegister)
	mux.HandleFunc("/rooms/deregister", h.handleRoomsDeregister)
	mux.HandleFunc("/rooms/heartbeat", h.handleRoomsHeartbeat)

	mux.HandleFunc("/heartbeats", h.handleHeartbeatsCollection)
	mux.HandleFunc("/heartbeats/", h.handleHeartbeatsItem)

	mux.HandleFunc("/knowledge/sync/", h.handleKnowledgeSync)
	mux.HandleFunc("/knowledge/learnings", h.handleKnowledgeLearnings)

	mux.HandleFunc("/approvals/", h.handleApprovalsItem)
}

// ═══════════════════════════════════════════════════════════════════
// JSON helpers
// ═══════════════════════════════════════════════════════════════════

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// extractID pulls the path segment after prefix, stopping at the next
// "/" — the same convention gomind's task API handlers use.
func extractID(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	id := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(id, "/"); idx >= 0 {
		return id[:idx]
	}
	return id
}

// ═══════════════════════════════════════════════════════════════════
// Auth middleware: X-Api-Key -> App, X-User-Id -> caller-supplied scope
// ═══════════════════════════════════════════════════════════════════

type ctxKey int

const ctxKeyApp ctxKey = iota

func appFromContext(ctx context.Context) (*domain.App, bool) {
	app, ok := ctx.Value(ctxKeyApp).(*domain.App)
	return app, ok
}

// requireAuth resolves X-Api-Key into an App per spec §6: invalid key is
// 401, inactive app is 403. X-User-Id is optional and is threaded
// through as a bare string (TrustMetrics and TaskContext key on it
// directly; no UserProfile row needs to exist yet for a first-time
// caller).
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Api-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Api-Key", "MISSING_API_KEY")
			return
		}
		app, err := h.store.GetAppByAPIKey(r.Context(), apiKey)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key", "INVALID_API_KEY")
			return
		}
		if !app.IsActive {
			writeError(w, http.StatusForbidden, "app is inactive", "APP_INACTIVE")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyApp, app)
		next(w, r.WithContext(ctx))
	}
}

// ═══════════════════════════════════════════════════════════════════
// Tasks: POST /tasks, GET/POST /tasks/{id}[/cancel|/events]
// ═══════════════════════════════════════════════════════════════════

type taskSubmitResponse struct {
	TaskID string                  `json:"task_id"`
	Status string                  `json:"status"`
	Plan   *domain.ApprovalRequest `json:"plan,omitempty"`
}

type taskPendingResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	h.handleTaskSubmit(w, r)
}

func (h *Handler) handleTaskSubmit(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())

	var req domain.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "MISSING_QUERY")
		return
	}
	if req.ID == "" {
		req.ID = h.newID()
	}
	taskID := req.ID

	if req.Context == nil {
		req.Context = &domain.TaskContext{}
	}
	req.Context.AppID = app.ID
	if userID := r.Header.Get("X-User-Id"); userID != "" {
		req.Context.UserID = userID
	}

	h.tasks.Register(taskID, app.ID, req.Context.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.tasks.Start(taskID, tasks.CancelFunc(cancel), 0); err != nil {
		cancel()
		writeError(w, http.StatusInternalServerError, "failed to start task", "TASK_START_FAILED")
		return
	}

	go h.runTask(ctx, taskID, req)

	writeJSON(w, http.StatusAccepted, taskSubmitResponse{TaskID: taskID, Status: string(tasks.StateQueued)})
}

// runTask executes the Conductor pipeline off the request goroutine and
// records the outcome into the Task Manager and, when gated, into the
// local plan cache GET /tasks/{id} consults first.
func (h *Handler) runTask(ctx context.Context, taskID string, req domain.TaskRequest) {
	outcome, err := h.conductor.Execute(ctx, taskID, req, h.approvals)
	if err != nil {
		if fail := h.tasks.Fail(taskID, err.Error()); fail != nil {
			h.logger.Error("task manager fail transition failed", map[string]interface{}{"task_id": taskID, "error": fail.Error()})
		}
		return
	}
	if outcome.RequiresApproval {
		h.mu.Lock()
		if outcome.ApprovalRequest != nil {
			h.plans[taskID] = *outcome.ApprovalRequest
		}
		h.mu.Unlock()
		if err := h.tasks.Complete(taskID, domain.TaskResponse{
			RequestID: req.ID,
			Result:    domain.InstrumentResult{Outcome: domain.OutcomeBounded, Summary: "awaiting approval"},
		}); err != nil {
			h.logger.Error("task manager complete transition failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		}
		return
	}
	if err := h.tasks.Complete(taskID, outcome.Response); err != nil {
		h.logger.Error("task manager complete transition failed", map[string]interface{}{"task_id": taskID, "error": err.Error()})
	}
}

func (h *Handler) handleTasksItem(w http.ResponseWriter, r *http.Request) {
	const prefix = "/tasks/"
	path := r.URL.Path

	if strings.HasSuffix(path, "/cancel") {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}
		h.handleTaskCancel(w, r, extractID(strings.TrimSuffix(path, "/cancel"), prefix))
		return
	}
	if strings.HasSuffix(path, "/events") {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}
		h.handleTaskEvents(w, r, extractID(strings.TrimSuffix(path, "/events"), prefix))
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	h.handleTaskGet(w, r, extractID(path, prefix))
}

func (h *Handler) handleTaskGet(w http.ResponseWriter, r *http.Request, taskID string) {
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required", "MISSING_TASK_ID")
		return
	}
	t, ok := h.tasks.Get(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
		return
	}

	h.mu.Lock()
	plan, hasPlan := h.plans[taskID]
	h.mu.Unlock()
	if hasPlan {
		writeJSON(w, http.StatusOK, taskSubmitResponse{TaskID: taskID, Status: string(t.State), Plan: &plan})
		return
	}

	switch t.State {
	case tasks.StateCompleted:
		if t.Response != nil {
			writeJSON(w, http.StatusOK, struct {
				TaskID string `json:"task_id"`
				Status string `json:"status"`
				*domain.TaskResponse
			}{TaskID: taskID, Status: string(t.State), TaskResponse: t.Response})
			return
		}
		writeJSON(w, http.StatusOK, taskPendingResponse{TaskID: taskID, Status: string(t.State)})
	case tasks.StateFailed:
		writeJSON(w, http.StatusOK, taskPendingResponse{TaskID: taskID, Status: string(t.State), Error: t.Error})
	default:
		writeJSON(w, http.StatusOK, taskPendingResponse{TaskID: taskID, Status: string(t.State)})
	}
}

func (h *Handler) handleTaskCancel(w http.ResponseWriter, r *http.Request, taskID string) {
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required", "MISSING_TASK_ID")
		return
	}
	if _, ok := h.tasks.Get(taskID); !ok {
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
		return
	}
	cancelled := h.tasks.Cancel(taskID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleTaskEvents streams events.Bus history plus live events as SSE.
// The stream closes as soon as a complete or error event is written, or
// when the client disconnects; no extra TTL is applied after the
// terminal event.
func (h *Handler) handleTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required", "MISSING_TASK_ID")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "STREAMING_UNSUPPORTED")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := h.events.Subscribe(taskID)
	defer h.events.Unsubscribe(taskID, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, data)
			flusher.Flush()
			if event.Event == domain.EventComplete || event.Event == domain.EventError {
				return
			}
		}
	}
}

// ═══════════════════════════════════════════════════════════════════
// Rooms: POST /rooms/register, /rooms/deregister, /rooms/heartbeat
// ═══════════════════════════════════════════════════════════════════

func (h *Handler) handleRoomsRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var info domain.RoomInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	registered := h.rooms.Register(info)
	writeJSON(w, http.StatusOK, registered)
}

func (h *Handler) handleRoomsDeregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	h.rooms.Deregister(body.RoomID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleRoomsHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	if err := h.rooms.Heartbeat(body.RoomID); err != nil {
		writeError(w, http.StatusNotFound, "room not registered; re-register required", "ROOM_REREGISTER")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ═══════════════════════════════════════════════════════════════════
// Heartbeats: POST /heartbeats, PATCH /heartbeats/{id}, GET list/item
// ═══════════════════════════════════════════════════════════════════

func (h *Handler) handleHeartbeatsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleHeartbeatCreate(w, r)
	case http.MethodGet:
		h.handleHeartbeatList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	}
}

func (h *Handler) handleHeartbeatCreate(w http.ResponseWriter, r *http.Request) {
	var hb domain.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	if hb.ID == "" {
		hb.ID = h.newID()
	}
	if err := h.store.PutHeartbeat(r.Context(), hb); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store heartbeat", "STORE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, hb)
}

func (h *Handler) handleHeartbeatList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListHeartbeats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list heartbeats", "STORE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleHeartbeatsItem(w http.ResponseWriter, r *http.Request) {
	id := extractID(r.URL.Path, "/heartbeats/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "heartbeat id is required", "MISSING_HEARTBEAT_ID")
		return
	}
	switch r.Method {
	case http.MethodGet:
		hb, err := h.store.GetHeartbeat(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "heartbeat not found", "HEARTBEAT_NOT_FOUND")
			return
		}
		writeJSON(w, http.StatusOK, hb)
	case http.MethodPatch:
		h.handleHeartbeatUpdate(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	}
}

func (h *Handler) handleHeartbeatUpdate(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := h.store.GetHeartbeat(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "heartbeat not found", "HEARTBEAT_NOT_FOUND")
		return
	}
	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	updated.ID = id
	if err := h.store.PutHeartbeat(r.Context(), updated); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store heartbeat", "STORE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ═══════════════════════════════════════════════════════════════════
// Knowledge: POST /knowledge/sync/{room_id}, POST /knowledge/learnings
// ═══════════════════════════════════════════════════════════════════

type knowledgeSyncPush struct {
	Updated        []domain.KnowledgeEntry `json:"updated"`
	DeactivatedIDs []string                `json:"deactivated_ids"`
	ServerVersion  int64                   `json:"server_version"`
}

func (h *Handler) handleKnowledgeSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	roomID := extractID(r.URL.Path, "/knowledge/sync/")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "room id is required", "MISSING_ROOM_ID")
		return
	}
	push := h.knowledge.GetSyncPush(roomID)
	if err := h.store.PutRoomSyncState(r.Context(), roomID, push.ServerVersion); err != nil {
		h.logger.Error("failed to persist room sync state", map[string]interface{}{"room_id": roomID, "error": err.Error()})
	}
	writeJSON(w, http.StatusOK, knowledgeSyncPush{Updated: push.Updated, DeactivatedIDs: push.DeactivatedIDs, ServerVersion: push.ServerVersion})
}

type roomLearningWire struct {
	RoomID     string  `json:"room_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

func (h *Handler) handleKnowledgeLearnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var body struct {
		Learnings []roomLearningWire `json:"learnings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}

	batch := make([]knowledge.RawLearning, 0, len(body.Learnings))
	for _, l := range body.Learnings {
		record := domain.RoomLearningRecord{
			ID:         h.newID(),
			RoomID:     l.RoomID,
			Title:      l.Title,
			Content:    l.Content,
			Confidence: l.Confidence,
			ReceivedAt: h.now(),
		}
		if err := h.store.PutRoomLearning(r.Context(), record); err != nil {
			h.logger.Error("failed to persist room learning", map[string]interface{}{"room_id": l.RoomID, "error": err.Error()})
		}
		batch = append(batch, knowledge.RawLearning{RoomID: l.RoomID, Title: l.Title, Content: l.Content, Confidence: l.Confidence})
	}
	h.knowledge.AcceptLearnings(batch)

	produced := h.knowledge.AggregateLearnings()
	for _, entry := range produced {
		if err := h.store.PutKnowledgeEntry(r.Context(), entry); err != nil {
			h.logger.Error("failed to persist knowledge entry", map[string]interface{}{"entry_id": entry.ID, "error": err.Error()})
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"stored": len(batch)})
}

// ═══════════════════════════════════════════════════════════════════
// Approvals: POST /approvals/{id}
// ═══════════════════════════════════════════════════════════════════

func (h *Handler) handleApprovalsItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	id := extractID(r.URL.Path, "/approvals/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "approval id is required", "MISSING_APPROVAL_ID")
		return
	}
	var body struct {
		Approved   bool   `json:"approved"`
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	resolved, err := h.approvals.Resolve(id, body.Approved, body.ResolvedBy)
	if err != nil {
		writeError(w, http.StatusNotFound, "approval request not found", "APPROVAL_NOT_FOUND")
		return
	}
	if err := h.store.PutApprovalRequest(r.Context(), resolved); err != nil {
		h.logger.Error("failed to persist approval resolution", map[string]interface{}{"approval_id": id, "error": err.Error()})
	}
	writeJSON(w, http.StatusOK, resolved)
}
