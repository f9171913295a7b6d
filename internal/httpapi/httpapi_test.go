package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/approval"
	"github.com/mattdarbro/loop-symphony-sub001/internal/conductor"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/errtracker"
	"github.com/mattdarbro/loop-symphony-sub001/internal/events"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
	"github.com/mattdarbro/loop-symphony-sub001/internal/knowledge"
	"github.com/mattdarbro/loop-symphony-sub001/internal/privacy"
	"github.com/mattdarbro/loop-symphony-sub001/internal/rooms"
	"github.com/mattdarbro/loop-symphony-sub001/internal/store"
	"github.com/mattdarbro/loop-symphony-sub001/internal/tasks"
	"github.com/mattdarbro/loop-symphony-sub001/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	st.PutApp(domain.App{ID: "app-1", APIKey: "secret-key", IsActive: true})

	note := &stubNote{}
	resolver := func(mode conductor.Mode) (instruments.Instrument, bool) {
		if mode == conductor.ModeNote {
			return note, true
		}
		return nil, false
	}

	roomRegistry := rooms.New()
	roomClient := rooms.NewClient()
	privacyClassifier := privacy.New(privacy.Options{})
	trustTracker := trust.NewTracker()
	policyEngine := trust.NewPolicyEngine(nil)
	errTracker := errtracker.New()
	bus := events.New()

	cond := conductor.New(resolver, roomRegistry, roomClient, privacyClassifier, trustTracker, policyEngine, errTracker, bus)
	taskManager := tasks.New()
	km := knowledge.New()
	approvals := approval.New()

	h := New(st, taskManager, bus, roomRegistry, cond, km, approvals)
	return h, st
}

// stubNote is a minimal Instrument standing in for internal/instruments.Note
// without requiring a configured registry.ReasoningTool.
type stubNote struct{}

func (s *stubNote) Name() string                   { return "note" }
func (s *stubNote) MaxIterations() int              { return 1 }
func (s *stubNote) RequiredCapabilities() []string  { return nil }
func (s *stubNote) OptionalCapabilities() []string  { return nil }
func (s *stubNote) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	return domain.InstrumentResult{Outcome: domain.OutcomeComplete, Summary: "ok", Confidence: 0.9}, nil
}

func waitForTerminal(t *testing.T, mux *http.ServeMux, taskID, apiKey string) taskPendingResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/tasks/"+taskID, nil)
		req.Header.Set("X-Api-Key", apiKey)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		var resp taskPendingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		if resp.Status == string(tasks.StateCompleted) || resp.Status == string(tasks.StateFailed) {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return taskPendingResponse{}
}

func TestHandleTaskSubmit_RejectsMissingAPIKey(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"query":"hello"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleTaskSubmit_RejectsInactiveApp(t *testing.T) {
	h, st := newTestHandler(t)
	st.PutApp(domain.App{ID: "app-2", APIKey: "disabled-key", IsActive: false})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"query":"hello"}`))
	req.Header.Set("X-Api-Key", "disabled-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleTaskSubmit_CompletesAndIsPollable(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"query":"what time is it"}`))
	req.Header.Set("X-Api-Key", "secret-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitResp taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	require.NotEmpty(t, submitResp.TaskID)

	final := waitForTerminal(t, mux, submitResp.TaskID, "secret-key")
	assert.Equal(t, string(tasks.StateCompleted), final.Status)
}

func TestHandleTaskGet_UnknownTaskIs404(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil)
	req.Header.Set("X-Api-Key", "secret-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTaskCancel_IsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"query":"hello there"}`))
	req.Header.Set("X-Api-Key", "secret-key")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var submitResp taskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))

	waitForTerminal(t, mux, submitResp.TaskID, "secret-key")

	cancelReq := httptest.NewRequest(http.MethodPost, "/tasks/"+submitResp.TaskID+"/cancel", nil)
	cancelReq.Header.Set("X-Api-Key", "secret-key")
	cancelRec := httptest.NewRecorder()
	mux.ServeHTTP(cancelRec, cancelReq)
	assert.Equal(t, http.StatusOK, cancelRec.Code)

	var cancelResp map[string]bool
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &cancelResp))
	assert.False(t, cancelResp["cancelled"])
}

func TestHandleRoomsRegisterAndHeartbeat(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	registerReq := httptest.NewRequest(http.MethodPost, "/rooms/register", bytes.NewBufferString(`{"room_id":"room-1","room_name":"edge","room_type":"local","capabilities":["vision"]}`))
	registerRec := httptest.NewRecorder()
	mux.ServeHTTP(registerRec, registerReq)
	require.Equal(t, http.StatusOK, registerRec.Code)

	heartbeatReq := httptest.NewRequest(http.MethodPost, "/rooms/heartbeat", bytes.NewBufferString(`{"room_id":"room-1"}`))
	heartbeatRec := httptest.NewRecorder()
	mux.ServeHTTP(heartbeatRec, heartbeatReq)
	assert.Equal(t, http.StatusOK, heartbeatRec.Code)

	unknownReq := httptest.NewRequest(http.MethodPost, "/rooms/heartbeat", bytes.NewBufferString(`{"room_id":"never-registered"}`))
	unknownRec := httptest.NewRecorder()
	mux.ServeHTTP(unknownRec, unknownReq)
	assert.Equal(t, http.StatusNotFound, unknownRec.Code)
}

func TestHandleHeartbeatsCreateAndList(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	createReq := httptest.NewRequest(http.MethodPost, "/heartbeats", bytes.NewBufferString(`{"app_id":"app-1","name":"daily digest","cron_expression":"0 9 * * *"}`))
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusOK, createRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/heartbeats", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var list []domain.Heartbeat
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "daily digest", list[0].Name)
}

func TestHandleKnowledgeLearnings_StoresAndReportsCount(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body := `{"learnings":[{"room_id":"room-1","title":"quirk","content":"retries help","confidence":0.6}]}`
	req := httptest.NewRequest(http.MethodPost, "/knowledge/learnings", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["stored"])
}

func TestHandleApprovalsItem_UnknownIs404(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/approvals/missing", bytes.NewBufferString(`{"approved":true,"resolved_by":"alice"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
