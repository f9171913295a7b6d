package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

const DefaultDelegationTimeout = 60 * time.Second

// DelegationResult is the normalized outcome of a room delegation attempt.
type DelegationResult struct {
	Success   bool
	Response  *domain.TaskResponse
	Error     string
	RoomID    string
	LatencyMS int64
}

// delegationPayload is the wire shape POSTed to a room's /task endpoint.
type delegationPayload struct {
	Query      string                 `json:"query"`
	Instrument string                 `json:"instrument"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// roomResponse is the loosely-typed shape a room may reply with; fields
// are normalized defensively since rooms are untrusted remote processes.
type roomResponse struct {
	Outcome            string        `json:"outcome"`
	Findings           []interface{} `json:"findings"`
	Summary            string        `json:"summary"`
	Confidence         float64       `json:"confidence"`
	Iterations         int           `json:"iterations"`
	SourcesConsulted   []string      `json:"sources_consulted"`
	SuggestedFollowups []string      `json:"suggested_followups"`
}

// Client delegates task execution to a remote Room over HTTP.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    DefaultDelegationTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.httpClient = h } }
func WithTimeout(d time.Duration) ClientOption   { return func(c *Client) { c.timeout = d } }

// Delegate POSTs query+instrument+context to room.URL+"/task" and
// normalizes the response. Never returns an error: transport and
// protocol failures are folded into a failed DelegationResult so the
// Conductor can uniformly decide whether to fall back to local execution.
func (c *Client) Delegate(ctx context.Context, room domain.RoomInfo, query, instrument string, taskContext map[string]interface{}) DelegationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(delegationPayload{Query: query, Instrument: instrument, Context: taskContext})
	if err != nil {
		return failure(room.RoomID, fmt.Sprintf("encoding request: %v", err), start)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(room.URL, "/")+"/task", bytes.NewReader(body))
	if err != nil {
		return failure(room.RoomID, fmt.Sprintf("building request: %v", err), start)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(room.RoomID, "delegation timed out", start)
		}
		return failure(room.RoomID, fmt.Sprintf("connection error: %v", err), start)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(room.RoomID, fmt.Sprintf("room returned HTTP %d", resp.StatusCode), start)
	}

	var raw roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return failure(room.RoomID, fmt.Sprintf("decoding response: %v", err), start)
	}

	response := normalize(raw, room.RoomID, instrument)
	return DelegationResult{
		Success:   true,
		Response:  &response,
		RoomID:    room.RoomID,
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

func failure(roomID, errMsg string, start time.Time) DelegationResult {
	return DelegationResult{Success: false, Error: errMsg, RoomID: roomID, LatencyMS: time.Since(start).Milliseconds()}
}

// CheckHealth GETs room.URL+"/health" with a short fixed timeout.
func (c *Client) CheckHealth(ctx context.Context, room domain.RoomInfo) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(room.URL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// normalize maps a room's loosely-typed reply onto the canonical
// TaskResponse shape. This is the single normalization boundary spec.md
// calls for: downstream code never sees room-specific shapes.
func normalize(raw roomResponse, roomID, instrument string) domain.TaskResponse {
	outcome := normalizeOutcome(raw.Outcome)
	findings := make([]domain.Finding, 0, len(raw.Findings))
	for _, f := range raw.Findings {
		findings = append(findings, normalizeFinding(f))
	}

	result := domain.InstrumentResult{
		Outcome:            outcome,
		Findings:           findings,
		Summary:            raw.Summary,
		Confidence:         raw.Confidence,
		Iterations:         raw.Iterations,
		SourcesConsulted:   raw.SourcesConsulted,
		SuggestedFollowups: raw.SuggestedFollowups,
	}
	if result.Iterations == 0 {
		result.Iterations = 1
	}

	return domain.TaskResponse{
		Result: result,
		Metadata: domain.ExecutionMetadata{
			InstrumentUsed:   fmt.Sprintf("room:%s/%s", roomID, instrument),
			Iterations:       result.Iterations,
			SourcesConsulted: append([]string{fmt.Sprintf("room:%s", roomID)}, raw.SourcesConsulted...),
			ProcessType:      domain.ProcessSemiAutonomic,
			RoomID:           roomID,
		},
	}
}

func normalizeOutcome(raw string) domain.Outcome {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.OutcomeComplete):
		return domain.OutcomeComplete
	case string(domain.OutcomeSaturated):
		return domain.OutcomeSaturated
	case string(domain.OutcomeBounded):
		return domain.OutcomeBounded
	case string(domain.OutcomeInconclusive):
		return domain.OutcomeInconclusive
	default:
		return domain.OutcomeInconclusive
	}
}

// normalizeFinding accepts either a bare string or a {content,source,
// confidence} object, matching the Python reference's dict-or-string
// handling.
func normalizeFinding(raw interface{}) domain.Finding {
	switch v := raw.(type) {
	case string:
		return domain.Finding{Content: v, Confidence: 0.5}
	case map[string]interface{}:
		f := domain.Finding{}
		if content, ok := v["content"].(string); ok {
			f.Content = content
		}
		if source, ok := v["source"].(string); ok {
			f.Source = source
		}
		if confidence, ok := v["confidence"].(float64); ok {
			f.Confidence = confidence
		} else {
			f.Confidence = 0.5
		}
		return f
	default:
		return domain.Finding{Content: fmt.Sprintf("%v", raw), Confidence: 0.5}
	}
}
