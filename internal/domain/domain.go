// Package domain holds the data model shared across the orchestration
// engine: requests, findings, outcomes and the records that survive a
// single task's lifetime.
package domain

import "time"

// Outcome is the terminal classification of a task or instrument run.
type Outcome string

const (
	OutcomeComplete     Outcome = "COMPLETE"
	OutcomeSaturated    Outcome = "SATURATED"
	OutcomeBounded      Outcome = "BOUNDED"
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// ProcessType classifies how autonomously a task ran.
type ProcessType string

const (
	ProcessAutonomic     ProcessType = "AUTONOMIC"
	ProcessSemiAutonomic ProcessType = "SEMI_AUTONOMIC"
	ProcessConscious     ProcessType = "CONSCIOUS"
)

// Thoroughness is a client-supplied routing hint.
type Thoroughness string

const (
	ThoroughnessQuick     Thoroughness = "quick"
	ThoroughnessBalanced  Thoroughness = "balanced"
	ThoroughnessThorough  Thoroughness = "thorough"
)

// Preferences is the client-controlled part of a TaskRequest.
type Preferences struct {
	Thoroughness     Thoroughness `json:"thoroughness"`
	TrustLevel       int          `json:"trust_level"`
	NotifyOnComplete bool         `json:"notify_on_complete"`
	MaxSpawnDepth    *int         `json:"max_spawn_depth,omitempty"`
}

// TaskRequest is immutable post-submission.
type TaskRequest struct {
	ID          string       `json:"id"`
	Query       string       `json:"query"`
	Context     *TaskContext `json:"context,omitempty"`
	Preferences Preferences  `json:"preferences"`

	// Arrangement, when present, explicitly invokes the Composition
	// Engine or Loop Planner/Executor instead of routing the query
	// through the Conductor's usual keyword/shape classifier.
	Arrangement *Arrangement `json:"arrangement,omitempty"`
}

// ArrangementType selects which higher-level execution mode an explicit
// Arrangement invokes.
type ArrangementType string

const (
	ArrangementSequential ArrangementType = "sequential"
	ArrangementParallel   ArrangementType = "parallel"
	ArrangementLoop       ArrangementType = "loop"
)

// ArrangementPhase is the wire form of a loop.Phase, or (for Sequential)
// of a composition.StepConfig reduced to its instrument name.
type ArrangementPhase struct {
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	Action         string `json:"action,omitempty"`
	Instrument     string `json:"instrument,omitempty"`
	PromptTemplate string `json:"prompt_template,omitempty"`
	MaxIterations  int    `json:"max_iterations,omitempty"`
}

// Arrangement is the client-proposed plan for Composition/Loop modes:
// Sequential/Parallel name instruments directly, Loop goes through
// Validate before Execute. Branches names parallel instrument branches;
// Phases carries Sequential steps or a Loop proposal's phases.
type Arrangement struct {
	Type                ArrangementType    `json:"type"`
	Phases              []ArrangementPhase `json:"phases,omitempty"`
	Branches            []string           `json:"branches,omitempty"`
	MergeInstrument     string             `json:"merge_instrument,omitempty"`
	BranchTimeoutSeconds int               `json:"branch_timeout_seconds,omitempty"`
	MaxTotalIterations  int                `json:"max_total_iterations,omitempty"`
	TerminationCriteria string             `json:"termination_criteria,omitempty"`
}

// TaskContext threads state through pipeline stages and spawn depth.
type TaskContext struct {
	UserID              string        `json:"user_id,omitempty"`
	AppID               string        `json:"app_id,omitempty"`
	ConversationSummary string        `json:"conversation_summary,omitempty"`
	Attachments         []string      `json:"attachments,omitempty"`
	Location            string        `json:"location,omitempty"`
	InputResults        []interface{} `json:"input_results,omitempty"`
	Depth               int           `json:"depth"`
	MaxDepth            int           `json:"max_depth"`
	Intent              string        `json:"intent,omitempty"`
}

// WithInputResults returns a shallow copy of ctx with InputResults replaced.
// Mirrors the "context.model_copy(update={...})" threading pattern used
// between composition/loop phases: never mutate a shared TaskContext.
func (ctx TaskContext) WithInputResults(results []interface{}) TaskContext {
	clone := ctx
	clone.InputResults = results
	return clone
}

// ChildDepth returns a copy of ctx with Depth incremented, erroring if the
// new depth would exceed MaxDepth.
func (ctx TaskContext) ChildDepth() (TaskContext, error) {
	if ctx.MaxDepth == 0 {
		ctx.MaxDepth = 3
	}
	if ctx.Depth+1 > ctx.MaxDepth {
		return ctx, DepthExceededError{Current: ctx.Depth + 1, Max: ctx.MaxDepth}
	}
	clone := ctx
	clone.Depth = ctx.Depth + 1
	return clone, nil
}

// DepthExceededError is returned when a spawn phase would exceed MaxDepth.
type DepthExceededError struct {
	Current int
	Max     int
}

func (e DepthExceededError) Error() string {
	return "spawn depth exceeded"
}

// Finding is an atomic unit of evidence.
type Finding struct {
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

// InstrumentResult is what every Instrument, Composition and Loop returns.
type InstrumentResult struct {
	Outcome             Outcome   `json:"outcome"`
	Findings            []Finding `json:"findings"`
	Summary             string    `json:"summary"`
	Confidence          float64   `json:"confidence"`
	Iterations          int       `json:"iterations"`
	SourcesConsulted    []string  `json:"sources_consulted"`
	Discrepancy         string    `json:"discrepancy,omitempty"`
	SuggestedFollowups  []string  `json:"suggested_followups,omitempty"`
}

// ExecutionMetadata accompanies an InstrumentResult in a TaskResponse.
type ExecutionMetadata struct {
	InstrumentUsed   string      `json:"instrument_used"`
	Iterations       int         `json:"iterations"`
	DurationMS       int64       `json:"duration_ms"`
	SourcesConsulted []string    `json:"sources_consulted"`
	ProcessType      ProcessType `json:"process_type"`
	RoomID           string      `json:"room_id,omitempty"`
}

// TaskResponse is the terminal payload for GET /tasks/{id}.
type TaskResponse struct {
	RequestID string            `json:"request_id"`
	Result    InstrumentResult  `json:"result"`
	Metadata  ExecutionMetadata `json:"metadata"`
}

// ToolManifest describes a tool; immutable once registered.
type ToolManifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	ConfigKeys   []string `json:"config_keys" yaml:"config_keys"`
}

// RoomStatus is the liveness state of a Room.
type RoomStatus string

const (
	RoomOnline   RoomStatus = "online"
	RoomDegraded RoomStatus = "degraded"
	RoomOffline  RoomStatus = "offline"
)

// RoomInfo describes a local or remote execution endpoint.
type RoomInfo struct {
	RoomID        string     `json:"room_id"`
	RoomName      string     `json:"room_name"`
	RoomType      string     `json:"room_type"`
	URL           string     `json:"url"`
	Capabilities  []string   `json:"capabilities"`
	Instruments   []string   `json:"instruments"`
	Status        RoomStatus `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// Heartbeat is a scheduled recurring TaskRequest template.
type Heartbeat struct {
	ID              string            `json:"id"`
	AppID           string            `json:"app_id"`
	UserID          string            `json:"user_id,omitempty"`
	Name            string            `json:"name"`
	QueryTemplate   string            `json:"query_template"`
	CronExpression  string            `json:"cron_expression"`
	Timezone        string            `json:"timezone"`
	IsActive        bool              `json:"is_active"`
	ContextTemplate map[string]string `json:"context_template,omitempty"`
	WebhookURL      string            `json:"webhook_url,omitempty"`
}

// HeartbeatRunStatus is the lifecycle state of one scheduled execution.
type HeartbeatRunStatus string

const (
	HeartbeatRunPending   HeartbeatRunStatus = "PENDING"
	HeartbeatRunRunning   HeartbeatRunStatus = "RUNNING"
	HeartbeatRunCompleted HeartbeatRunStatus = "COMPLETED"
	HeartbeatRunFailed    HeartbeatRunStatus = "FAILED"
)

// HeartbeatRun records one tick's execution of a Heartbeat.
type HeartbeatRun struct {
	ID           string             `json:"id"`
	HeartbeatID  string             `json:"heartbeat_id"`
	TaskID       string             `json:"task_id,omitempty"`
	Status       HeartbeatRunStatus `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalDenied   ApprovalStatus = "DENIED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// ApprovalRequest gates an action while trust is insufficient.
type ApprovalRequest struct {
	ID          string                 `json:"id"`
	ConductorID string                 `json:"conductor_id"`
	ActionType  string                 `json:"action_type"`
	Description string                 `json:"description"`
	Context     map[string]interface{} `json:"context,omitempty"`
	TrustLevel  int                    `json:"trust_level"`
	Status      ApprovalStatus         `json:"status"`
	RequestedAt time.Time              `json:"requested_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy  string                 `json:"resolved_by,omitempty"`
	TTLSeconds  int                    `json:"ttl_seconds"`
}

// PolicyAction is the verdict a PolicyRule produces.
type PolicyAction string

const (
	PolicyAllow            PolicyAction = "ALLOW"
	PolicyDeny             PolicyAction = "DENY"
	PolicyRequireApproval  PolicyAction = "REQUIRE_APPROVAL"
)

// PolicyRule gates an action_type by trust-level bracket.
type PolicyRule struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	ActionTypes     []string     `json:"action_types" yaml:"action_types"`
	MinTrustLevel   int          `json:"min_trust_level" yaml:"min_trust_level"`
	MaxTrustLevel   int          `json:"max_trust_level" yaml:"max_trust_level"`
	Action          PolicyAction `json:"action"`
	Priority        int          `json:"priority"`
}

// KnowledgeCategory classifies a KnowledgeEntry.
type KnowledgeCategory string

const (
	KnowledgeCapabilities KnowledgeCategory = "capabilities"
	KnowledgeBoundaries   KnowledgeCategory = "boundaries"
	KnowledgePatterns     KnowledgeCategory = "patterns"
	KnowledgeChangelog    KnowledgeCategory = "changelog"
	KnowledgeUser         KnowledgeCategory = "user"
)

// KnowledgeSource records provenance of a KnowledgeEntry.
type KnowledgeSource string

const (
	KnowledgeSourceSeed         KnowledgeSource = "seed"
	KnowledgeSourceErrorTracker KnowledgeSource = "error_tracker"
	KnowledgeSourceAggregated   KnowledgeSource = "aggregated"
	KnowledgeSourceRoomLearning KnowledgeSource = "room_learning"
	KnowledgeSourceManual       KnowledgeSource = "manual"
)

// KnowledgeEntry is a versioned, syncable fact.
type KnowledgeEntry struct {
	ID         string            `json:"id"`
	Category   KnowledgeCategory `json:"category"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Source     KnowledgeSource   `json:"source"`
	Confidence float64           `json:"confidence"`
	Tags       []string          `json:"tags,omitempty"`
	Version    int64             `json:"version"`
	IsActive   bool              `json:"is_active"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ErrorCategory classifies a recorded error.
type ErrorCategory string

const (
	ErrorAPIFailure         ErrorCategory = "api_failure"
	ErrorTimeout            ErrorCategory = "timeout"
	ErrorRateLimited        ErrorCategory = "rate_limited"
	ErrorLowConfidence      ErrorCategory = "low_confidence"
	ErrorContradictions     ErrorCategory = "contradictions"
	ErrorNoResults          ErrorCategory = "no_results"
	ErrorValidation         ErrorCategory = "validation"
	ErrorDepthExceeded      ErrorCategory = "depth_exceeded"
	ErrorContextOverflow    ErrorCategory = "context_overflow"
	ErrorInstrumentFailure  ErrorCategory = "instrument_failure"
	ErrorArrangementFailure ErrorCategory = "arrangement_failure"
	ErrorToolFailure        ErrorCategory = "tool_failure"
	ErrorUnknown            ErrorCategory = "unknown"
)

// ErrorSeverity ranks how serious a recorded error is.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorRecord is a single observed failure.
type ErrorRecord struct {
	ID         string        `json:"id"`
	Category   ErrorCategory `json:"category"`
	Severity   ErrorSeverity `json:"severity"`
	Instrument string        `json:"instrument,omitempty"`
	Tool       string        `json:"tool,omitempty"`
	Message    string        `json:"message"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ErrorPattern aggregates identical (category, instrument?, tool?) errors.
type ErrorPattern struct {
	Category        ErrorCategory `json:"category"`
	Instrument      string        `json:"instrument,omitempty"`
	Tool            string        `json:"tool,omitempty"`
	OccurrenceCount int           `json:"occurrence_count"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	SuggestedAction string        `json:"suggested_action,omitempty"`
}

// TrustMetrics is keyed by (app_id, user_id?); user_id="" is a distinct
// app-wide key, not a fallback.
type TrustMetrics struct {
	AppID                string    `json:"app_id"`
	UserID               string    `json:"user_id,omitempty"`
	TotalTasks           int       `json:"total_tasks"`
	SuccessfulTasks      int       `json:"successful_tasks"`
	FailedTasks          int       `json:"failed_tasks"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	CurrentTrustLevel    int       `json:"current_trust_level"`
	LastTaskAt           time.Time `json:"last_task_at,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// SuccessRate is successful_tasks / total_tasks, or 0 with no tasks yet.
func (m TrustMetrics) SuccessRate() float64 {
	if m.TotalTasks == 0 {
		return 0
	}
	return float64(m.SuccessfulTasks) / float64(m.TotalTasks)
}

// SuggestedTrustLevel applies the upgrade table from spec §4.11. It never
// suggests below CurrentTrustLevel.
func (m TrustMetrics) SuggestedTrustLevel() int {
	switch m.CurrentTrustLevel {
	case 0:
		if m.ConsecutiveSuccesses >= 5 && m.SuccessRate() >= 0.80 {
			return 1
		}
	case 1:
		if m.ConsecutiveSuccesses >= 10 && m.SuccessRate() >= 0.90 {
			return 2
		}
	case 2:
		if m.ConsecutiveSuccesses >= 20 && m.SuccessRate() >= 0.95 {
			return 3
		}
	}
	return m.CurrentTrustLevel
}

// ShouldSuggestUpgrade reports whether SuggestedTrustLevel exceeds the
// current level.
func (m TrustMetrics) ShouldSuggestUpgrade() bool {
	return m.SuggestedTrustLevel() > m.CurrentTrustLevel
}

// App is the caller identity resolved from an X-Api-Key header.
type App struct {
	ID        string    `json:"id"`
	APIKey    string    `json:"api_key"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserProfile is the optional caller identity resolved from an
// X-User-Id header, scoped within an App.
type UserProfile struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomLearningRecord is the persisted form of a room-reported learning,
// pending aggregation into a KnowledgeEntry.
type RoomLearningRecord struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Processed  bool      `json:"processed"`
	ReceivedAt time.Time `json:"received_at"`
}

// EventName enumerates the SSE event types the Event Bus carries.
type EventName string

const (
	EventStarted   EventName = "started"
	EventIteration EventName = "iteration"
	EventComplete  EventName = "complete"
	EventError     EventName = "error"
)

// Event is one EventBus message.
type Event struct {
	TaskID    string                 `json:"task_id"`
	Event     EventName              `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
