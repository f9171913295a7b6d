// Package conductor implements the Conductor (C6): the entry point that
// classifies, routes, gates, executes and records every TaskRequest.
package conductor

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/composition"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/errtracker"
	"github.com/mattdarbro/loop-symphony-sub001/internal/events"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
	"github.com/mattdarbro/loop-symphony-sub001/internal/intervention"
	"github.com/mattdarbro/loop-symphony-sub001/internal/loop"
	"github.com/mattdarbro/loop-symphony-sub001/internal/privacy"
	"github.com/mattdarbro/loop-symphony-sub001/internal/rooms"
	"github.com/mattdarbro/loop-symphony-sub001/internal/trust"
)

// defaultMergeInstrumentName is the merge instrument Parallel uses when
// an Arrangement doesn't name one explicitly.
const defaultMergeInstrumentName = "synthesis"

// Mode is the routing decision for a TaskRequest.
type Mode string

const (
	ModeNote        Mode = "note"
	ModeResearch    Mode = "research"
	ModeVision      Mode = "vision"
	ModeFalcon      Mode = "falcon"
	ModeComposition Mode = "composition"
	ModeLoop        Mode = "loop"
)

// processTypeFor maps an execution mode to the ExecutionMetadata
// process_type spec.md names: Note is fully autonomic; Research,
// Synthesis and Vision run with a human-legible trail attached
// (SEMI_AUTONOMIC); Composition/Loop orchestrate multiple instruments
// and count as CONSCIOUS.
func processTypeFor(mode Mode) domain.ProcessType {
	switch mode {
	case ModeNote:
		return domain.ProcessAutonomic
	case ModeResearch, ModeVision, ModeFalcon:
		return domain.ProcessSemiAutonomic
	default:
		return domain.ProcessConscious
	}
}

// actionTypeFor maps a mode to the Policy Engine's action_type vocabulary.
func actionTypeFor(mode Mode) string {
	switch mode {
	case ModeResearch:
		return "research"
	case ModeVision, ModeFalcon, ModeComposition, ModeLoop:
		return "execution"
	default:
		return "note"
	}
}

var researchKeywords = []string{"research", "compare", "investigate", "analyze", "pros and cons", "vs", "versus"}

var complexPatterns = regexp.MustCompile(`(?i)\b(vs\.?|versus|compared to)\b`)

// classifyMode implements the routing heuristic from this module's
// design note: image attachment beats keyword/shape heuristics beats
// the Note default.
func classifyMode(query string, attachments []string, thoroughness domain.Thoroughness) Mode {
	if instruments.HasImageAttachment(attachments) {
		return ModeVision
	}

	lower := strings.ToLower(query)
	if thoroughness == domain.ThoroughnessThorough {
		return ModeResearch
	}
	for _, kw := range researchKeywords {
		if strings.Contains(lower, kw) {
			return ModeResearch
		}
	}
	if complexPatterns.MatchString(query) {
		return ModeResearch
	}
	if len(strings.Fields(query)) > 20 {
		return ModeResearch
	}
	if strings.Count(query, "?") > 1 {
		return ModeResearch
	}
	return ModeNote
}

// modeFor routes an explicit Arrangement to Composition/Loop before
// falling back to classifyMode's heuristic, per spec.md's "triggered
// via dedicated endpoints or when the planner is explicitly invoked."
func modeFor(req domain.TaskRequest, taskContext domain.TaskContext) Mode {
	if req.Arrangement != nil {
		if req.Arrangement.Type == domain.ArrangementLoop {
			return ModeLoop
		}
		return ModeComposition
	}
	return classifyMode(req.Query, taskContext.Attachments, req.Preferences.Thoroughness)
}

// InstrumentResolver looks up a constructed Instrument by mode name.
type InstrumentResolver func(mode Mode) (instruments.Instrument, bool)

// InstrumentByNameResolver looks up a constructed Instrument by its own
// declared Name(), the seam Composition/Loop phases address instruments
// through instead of the mode enum.
type InstrumentByNameResolver func(name string) (instruments.Instrument, bool)

// Conductor wires together every gating and execution component behind
// a single Execute entry point.
type Conductor struct {
	resolveInstrument       InstrumentResolver
	resolveInstrumentByName InstrumentByNameResolver
	roomRegistry            *rooms.Registry
	roomClient              *rooms.Client
	privacy                 *privacy.Classifier
	trustTracker            *trust.Tracker
	policyEngine            *trust.PolicyEngine
	errTracker              *errtracker.Tracker
	eventBus                *events.Bus
	logger                  core.Logger
	now                     func() time.Time
	promptRunner            loop.PromptRunner
	loopExecutor            *loop.Executor
}

func New(resolveInstrument InstrumentResolver, roomRegistry *rooms.Registry, roomClient *rooms.Client, privacyClassifier *privacy.Classifier, trustTracker *trust.Tracker, policyEngine *trust.PolicyEngine, errTracker *errtracker.Tracker, eventBus *events.Bus, opts ...Option) *Conductor {
	c := &Conductor{
		resolveInstrument:       resolveInstrument,
		resolveInstrumentByName: func(string) (instruments.Instrument, bool) { return nil, false },
		roomRegistry:            roomRegistry,
		roomClient:              roomClient,
		privacy:                 privacyClassifier,
		trustTracker:            trustTracker,
		policyEngine:            policyEngine,
		errTracker:              errTracker,
		eventBus:                eventBus,
		logger:                  core.NoOpLogger{},
		now:                     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loopExecutor = loop.NewExecutor(c.resolveInstrumentByName, c.promptRunner, conductorSpawner{c}, loop.WithLogger(c.logger))
	return c
}

type Option func(*Conductor)

func WithLogger(l core.Logger) Option       { return func(c *Conductor) { c.logger = l } }
func WithClock(now func() time.Time) Option { return func(c *Conductor) { c.now = now } }

// WithInstrumentByName wires the lookup Composition steps and Loop
// phases address instruments through (by their own declared Name(),
// not by Mode).
func WithInstrumentByName(resolve InstrumentByNameResolver) Option {
	return func(c *Conductor) { c.resolveInstrumentByName = resolve }
}

// WithPromptRunner wires the reasoning capability Loop's "prompt"-action
// phases call out to.
func WithPromptRunner(p loop.PromptRunner) Option {
	return func(c *Conductor) { c.promptRunner = p }
}

// ApprovalSubmitter is the seam for requesting human approval; the
// Conductor depends on it as an interface so internal/approval stays a
// leaf package.
type ApprovalSubmitter interface {
	Submit(conductorID, actionType, description string, context map[string]interface{}, trustLevel int, ttlSeconds int) domain.ApprovalRequest
}

// Outcome carries the result of one Execute call, including whether it
// short-circuited on a plan-approval response.
type Outcome struct {
	Response        domain.TaskResponse
	RequiresApproval bool
	ApprovalRequest  *domain.ApprovalRequest
	PolicyDenied    bool
}

// Execute runs the full pipeline: privacy -> routing -> room selection
// -> policy/trust gate -> execution -> outcome recording -> intervention.
func (c *Conductor) Execute(ctx context.Context, taskID string, req domain.TaskRequest, approvals ApprovalSubmitter) (Outcome, error) {
	taskContext := domain.TaskContext{}
	if req.Context != nil {
		taskContext = *req.Context
	}

	c.eventBus.Emit(taskID, domain.EventStarted, map[string]interface{}{"query": req.Query})

	classification := c.privacy.Classify(req.Query)

	mode := modeFor(req, taskContext)

	chosenRoom, roomRequired, filteredByPrivacy := c.selectRoom(mode, classification.ShouldStayLocal)
	if roomRequired && chosenRoom == nil {
		return c.bounded(ctx, taskID, mode, "request must stay local due to privacy level "+string(classification.Level)+", but no local room can serve "+string(mode)), nil
	}
	if classification.ShouldStayLocal && (chosenRoom != nil || filteredByPrivacy) {
		if _, ok := c.resolveInstrument(mode); !ok {
			return c.bounded(ctx, taskID, mode, "request must stay local due to privacy level "+string(classification.Level)+", and no local instrument can serve "+string(mode)), nil
		}
	}

	// Note runs fully autonomically (process_type AUTONOMIC) and is never
	// policy-gated; every other mode resolves an action_type and passes
	// through the Policy/Trust gate.
	if mode != ModeNote {
		actionType := actionTypeFor(mode)
		evaluation := c.policyEngine.Evaluate(actionType, req.Preferences.TrustLevel)

		switch evaluation.Action {
		case domain.PolicyDeny:
			c.eventBus.Emit(taskID, domain.EventError, map[string]interface{}{"reason": "policy denied"})
			return Outcome{PolicyDenied: true}, core.NewFrameworkError("Conductor.Execute", "policy", core.ErrPolicyDenied)
		case domain.PolicyRequireApproval:
			if req.Preferences.TrustLevel == 0 {
				approval := approvals.Submit(taskID, actionType, "approval required for "+string(mode)+": "+req.Query, nil, req.Preferences.TrustLevel, 0)
				return Outcome{RequiresApproval: true, ApprovalRequest: &approval}, nil
			}
		}
	}

	var result domain.InstrumentResult
	var instrumentUsed string
	if mode == ModeComposition || mode == ModeLoop {
		result, instrumentUsed = c.dispatchArrangement(ctx, mode, req.Arrangement, req.Query, taskContext)
	} else {
		result, instrumentUsed = c.dispatch(ctx, mode, req.Query, taskContext, chosenRoom)
	}

	c.trustTracker.RecordOutcome(taskContext.AppID, taskContext.UserID, result.Outcome)

	if result.Outcome == domain.OutcomeInconclusive {
		c.eventBus.Emit(taskID, domain.EventError, map[string]interface{}{"summary": result.Summary})
		c.errTracker.Record(domain.ErrorRecord{
			Category:   domain.ErrorInstrumentFailure,
			Severity:   domain.SeverityMedium,
			Instrument: instrumentUsed,
			Message:    result.Summary,
		})
	} else {
		c.eventBus.Emit(taskID, domain.EventComplete, map[string]interface{}{"outcome": string(result.Outcome)})
	}

	suggestions := intervention.Run(intervention.Context{
		Query:           req.Query,
		ResponseSummary: result.Summary,
		Outcome:         result.Outcome,
		Confidence:      result.Confidence,
		InstrumentUsed:  instrumentUsed,
		Intent:          taskContext.Intent,
		TrustLevel:      req.Preferences.TrustLevel,
		RecentErrorPatterns: c.errTracker.GetPatterns(),
	})
	result.SuggestedFollowups = append(result.SuggestedFollowups, suggestions...)

	response := domain.TaskResponse{
		RequestID: req.ID,
		Result:    result,
		Metadata: domain.ExecutionMetadata{
			InstrumentUsed:   instrumentUsed,
			Iterations:       result.Iterations,
			SourcesConsulted: result.SourcesConsulted,
			ProcessType:      processTypeFor(mode),
		},
	}
	if chosenRoom != nil {
		response.Metadata.RoomID = chosenRoom.RoomID
	}

	return Outcome{Response: response}, nil
}

func (c *Conductor) bounded(ctx context.Context, taskID string, mode Mode, reason string) Outcome {
	c.eventBus.Emit(taskID, domain.EventComplete, map[string]interface{}{"outcome": string(domain.OutcomeBounded)})
	return Outcome{
		Response: domain.TaskResponse{
			Result: domain.InstrumentResult{
				Outcome: domain.OutcomeBounded,
				Summary: reason,
			},
			Metadata: domain.ExecutionMetadata{ProcessType: processTypeFor(mode)},
		},
	}
}

// roomCapabilityFor names the capability a room must advertise to serve
// mode; Note always runs against the local reasoning tool and never
// needs a room.
func roomCapabilityFor(mode Mode) (capability string, required bool) {
	switch mode {
	case ModeResearch:
		return instruments.CapWebSearch, false
	case ModeVision:
		return instruments.CapVision, false
	case ModeFalcon:
		return instruments.CapShellExecution, true
	default:
		return "", false
	}
}

func isLocalRoomType(roomType string) bool {
	return roomType == "server" || roomType == "local"
}

// selectRoom implements room selection (spec §4.6 step 3): enumerate
// online rooms satisfying mode's capability, restrict to local rooms
// when privacy demands it, and score the remainder. required reports
// whether mode has no local execution path of its own (Falcon), in
// which case a nil room means the caller must return BOUNDED.
// filteredByPrivacy reports whether stayLocal filtering is what emptied
// an otherwise non-empty candidate set — distinct from "no rooms exist
// at all" — so Execute can tell a privacy-caused dead end (which must
// also check for a local instrument before giving up) from a mode that
// simply has no rooms registered anywhere.
func (c *Conductor) selectRoom(mode Mode, stayLocal bool) (room *domain.RoomInfo, required bool, filteredByPrivacy bool) {
	capability, required := roomCapabilityFor(mode)
	if capability == "" && !required {
		return nil, false, false
	}

	candidates := c.roomRegistry.GetRoomsByCapability(capability)
	hadCandidates := len(candidates) > 0
	if stayLocal {
		filtered := candidates[:0]
		for _, room := range candidates {
			if isLocalRoomType(room.RoomType) {
				filtered = append(filtered, room)
			}
		}
		candidates = filtered
		filteredByPrivacy = hadCandidates && len(candidates) == 0
	}

	var best *domain.RoomInfo
	bestScore := -1
	for _, room := range candidates {
		score := rooms.ScoreRoom(room, rooms.RoomRequest{PreferLocal: stayLocal})
		if score > bestScore {
			clone := room
			best = &clone
			bestScore = score
		}
	}
	return best, required, filteredByPrivacy
}

// dispatch runs the chosen mode via room delegation when the chosen room
// is non-local (falling back to local execution if delegation fails),
// otherwise locally via resolveInstrument, and returns the
// instrument_used label alongside the result.
func (c *Conductor) dispatch(ctx context.Context, mode Mode, query string, taskContext domain.TaskContext, room *domain.RoomInfo) (domain.InstrumentResult, string) {
	if room != nil && !isLocalRoomType(room.RoomType) {
		delegationResult := c.roomClient.Delegate(ctx, *room, query, string(mode), nil)
		if delegationResult.Success {
			return delegationResult.Response.Result, delegationResult.Response.Metadata.InstrumentUsed
		}
		c.logger.Warn("room delegation failed, falling back to local execution", map[string]interface{}{"room_id": room.RoomID, "error": delegationResult.Error})
	}

	instrument, ok := c.resolveInstrument(mode)
	if !ok {
		return domain.InstrumentResult{
			Outcome: domain.OutcomeInconclusive,
			Summary: "no instrument available for mode " + string(mode),
		}, string(mode)
	}

	result, err := instrument.Execute(ctx, query, taskContext)
	if err != nil {
		return domain.InstrumentResult{Outcome: domain.OutcomeInconclusive, Summary: err.Error()}, instrument.Name()
	}
	return result, instrument.Name()
}

// dispatchArrangement routes an explicitly-invoked Composition/Loop mode
// to its runner. Neither mode goes through room delegation: both operate
// purely on resolveInstrumentByName, the same seam a room-delegated
// instrument would eventually bottom out at on the far side.
func (c *Conductor) dispatchArrangement(ctx context.Context, mode Mode, arrangement *domain.Arrangement, query string, taskContext domain.TaskContext) (domain.InstrumentResult, string) {
	if arrangement == nil {
		return domain.InstrumentResult{
			Outcome: domain.OutcomeInconclusive,
			Summary: "mode " + string(mode) + " requires an arrangement",
		}, string(mode)
	}
	if mode == ModeLoop {
		return c.runLoop(ctx, arrangement, query, taskContext)
	}
	return c.runComposition(ctx, arrangement, query, taskContext)
}

// runComposition implements C4: Sequential threads steps in order,
// Parallel fans branches out and merges through mergeInstrument
// (defaulting to Synthesis).
func (c *Conductor) runComposition(ctx context.Context, arrangement *domain.Arrangement, query string, taskContext domain.TaskContext) (domain.InstrumentResult, string) {
	if arrangement.Type == domain.ArrangementParallel {
		mergeName := arrangement.MergeInstrument
		if mergeName == "" {
			mergeName = defaultMergeInstrumentName
		}
		merge, ok := c.resolveInstrumentByName(mergeName)
		if !ok {
			return domain.InstrumentResult{
				Outcome: domain.OutcomeInconclusive,
				Summary: "unknown merge instrument: " + mergeName,
			}, "composition:parallel"
		}
		branchTimeout := time.Duration(arrangement.BranchTimeoutSeconds) * time.Second
		result := composition.Parallel(ctx, arrangement.Branches, c.resolveInstrumentByName, merge, query, taskContext, branchTimeout)
		return result, "composition:parallel"
	}

	steps := make([]composition.StepConfig, 0, len(arrangement.Phases))
	for _, phase := range arrangement.Phases {
		steps = append(steps, composition.StepConfig{InstrumentName: phase.Instrument})
	}
	result := composition.Sequential(ctx, steps, c.resolveInstrumentByName, query, taskContext)
	return result, "composition:sequential"
}

// runLoop implements C5: translate the wire Arrangement into a
// loop.Proposal, validate it against the instruments actually
// resolvable right now, and hand it to the Executor.
func (c *Conductor) runLoop(ctx context.Context, arrangement *domain.Arrangement, query string, taskContext domain.TaskContext) (domain.InstrumentResult, string) {
	phases := make([]loop.Phase, 0, len(arrangement.Phases))
	known := make(map[string]bool)
	for _, phase := range arrangement.Phases {
		phases = append(phases, loop.Phase{
			Name:           phase.Name,
			Description:    phase.Description,
			Action:         loop.Action(phase.Action),
			Instrument:     phase.Instrument,
			PromptTemplate: phase.PromptTemplate,
			MaxIterations:  phase.MaxIterations,
		})
		if phase.Instrument == "" {
			continue
		}
		if _, ok := c.resolveInstrumentByName(phase.Instrument); ok {
			known[phase.Instrument] = true
		}
	}

	proposal := loop.Proposal{
		Phases:              phases,
		MaxTotalIterations:  arrangement.MaxTotalIterations,
		TerminationCriteria: arrangement.TerminationCriteria,
	}

	validation := loop.Validate(proposal, known)
	if !validation.Valid() {
		return domain.InstrumentResult{
			Outcome: domain.OutcomeInconclusive,
			Summary: "loop proposal invalid: " + strings.Join(validation.Errors, "; "),
		}, "loop"
	}

	result := c.loopExecutor.Execute(ctx, proposal, query, taskContext)
	return result, "loop"
}

// conductorSpawner implements loop.Spawner by recursively running the
// Conductor's own mode-classification and dispatch for a spawn phase's
// sub-query, skipping the top-level privacy/policy gate a spawned child
// already inherited approval for.
type conductorSpawner struct {
	c *Conductor
}

func (s conductorSpawner) Spawn(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	mode := classifyMode(query, taskContext.Attachments, domain.ThoroughnessBalanced)
	room, required, _ := s.c.selectRoom(mode, false)
	if required && room == nil {
		return domain.InstrumentResult{
			Outcome: domain.OutcomeBounded,
			Summary: "no room available for spawned mode " + string(mode),
		}, nil
	}
	result, _ := s.c.dispatch(ctx, mode, query, taskContext, room)
	return result, nil
}
