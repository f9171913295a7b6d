package conductor

import (
	"context"
	"testing"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/errtracker"
	"github.com/mattdarbro/loop-symphony-sub001/internal/events"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
	"github.com/mattdarbro/loop-symphony-sub001/internal/privacy"
	"github.com/mattdarbro/loop-symphony-sub001/internal/rooms"
	"github.com/mattdarbro/loop-symphony-sub001/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstrument struct {
	name   string
	result domain.InstrumentResult
}

func (f fakeInstrument) Name() string                   { return f.name }
func (f fakeInstrument) MaxIterations() int             { return 1 }
func (f fakeInstrument) RequiredCapabilities() []string { return nil }
func (f fakeInstrument) OptionalCapabilities() []string { return nil }
func (f fakeInstrument) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	return f.result, nil
}

type fakeApprovals struct {
	submitted []domain.ApprovalRequest
}

func (f *fakeApprovals) Submit(conductorID, actionType, description string, context map[string]interface{}, trustLevel int, ttlSeconds int) domain.ApprovalRequest {
	req := domain.ApprovalRequest{ID: "approval-1", ConductorID: conductorID, ActionType: actionType, Status: domain.ApprovalPending}
	f.submitted = append(f.submitted, req)
	return req
}

func newTestConductor(resolve InstrumentResolver) *Conductor {
	return New(
		resolve,
		rooms.New(),
		rooms.NewClient(),
		privacy.New(privacy.Options{}),
		trust.NewTracker(),
		trust.NewPolicyEngine(trust.DefaultPolicyRules()),
		errtracker.New(),
		events.New(),
	)
}

func TestExecute_NotePath(t *testing.T) {
	resolve := func(mode Mode) (instruments.Instrument, bool) {
		if mode == ModeNote {
			return fakeInstrument{name: "note", result: domain.InstrumentResult{
				Outcome:    domain.OutcomeComplete,
				Findings:   []domain.Finding{{Content: "Paris.", Confidence: 0.9}},
				Summary:    "Paris.",
				Confidence: 0.9,
				Iterations: 1,
			}}, true
		}
		return nil, false
	}

	c := newTestConductor(resolve)
	req := domain.TaskRequest{ID: "task-1", Query: "What is the capital of France?"}

	outcome, err := c.Execute(context.Background(), "task-1", req, &fakeApprovals{})
	require.NoError(t, err)
	require.False(t, outcome.RequiresApproval)

	result := outcome.Response.Result
	assert.Equal(t, domain.OutcomeComplete, result.Outcome)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "Paris.", result.Findings[0].Content)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, domain.ProcessAutonomic, outcome.Response.Metadata.ProcessType)
	assert.Equal(t, "note", outcome.Response.Metadata.InstrumentUsed)
}

func TestExecute_ResearchRequiresApprovalAtTrustZero(t *testing.T) {
	resolve := func(mode Mode) (instruments.Instrument, bool) {
		return fakeInstrument{name: "research", result: domain.InstrumentResult{Outcome: domain.OutcomeComplete}}, true
	}
	c := newTestConductor(resolve)
	approvals := &fakeApprovals{}
	req := domain.TaskRequest{
		ID:    "task-2",
		Query: "compare solar and wind energy economics across three continents in detail",
	}

	outcome, err := c.Execute(context.Background(), "task-2", req, approvals)
	require.NoError(t, err)
	assert.True(t, outcome.RequiresApproval)
	assert.Len(t, approvals.submitted, 1)
}

func TestExecute_ResearchAllowedAtTrustLevelOne(t *testing.T) {
	resolve := func(mode Mode) (instruments.Instrument, bool) {
		return fakeInstrument{name: "research", result: domain.InstrumentResult{Outcome: domain.OutcomeComplete, Confidence: 0.8, Iterations: 2}}, true
	}
	c := newTestConductor(resolve)
	req := domain.TaskRequest{
		ID:          "task-3",
		Query:       "compare solar and wind energy economics",
		Preferences: domain.Preferences{TrustLevel: 1},
	}

	outcome, err := c.Execute(context.Background(), "task-3", req, &fakeApprovals{})
	require.NoError(t, err)
	assert.False(t, outcome.RequiresApproval)
	assert.Equal(t, domain.OutcomeComplete, outcome.Response.Result.Outcome)
}

func TestSelectRoom_FalconRequiresRoomAndReturnsNilWhenPrivacyExcludesRemotes(t *testing.T) {
	registry := rooms.New()
	registry.Register(domain.RoomInfo{
		RoomID:       "remote-1",
		RoomType:     "room",
		Capabilities: []string{instruments.CapShellExecution},
		Status:       domain.RoomOnline,
	})
	c := newTestConductor(func(mode Mode) (instruments.Instrument, bool) { return nil, false })
	c.roomRegistry = registry

	room, required, _ := c.selectRoom(ModeFalcon, true)
	assert.True(t, required)
	assert.Nil(t, room)
}

func TestSelectRoom_FalconFindsRemoteRoomWhenPrivacyAllows(t *testing.T) {
	registry := rooms.New()
	registry.Register(domain.RoomInfo{
		RoomID:       "remote-1",
		RoomType:     "room",
		Capabilities: []string{instruments.CapShellExecution},
		Status:       domain.RoomOnline,
	})
	c := newTestConductor(func(mode Mode) (instruments.Instrument, bool) { return nil, false })
	c.roomRegistry = registry

	room, required, _ := c.selectRoom(ModeFalcon, false)
	assert.True(t, required)
	require.NotNil(t, room)
	assert.Equal(t, "remote-1", room.RoomID)
}

func TestExecute_PrivacySensitiveNoteStillRunsLocally(t *testing.T) {
	resolve := func(mode Mode) (instruments.Instrument, bool) {
		return fakeInstrument{name: "note", result: domain.InstrumentResult{Outcome: domain.OutcomeComplete, Confidence: 0.9, Iterations: 1}}, true
	}
	c := newTestConductor(resolve)
	req := domain.TaskRequest{ID: "task-4", Query: "My SSN is 123-45-6789"}

	outcome, err := c.Execute(context.Background(), "task-4", req, &fakeApprovals{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeComplete, outcome.Response.Result.Outcome)
}

// TestExecute_ResearchConfidentialQueryWithOnlyRemoteRoomIsBounded exercises
// spec §8 scenario 4 end to end through Execute: a Research-routed,
// CONFIDENTIAL-classified query with only a remote capability-matching
// room registered and no local research instrument must come back
// BOUNDED with a privacy-mentioning reason, not fall through to
// dispatch's generic "no instrument available" inconclusive.
func TestExecute_ResearchConfidentialQueryWithOnlyRemoteRoomIsBounded(t *testing.T) {
	registry := rooms.New()
	registry.Register(domain.RoomInfo{
		RoomID:       "remote-1",
		RoomType:     "room",
		Capabilities: []string{instruments.CapWebSearch},
		Status:       domain.RoomOnline,
	})

	resolve := func(mode Mode) (instruments.Instrument, bool) { return nil, false }
	c := newTestConductor(resolve)
	c.roomRegistry = registry

	req := domain.TaskRequest{
		ID:    "task-5",
		Query: "My SSN is 123-45-6789 -- compare identity theft protection services",
	}

	outcome, err := c.Execute(context.Background(), "task-5", req, &fakeApprovals{})
	require.NoError(t, err)
	result := outcome.Response.Result
	assert.Equal(t, domain.OutcomeBounded, result.Outcome)
	assert.Contains(t, result.Summary, "privacy")
}

// TestExecute_CompositionSequentialArrangementIsReachable exercises C4
// end to end through Execute: an explicit Arrangement must route to
// ModeComposition and actually run the named instruments in order,
// not just exist as an unreachable package with its own unit tests.
func TestExecute_CompositionSequentialArrangementIsReachable(t *testing.T) {
	step1 := fakeInstrument{name: "step1", result: domain.InstrumentResult{
		Outcome: domain.OutcomeComplete, Findings: []domain.Finding{{Content: "a", Confidence: 0.8}}, Confidence: 0.8, Iterations: 1,
	}}
	step2 := fakeInstrument{name: "step2", result: domain.InstrumentResult{
		Outcome: domain.OutcomeComplete, Findings: []domain.Finding{{Content: "b", Confidence: 0.9}}, Summary: "b", Confidence: 0.9, Iterations: 1,
	}}
	byName := func(name string) (instruments.Instrument, bool) {
		switch name {
		case "step1":
			return step1, true
		case "step2":
			return step2, true
		default:
			return nil, false
		}
	}

	c := New(
		func(mode Mode) (instruments.Instrument, bool) { return nil, false },
		rooms.New(),
		rooms.NewClient(),
		privacy.New(privacy.Options{}),
		trust.NewTracker(),
		trust.NewPolicyEngine(trust.DefaultPolicyRules()),
		errtracker.New(),
		events.New(),
		WithInstrumentByName(byName),
	)

	req := domain.TaskRequest{
		ID:          "task-comp",
		Query:       "summarize the quarter",
		Preferences: domain.Preferences{TrustLevel: 2},
		Arrangement: &domain.Arrangement{
			Type: domain.ArrangementSequential,
			Phases: []domain.ArrangementPhase{
				{Instrument: "step1"},
				{Instrument: "step2"},
			},
		},
	}

	outcome, err := c.Execute(context.Background(), "task-comp", req, &fakeApprovals{})
	require.NoError(t, err)
	require.False(t, outcome.RequiresApproval)
	assert.Equal(t, domain.OutcomeComplete, outcome.Response.Result.Outcome)
	assert.Equal(t, "b", outcome.Response.Result.Summary)
	assert.Equal(t, "composition:sequential", outcome.Response.Metadata.InstrumentUsed)
}

// TestExecute_LoopArrangementIsReachable exercises C5 end to end through
// Execute: a multi-phase Arrangement of type "loop" must validate and
// run through loop.Executor, not just exist as an unreachable package.
func TestExecute_LoopArrangementIsReachable(t *testing.T) {
	gather := fakeInstrument{name: "gather", result: domain.InstrumentResult{
		Outcome: domain.OutcomeComplete, Findings: []domain.Finding{{Content: "collected data", Confidence: 0.6}}, Confidence: 0.6, Iterations: 1,
	}}
	synthesize := fakeInstrument{name: "synthesize", result: domain.InstrumentResult{
		Outcome: domain.OutcomeComplete, Findings: []domain.Finding{{Content: "final summary", Confidence: 0.85}}, Summary: "final summary", Confidence: 0.85, Iterations: 1,
	}}
	byName := func(name string) (instruments.Instrument, bool) {
		switch name {
		case "gather":
			return gather, true
		case "synthesize":
			return synthesize, true
		default:
			return nil, false
		}
	}

	c := New(
		func(mode Mode) (instruments.Instrument, bool) { return nil, false },
		rooms.New(),
		rooms.NewClient(),
		privacy.New(privacy.Options{}),
		trust.NewTracker(),
		trust.NewPolicyEngine(trust.DefaultPolicyRules()),
		errtracker.New(),
		events.New(),
		WithInstrumentByName(byName),
	)

	req := domain.TaskRequest{
		ID:          "task-loop",
		Query:       "what changed in the market this week",
		Preferences: domain.Preferences{TrustLevel: 2},
		Arrangement: &domain.Arrangement{
			Type: domain.ArrangementLoop,
			Phases: []domain.ArrangementPhase{
				{Name: "gather evidence", Action: "instrument", Instrument: "gather"},
				{Name: "synthesize findings", Action: "instrument", Instrument: "synthesize"},
			},
			MaxTotalIterations:  10,
			TerminationCriteria: "stop once confidence exceeds 0.8",
		},
	}

	outcome, err := c.Execute(context.Background(), "task-loop", req, &fakeApprovals{})
	require.NoError(t, err)
	require.False(t, outcome.RequiresApproval)
	assert.Equal(t, domain.OutcomeComplete, outcome.Response.Result.Outcome)
	assert.Equal(t, "final summary", outcome.Response.Result.Summary)
	assert.Equal(t, "loop", outcome.Response.Metadata.InstrumentUsed)
}
