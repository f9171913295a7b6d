package instruments

import (
	"context"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// RoomFinder is the seam Falcon uses to locate a delegation target
// without this package importing the rooms package directly (the
// Conductor wires the concrete *rooms.Registry in).
type RoomFinder interface {
	FindRoom(capability string) (roomID string, ok bool)
}

// RoomDelegator performs the actual HTTP call once a room is found.
type RoomDelegator interface {
	DelegateTo(ctx context.Context, roomID, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error)
}

// Falcon is the room-delegating stub instrument (spec §4.3): it declares
// a capability only a remote room satisfies. If no room scores, it
// returns BOUNDED with an explanation rather than failing outright.
type Falcon struct {
	capability string
	finder     RoomFinder
	delegator  RoomDelegator
}

func NewFalcon(capability string, finder RoomFinder, delegator RoomDelegator) *Falcon {
	return &Falcon{capability: capability, finder: finder, delegator: delegator}
}

func (f *Falcon) Name() string                   { return "falcon" }
func (f *Falcon) MaxIterations() int             { return 1 }
func (f *Falcon) RequiredCapabilities() []string { return []string{f.capability} }
func (f *Falcon) OptionalCapabilities() []string { return nil }

func (f *Falcon) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	roomID, ok := f.finder.FindRoom(f.capability)
	if !ok {
		return domain.InstrumentResult{
			Outcome:            domain.OutcomeBounded,
			Findings:           nil,
			Summary:            "no room available for capability " + f.capability,
			Confidence:         0,
			Iterations:         1,
			SuggestedFollowups: []string{"connect a room advertising " + f.capability + " to enable this request"},
		}, nil
	}

	result, err := f.delegator.DelegateTo(ctx, roomID, query, taskContext)
	if err != nil {
		return domain.InstrumentResult{
			Outcome:    domain.OutcomeInconclusive,
			Findings:   []domain.Finding{{Content: "room delegation failed: " + err.Error(), Confidence: 0}},
			Summary:    "delegation failed",
			Confidence: 0,
			Iterations: 1,
		}, nil
	}
	return result, nil
}
