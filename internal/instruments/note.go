package instruments

import (
	"context"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/registry"
)

// noteConfidence is fixed per spec §4.3: Note never iterates, so there is
// no convergence signal to compute a dynamic confidence from.
const noteConfidence = 0.9

// Note is the atomic, single-call instrument: one reasoning call, no
// iteration, confidence fixed at 0.9 unless the tool fails.
type Note struct {
	reasoning ReasoningTool
}

// NewNote resolves the "reasoning" capability at construction time, per
// spec.md's invariant that required capabilities must be satisfiable at
// construction or construction fails.
func NewNote(reg *registry.Registry) (*Note, error) {
	resolved, err := reg.Resolve([]string{CapReasoning}, nil)
	if err != nil {
		return nil, core.NewFrameworkError("NewNote", "instrument", err)
	}
	tool, ok := resolveRequired[ReasoningTool](resolved, CapReasoning)
	if !ok {
		return nil, core.NewFrameworkError("NewNote", "instrument", core.ErrCapabilityUnresolved)
	}
	return &Note{reasoning: tool}, nil
}

func (n *Note) Name() string                    { return "note" }
func (n *Note) MaxIterations() int              { return 1 }
func (n *Note) RequiredCapabilities() []string  { return []string{CapReasoning} }
func (n *Note) OptionalCapabilities() []string  { return nil }

func (n *Note) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	answer, err := n.reasoning.Complete(ctx, query)
	if err != nil {
		return domain.InstrumentResult{
			Outcome:    domain.OutcomeInconclusive,
			Findings:   []domain.Finding{{Content: "reasoning tool failed: " + err.Error(), Confidence: 0}},
			Summary:    "unable to produce an answer",
			Confidence: 0,
			Iterations: 1,
		}, nil
	}

	return domain.InstrumentResult{
		Outcome:    domain.OutcomeComplete,
		Findings:   []domain.Finding{{Content: answer, Confidence: noteConfidence}},
		Summary:    answer,
		Confidence: noteConfidence,
		Iterations: 1,
	}, nil
}
