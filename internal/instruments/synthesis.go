package instruments

import (
	"context"
	"fmt"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/registry"
)

// Synthesis merges context.InputResults (typically from prior pipeline or
// parallel-branch steps) into one coherent summary.
type Synthesis struct {
	synth SynthesisTool
}

func NewSynthesis(reg *registry.Registry) (*Synthesis, error) {
	resolved, err := reg.Resolve([]string{CapReasoning, CapSynthesis}, nil)
	if err != nil {
		return nil, core.NewFrameworkError("NewSynthesis", "instrument", err)
	}
	tool, ok := resolveRequired[SynthesisTool](resolved, CapSynthesis)
	if !ok {
		return nil, core.NewFrameworkError("NewSynthesis", "instrument", core.ErrCapabilityUnresolved)
	}
	return &Synthesis{synth: tool}, nil
}

func (s *Synthesis) Name() string                   { return "synthesis" }
func (s *Synthesis) MaxIterations() int             { return 2 }
func (s *Synthesis) RequiredCapabilities() []string { return []string{CapReasoning, CapSynthesis} }
func (s *Synthesis) OptionalCapabilities() []string { return nil }

func (s *Synthesis) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	if len(taskContext.InputResults) == 0 {
		return domain.InstrumentResult{
			Outcome:    domain.OutcomeInconclusive,
			Findings:   []domain.Finding{{Content: "no input results to synthesize", Confidence: 0}},
			Summary:    "nothing to merge",
			Confidence: 0,
			Iterations: 1,
		}, nil
	}

	findings := extractFindings(taskContext.InputResults)
	summary, err := s.synth.Synthesize(ctx, query, findings)
	if err != nil {
		return domain.InstrumentResult{
			Outcome:    domain.OutcomeInconclusive,
			Findings:   []domain.Finding{{Content: "synthesis tool failed: " + err.Error(), Confidence: 0}},
			Summary:    "synthesis failed",
			Confidence: 0,
			Iterations: 1,
		}, nil
	}

	sources := uniqueSources(findings)
	return domain.InstrumentResult{
		Outcome:          domain.OutcomeComplete,
		Findings:         []domain.Finding{{Content: summary, Confidence: 0.85}},
		Summary:          summary,
		Confidence:       0.85,
		Iterations:       1,
		SourcesConsulted: sources,
	}, nil
}

// extractFindings flattens context.input_results (each expected to carry
// a "findings" slice, matching the loop executor's phase-to-phase
// threading convention) into a single Finding slice.
func extractFindings(inputResults []interface{}) []domain.Finding {
	var out []domain.Finding
	for _, raw := range inputResults {
		switch v := raw.(type) {
		case domain.InstrumentResult:
			out = append(out, v.Findings...)
		case map[string]interface{}:
			if rawFindings, ok := v["findings"].([]domain.Finding); ok {
				out = append(out, rawFindings...)
			}
		case []domain.Finding:
			out = append(out, v...)
		default:
			out = append(out, domain.Finding{Content: fmt.Sprintf("%v", v), Confidence: 0.5})
		}
	}
	return out
}

func uniqueSources(findings []domain.Finding) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range findings {
		if f.Source == "" || seen[f.Source] {
			continue
		}
		seen[f.Source] = true
		out = append(out, f.Source)
	}
	return out
}
