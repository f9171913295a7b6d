package instruments

import (
	"context"
	"fmt"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/registry"
	"github.com/mattdarbro/loop-symphony-sub001/internal/termination"
)

// Research is the iterative instrument: search, ingest, recompute
// confidence, ask the Termination Evaluator, refine, repeat — up to
// MaxIterations.
type Research struct {
	reasoning ReasoningTool
	search    SearchTool
	synth     SynthesisTool // optional
	analysis  AnalysisTool  // optional
	evaluator *termination.Evaluator
	maxIter   int
	logger    core.Logger
}

func NewResearch(reg *registry.Registry, opts ...ResearchOption) (*Research, error) {
	resolved, err := reg.Resolve([]string{CapReasoning, CapWebSearch}, []string{CapSynthesis, CapAnalysis})
	if err != nil {
		return nil, core.NewFrameworkError("NewResearch", "instrument", err)
	}
	reasoning, ok := resolveRequired[ReasoningTool](resolved, CapReasoning)
	if !ok {
		return nil, core.NewFrameworkError("NewResearch", "instrument", core.ErrCapabilityUnresolved)
	}
	search, ok := resolveRequired[SearchTool](resolved, CapWebSearch)
	if !ok {
		return nil, core.NewFrameworkError("NewResearch", "instrument", core.ErrCapabilityUnresolved)
	}
	synth, _ := resolveRequired[SynthesisTool](resolved, CapSynthesis)
	analysis, _ := resolveRequired[AnalysisTool](resolved, CapAnalysis)

	r := &Research{
		reasoning: reasoning,
		search:    search,
		synth:     synth,
		analysis:  analysis,
		evaluator: termination.New(),
		maxIter:   5,
		logger:    core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type ResearchOption func(*Research)

func WithMaxIterations(n int) ResearchOption { return func(r *Research) { r.maxIter = n } }
func WithResearchLogger(l core.Logger) ResearchOption {
	return func(r *Research) { r.logger = l }
}
func WithEvaluator(e *termination.Evaluator) ResearchOption {
	return func(r *Research) { r.evaluator = e }
}

func (r *Research) Name() string                   { return "research" }
func (r *Research) MaxIterations() int             { return r.maxIter }
func (r *Research) RequiredCapabilities() []string { return []string{CapReasoning, CapWebSearch} }
func (r *Research) OptionalCapabilities() []string { return []string{CapSynthesis, CapAnalysis} }

func (r *Research) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	queries := []string{query}
	var findings []domain.Finding
	seenSources := make(map[string]bool)
	var confidenceHistory []float64
	previousFindingCount := 0
	var discrepancy string

	iteration := 0
	for {
		// Cooperative cancellation: observe at every iteration boundary
		// and before the network call, per spec §5.
		select {
		case <-ctx.Done():
			return r.inconclusive(findings, "cancelled", iteration), nil
		default:
		}

		iteration++
		newFindings, err := r.searchAndIngest(ctx, queries, seenSources)
		if err != nil {
			// A failed search is recoverable: record a diagnostic finding
			// and let the loop's confidence/termination math decide
			// whether to continue or stop, rather than aborting outright.
			findings = append(findings, domain.Finding{Content: "search failed: " + err.Error(), Confidence: 0})
		} else {
			findings = append(findings, newFindings...)
		}

		confidence := termination.CalculateConfidence(termination.ConfidenceInputs{
			Findings:          findings,
			UniqueSourceCount: len(seenSources),
			HasAnswer:         len(findings) > 0,
		})
		confidenceHistory = append(confidenceHistory, confidence)

		if r.analysis != nil && len(findings) >= 2 {
			if found, explanation, err := r.analysis.DetectContradiction(ctx, findings); err == nil && found {
				discrepancy = explanation
			}
		}

		decision := r.evaluator.Evaluate(iteration, r.maxIter, confidenceHistory, len(findings), previousFindingCount)
		previousFindingCount = len(findings)

		if decision.Stop {
			return r.finalize(ctx, query, findings, seenSources, decision.Outcome, confidenceHistory[len(confidenceHistory)-1], iteration, discrepancy)
		}

		queries = r.refinementQueries(query, findings)
	}
}

func (r *Research) searchAndIngest(ctx context.Context, queries []string, seenSources map[string]bool) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, q := range queries {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		results, err := r.search.Search(ctx, q)
		if err != nil {
			return out, err
		}
		for _, res := range results {
			if seenSources[res.URL] {
				continue // dedup by source URL, per spec §4.3
			}
			seenSources[res.URL] = true
			out = append(out, domain.Finding{Content: res.Snippet, Source: res.URL, Confidence: 0.6})
		}
	}
	return out, nil
}

// refinementQueries asks the reasoning tool for follow-up queries given
// findings so far; falls back to the original query list on failure so a
// transient reasoning-tool error doesn't abort the loop.
func (r *Research) refinementQueries(query string, findings []domain.Finding) []string {
	prompt := fmt.Sprintf("Given the query %q and %d findings so far, suggest a refined search query.", query, len(findings))
	refined, err := r.reasoning.Complete(context.Background(), prompt)
	if err != nil || refined == "" {
		return []string{query}
	}
	return []string{refined}
}

func (r *Research) finalize(ctx context.Context, query string, findings []domain.Finding, seenSources map[string]bool, outcome domain.Outcome, confidence float64, iterations int, discrepancy string) (domain.InstrumentResult, error) {
	sources := make([]string, 0, len(seenSources))
	for src := range seenSources {
		sources = append(sources, src)
	}

	summary := ""
	if r.synth != nil && len(findings) > 0 {
		if s, err := r.synth.Synthesize(ctx, query, findings); err == nil {
			summary = s
		}
	}
	if summary == "" && len(findings) > 0 {
		summary = findings[len(findings)-1].Content
	}

	var followups []string
	if discrepancy != "" {
		followups = append(followups, "findings disagree: "+discrepancy)
	}

	return domain.InstrumentResult{
		Outcome:            outcome,
		Findings:           findings,
		Summary:            summary,
		Confidence:         confidence,
		Iterations:         iterations,
		SourcesConsulted:   sources,
		Discrepancy:        discrepancy,
		SuggestedFollowups: followups,
	}, nil
}

func (r *Research) inconclusive(findings []domain.Finding, reason string, iterations int) domain.InstrumentResult {
	if iterations == 0 {
		iterations = 1
	}
	return domain.InstrumentResult{
		Outcome:    domain.OutcomeInconclusive,
		Findings:   append(findings, domain.Finding{Content: reason, Confidence: 0}),
		Summary:    reason,
		Confidence: 0,
		Iterations: iterations,
	}
}
