package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
)

const confidenceThreshold = 0.8

// PromptRunner evaluates a prompt-action phase's expanded template and
// returns a single finding (the LLM completion).
type PromptRunner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Spawner recursively invokes the Conductor for a spawn-action phase. The
// Executor is responsible for depth bookkeeping; Spawner just runs the
// sub-query against an already depth-incremented context.
type Spawner interface {
	Spawn(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error)
}

// Executor runs a validated Proposal's phases in order.
type Executor struct {
	resolveInstrument func(name string) (instruments.Instrument, bool)
	prompt            PromptRunner
	spawner           Spawner
	logger            core.Logger
}

func NewExecutor(resolveInstrument func(name string) (instruments.Instrument, bool), prompt PromptRunner, spawner Spawner, opts ...ExecutorOption) *Executor {
	e := &Executor{resolveInstrument: resolveInstrument, prompt: prompt, spawner: spawner, logger: core.NoOpLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type ExecutorOption func(*Executor)

func WithLogger(l core.Logger) ExecutorOption { return func(e *Executor) { e.logger = l } }

// Execute runs phases in order, accumulating findings/sources, and
// passing the previous phase's findings into the next phase's context.
// Stops early on a phase returning INCONCLUSIVE, or once
// MaxTotalIterations is reached (outcome BOUNDED). Final outcome is
// COMPLETE if the last confidence >= threshold, else SATURATED.
func (e *Executor) Execute(ctx context.Context, proposal Proposal, query string, taskContext domain.TaskContext) domain.InstrumentResult {
	var findings []domain.Finding
	sourceSet := make(map[string]bool)
	totalIterations := 0
	lastConfidence := 0.0

	for _, phase := range proposal.Phases {
		if proposal.MaxTotalIterations > 0 && totalIterations >= proposal.MaxTotalIterations {
			return e.finalize(findings, sourceSet, totalIterations, domain.OutcomeBounded, lastConfidence)
		}

		phaseContext := taskContext.WithInputResults([]interface{}{domain.InstrumentResult{Findings: findings}})

		var result domain.InstrumentResult
		var err error
		switch phase.Action {
		case ActionInstrument:
			result, err = e.runInstrumentPhase(ctx, phase, query, phaseContext)
		case ActionPrompt:
			result, err = e.runPromptPhase(ctx, phase, query, findings)
		case ActionSpawn:
			result, err = e.runSpawnPhase(ctx, phase, query, taskContext)
		default:
			err = fmt.Errorf("unknown phase action %q", phase.Action)
		}

		if err != nil {
			return domain.InstrumentResult{
				Outcome:     domain.OutcomeInconclusive,
				Findings:    findings,
				Summary:     "phase " + phase.Name + " failed: " + err.Error(),
				Discrepancy: err.Error(),
				Iterations:  totalIterations + 1,
			}
		}

		findings = append(findings, result.Findings...)
		for _, s := range result.SourcesConsulted {
			sourceSet[s] = true
		}
		totalIterations += maxInt(result.Iterations, 1)
		lastConfidence = result.Confidence

		if result.Outcome == domain.OutcomeInconclusive {
			return e.finalize(findings, sourceSet, totalIterations, domain.OutcomeInconclusive, lastConfidence)
		}
	}

	outcome := domain.OutcomeSaturated
	if lastConfidence >= confidenceThreshold {
		outcome = domain.OutcomeComplete
	}
	return e.finalize(findings, sourceSet, totalIterations, outcome, lastConfidence)
}

func (e *Executor) runInstrumentPhase(ctx context.Context, phase Phase, query string, phaseContext domain.TaskContext) (domain.InstrumentResult, error) {
	instrument, ok := e.resolveInstrument(phase.Instrument)
	if !ok {
		return domain.InstrumentResult{}, fmt.Errorf("unknown instrument %q", phase.Instrument)
	}
	return instrument.Execute(ctx, query, phaseContext)
}

func (e *Executor) runPromptPhase(ctx context.Context, phase Phase, query string, priorFindings []domain.Finding) (domain.InstrumentResult, error) {
	expanded, err := core.ExpandTemplate(phase.PromptTemplate, map[string]string{
		"query":             query,
		"previous_findings": bulletize(priorFindings),
		"phase_name":        phase.Name,
	})
	if err != nil {
		return domain.InstrumentResult{}, err
	}

	content, err := e.prompt.Complete(ctx, expanded)
	if err != nil {
		return domain.InstrumentResult{}, err
	}

	return domain.InstrumentResult{
		Outcome:    domain.OutcomeComplete,
		Findings:   []domain.Finding{{Content: content, Confidence: 0.7}},
		Summary:    content,
		Confidence: 0.7,
		Iterations: 1,
	}, nil
}

func (e *Executor) runSpawnPhase(ctx context.Context, phase Phase, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	childContext, err := taskContext.ChildDepth()
	if err != nil {
		return domain.InstrumentResult{}, err
	}
	subQuery := query
	if phase.Description != "" {
		subQuery = phase.Description
	}
	return e.spawner.Spawn(ctx, subQuery, childContext)
}

func (e *Executor) finalize(findings []domain.Finding, sourceSet map[string]bool, iterations int, outcome domain.Outcome, confidence float64) domain.InstrumentResult {
	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	summary := ""
	if len(findings) > 0 {
		summary = findings[len(findings)-1].Content
	}
	return domain.InstrumentResult{
		Outcome:          outcome,
		Findings:         findings,
		Summary:          summary,
		Confidence:       confidence,
		Iterations:       iterations,
		SourcesConsulted: sources,
	}
}

func bulletize(findings []domain.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		b.WriteString("- ")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
