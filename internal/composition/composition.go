// Package composition implements the Composition Engine (C4): sequential
// pipelines and parallel fan-out/merge over instruments.
package composition

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
)

// StepConfig names one instrument in a Sequential pipeline.
type StepConfig struct {
	InstrumentName string
}

// Sequential runs steps in strict order, threading each step's result
// into the next step's context.input_results. Short-circuits on the
// first INCONCLUSIVE step.
func Sequential(ctx context.Context, steps []StepConfig, resolve func(name string) (instruments.Instrument, bool), query string, taskContext domain.TaskContext) domain.InstrumentResult {
	var findings []domain.Finding
	sourceSet := make(map[string]bool)
	totalIterations := 0
	var last domain.InstrumentResult

	for _, step := range steps {
		instrument, ok := resolve(step.InstrumentName)
		if !ok {
			return domain.InstrumentResult{
				Outcome: domain.OutcomeInconclusive,
				Summary: "unknown instrument: " + step.InstrumentName,
			}
		}

		result, err := instrument.Execute(ctx, query, taskContext)
		if err != nil {
			return domain.InstrumentResult{Outcome: domain.OutcomeInconclusive, Summary: err.Error()}
		}

		findings = append(findings, result.Findings...)
		for _, s := range result.SourcesConsulted {
			sourceSet[s] = true
		}
		totalIterations += result.Iterations
		last = result

		if result.Outcome == domain.OutcomeInconclusive {
			return domain.InstrumentResult{
				Outcome:          domain.OutcomeInconclusive,
				Findings:         findings,
				Summary:          result.Summary,
				Confidence:       result.Confidence,
				Iterations:       totalIterations,
				SourcesConsulted: sortedKeys(sourceSet),
			}
		}

		taskContext = taskContext.WithInputResults([]interface{}{result})
	}

	return domain.InstrumentResult{
		Outcome:          last.Outcome,
		Findings:         findings,
		Summary:          last.Summary,
		Confidence:       last.Confidence,
		Iterations:       totalIterations,
		SourcesConsulted: sortedKeys(sourceSet),
	}
}

// branchOutcome is the result of one parallel branch, with its elapsed
// flag so the merge step can tell a real INCONCLUSIVE from a timeout.
type branchOutcome struct {
	name    string
	result  domain.InstrumentResult
	timeout bool
}

// Parallel runs branches concurrently with an optional per-branch
// timeout; a branch timeout becomes a synthetic INCONCLUSIVE Finding
// with a per-branch synthetic source. merge consumes all branch results
// in branch declaration order, not completion order (Synthesis is the
// default merge instrument).
func Parallel(ctx context.Context, branches []string, resolve func(name string) (instruments.Instrument, bool), merge instruments.Instrument, query string, taskContext domain.TaskContext, branchTimeout time.Duration) domain.InstrumentResult {
	outcomes := make([]branchOutcome, len(branches))
	var wg sync.WaitGroup

	for i, name := range branches {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			instrument, ok := resolve(name)
			if !ok {
				outcomes[i] = branchOutcome{name: name, result: domain.InstrumentResult{Outcome: domain.OutcomeInconclusive, Summary: "unknown instrument: " + name}}
				return
			}

			branchCtx := ctx
			var cancel context.CancelFunc
			if branchTimeout > 0 {
				branchCtx, cancel = context.WithTimeout(ctx, branchTimeout)
				defer cancel()
			}

			type execResult struct {
				result domain.InstrumentResult
				err    error
			}
			done := make(chan execResult, 1)
			go func() {
				result, err := instrument.Execute(branchCtx, query, taskContext)
				done <- execResult{result, err}
			}()

			select {
			case <-branchCtx.Done():
				outcomes[i] = branchOutcome{
					name: name,
					result: domain.InstrumentResult{
						Outcome:          domain.OutcomeInconclusive,
						Findings:         []domain.Finding{{Content: "branch " + name + " timed out", Confidence: 0}},
						SourcesConsulted: []string{"branch:" + strconv.Itoa(i) + ":" + name + ":timeout"},
						Iterations:       1,
					},
					timeout: true,
				}
			case res := <-done:
				if res.err != nil {
					outcomes[i] = branchOutcome{name: name, result: domain.InstrumentResult{Outcome: domain.OutcomeInconclusive, Summary: res.err.Error(), Iterations: 1}}
					return
				}
				outcomes[i] = branchOutcome{name: name, result: res.result}
			}
		}(i, name)
	}
	wg.Wait()

	sourceSet := make(map[string]bool)
	var mergeInputs []interface{}
	totalIterations := 0
	anyNonInconclusive := false
	for _, o := range outcomes {
		mergeInputs = append(mergeInputs, o.result)
		totalIterations += o.result.Iterations
		for _, s := range o.result.SourcesConsulted {
			sourceSet[s] = true
		}
		if o.result.Outcome != domain.OutcomeInconclusive {
			anyNonInconclusive = true
		}
	}

	if !anyNonInconclusive {
		return domain.InstrumentResult{
			Outcome:          domain.OutcomeInconclusive,
			Iterations:       totalIterations,
			SourcesConsulted: sortedKeys(sourceSet),
			Summary:          "all branches inconclusive",
		}
	}

	mergeContext := taskContext.WithInputResults(mergeInputs)
	mergeResult, err := merge.Execute(ctx, query, mergeContext)
	if err != nil {
		mergeResult = domain.InstrumentResult{Outcome: domain.OutcomeInconclusive, Summary: err.Error()}
	}

	return domain.InstrumentResult{
		Outcome:          mergeResult.Outcome,
		Findings:         mergeResult.Findings,
		Summary:          mergeResult.Summary,
		Confidence:       mergeResult.Confidence,
		Iterations:       totalIterations,
		SourcesConsulted: sortedKeys(sourceSet),
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
