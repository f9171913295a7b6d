// Package loop implements the Loop Planner & Executor (C5): dynamically
// proposed multi-phase arrangements for queries no static Composition fits.
package loop

import (
	"strings"
)

// Action is what a Phase does.
type Action string

const (
	ActionInstrument Action = "instrument"
	ActionPrompt     Action = "prompt"
	ActionSpawn      Action = "spawn"
)

// Phase is one step of a LoopProposal.
type Phase struct {
	Name           string
	Description    string
	Action         Action
	Instrument     string
	PromptTemplate string
	MaxIterations  int
}

// Proposal is a dynamically produced multi-phase plan.
type Proposal struct {
	Phases              []Phase
	MaxTotalIterations  int
	TerminationCriteria string
}

// scientificMethodPhases is the fuzzy keyword table used to detect
// coverage of the four scientific-method stages across phase names,
// descriptions, and the phase's own Action.
var scientificMethodPhases = map[string][]string{
	"hypothesize": {"hypothes", "predict", "assume", "propose"},
	"gather":      {"search", "gather", "collect", "research", "investigat"},
	"analyze":     {"analyz", "compare", "evaluat", "examine"},
	"synthesize":  {"synthes", "summar", "conclud", "merge"},
}

// ValidationResult carries blocking errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Validate implements the rules from spec §4.5.
func Validate(p Proposal, knownInstruments map[string]bool) ValidationResult {
	var result ValidationResult

	if len(p.Phases) < 2 {
		result.Errors = append(result.Errors, "proposal must have at least 2 phases")
	}

	for i, phase := range p.Phases {
		switch phase.Action {
		case ActionInstrument:
			if !knownInstruments[phase.Instrument] {
				result.Errors = append(result.Errors, "phase "+phaseLabel(i, phase)+": unknown instrument "+phase.Instrument)
			}
		case ActionPrompt:
			if strings.TrimSpace(phase.PromptTemplate) == "" {
				result.Errors = append(result.Errors, "phase "+phaseLabel(i, phase)+": action=prompt requires a prompt_template")
			}
		case ActionSpawn:
			// no additional required fields beyond Name/Description.
		default:
			result.Errors = append(result.Errors, "phase "+phaseLabel(i, phase)+": unknown action "+string(phase.Action))
		}
	}

	covered := coverageOf(p.Phases)
	if len(covered) < 3 {
		result.Warnings = append(result.Warnings, "fewer than 3 of {hypothesize, gather, analyze, synthesize} are evidenced by phase names/descriptions")
	}

	if p.MaxTotalIterations > 20 {
		result.Errors = append(result.Errors, "max_total_iterations must be <= 20")
	} else if p.MaxTotalIterations > 15 {
		result.Warnings = append(result.Warnings, "max_total_iterations above 15 is unusually high")
	}

	if len(strings.TrimSpace(p.TerminationCriteria)) < 10 {
		result.Warnings = append(result.Warnings, "termination_criteria is too short to be meaningful")
	}

	if !requiresReasoning(p.Phases) {
		result.Warnings = append(result.Warnings, `no phase appears to require "reasoning"`)
	}

	return result
}

func phaseLabel(i int, phase Phase) string {
	if phase.Name != "" {
		return phase.Name
	}
	return "#" + string(rune('0'+i))
}

func coverageOf(phases []Phase) map[string]bool {
	covered := make(map[string]bool)
	for _, phase := range phases {
		haystack := strings.ToLower(phase.Name + " " + phase.Description + " " + string(phase.Action))
		for stage, keywords := range scientificMethodPhases {
			if covered[stage] {
				continue
			}
			for _, kw := range keywords {
				if strings.Contains(haystack, kw) {
					covered[stage] = true
					break
				}
			}
		}
	}
	return covered
}

func requiresReasoning(phases []Phase) bool {
	for _, phase := range phases {
		if phase.Action == ActionPrompt || phase.Action == ActionInstrument {
			return true
		}
	}
	return false
}

// GetExecutionEstimate sums per-phase MaxIterations (capped at the
// proposal's MaxTotalIterations) and multiplies by a 5-second-per-
// iteration rule of thumb, matching the original planner's estimator.
func GetExecutionEstimate(p Proposal) (iterations int, estimateSeconds int) {
	sum := 0
	for _, phase := range p.Phases {
		n := phase.MaxIterations
		if n <= 0 {
			n = 1
		}
		sum += n
	}
	if p.MaxTotalIterations > 0 && sum > p.MaxTotalIterations {
		sum = p.MaxTotalIterations
	}
	return sum, sum * 5
}
