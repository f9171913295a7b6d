// Package termination implements the Termination Evaluator (C2): the
// decision rules that stop an iterative loop and classify its outcome.
package termination

import (
	"math"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

const (
	DefaultConfidenceThreshold = 0.8
	DefaultDeltaThreshold      = 0.05
)

// Evaluator holds the configurable thresholds. Pure evaluation: never
// suspends, never mutates shared state.
type Evaluator struct {
	ConfidenceThreshold float64
	DeltaThreshold      float64
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		DeltaThreshold:      DefaultDeltaThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type Option func(*Evaluator)

func WithConfidenceThreshold(v float64) Option { return func(e *Evaluator) { e.ConfidenceThreshold = v } }
func WithDeltaThreshold(v float64) Option       { return func(e *Evaluator) { e.DeltaThreshold = v } }

// Decision is the verdict for one iteration.
type Decision struct {
	Stop    bool
	Outcome domain.Outcome
	Rule    string
}

// Evaluate applies the four decision rules in order, first match wins.
// confidenceHistory is 1-indexed conceptually but passed as a slice where
// confidenceHistory[len-1] is c[i]; iteration is i (1-indexed);
// findingCount/previousFindingCount are |findings| at i and i-1.
func (e *Evaluator) Evaluate(iteration, maxIterations int, confidenceHistory []float64, findingCount, previousFindingCount int) Decision {
	if iteration >= maxIterations {
		return Decision{Stop: true, Outcome: domain.OutcomeBounded, Rule: "bounds"}
	}

	n := len(confidenceHistory)
	if iteration >= 2 && n >= 2 {
		ci := confidenceHistory[n-1]
		ciMinus1 := confidenceHistory[n-2]
		if math.Abs(ci-ciMinus1) < e.DeltaThreshold && ci >= e.ConfidenceThreshold {
			return Decision{Stop: true, Outcome: domain.OutcomeComplete, Rule: "high_confidence_convergence"}
		}
	}

	if iteration >= 3 && n >= 3 {
		ci := confidenceHistory[n-1]
		ciMinus1 := confidenceHistory[n-2]
		ciMinus2 := confidenceHistory[n-3]
		if math.Abs(ci-ciMinus1) < e.DeltaThreshold &&
			math.Abs(ciMinus1-ciMinus2) < e.DeltaThreshold &&
			ci < e.ConfidenceThreshold {
			return Decision{Stop: true, Outcome: domain.OutcomeInconclusive, Rule: "low_confidence_stall"}
		}
	}

	if iteration > 1 && findingCount <= previousFindingCount {
		return Decision{Stop: true, Outcome: domain.OutcomeSaturated, Rule: "saturation"}
	}

	return Decision{Stop: false}
}

// ConfidenceInputs feeds CalculateConfidence.
type ConfidenceInputs struct {
	Findings          []domain.Finding
	UniqueSourceCount int
	HasAnswer         bool
}

// CalculateConfidence implements the exact formula from spec §4.2:
//
//	min(1, 0.3 + min(0.2, 0.05*|F|) + min(0.2, 0.04*|S|) + 0.2*[has_answer] + 0.1*mean(f.confidence))
func CalculateConfidence(in ConfidenceInputs) float64 {
	base := 0.3
	findingBoost := math.Min(0.2, 0.05*float64(len(in.Findings)))
	sourceBoost := math.Min(0.2, 0.04*float64(in.UniqueSourceCount))
	answerBoost := 0.0
	if in.HasAnswer {
		answerBoost = 0.2
	}
	meanFindingConfidence := 0.0
	if len(in.Findings) > 0 {
		sum := 0.0
		for _, f := range in.Findings {
			sum += f.Confidence
		}
		meanFindingConfidence = sum / float64(len(in.Findings))
	}
	total := base + findingBoost + sourceBoost + answerBoost + 0.1*meanFindingConfidence
	return math.Min(1.0, total)
}
