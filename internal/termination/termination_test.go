package termination

import (
	"testing"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate_BoundsWins(t *testing.T) {
	e := New()
	d := e.Evaluate(5, 5, []float64{0.2, 0.3, 0.4, 0.5, 0.6}, 3, 3)
	assert.True(t, d.Stop)
	assert.Equal(t, domain.OutcomeBounded, d.Outcome)
	assert.Equal(t, "bounds", d.Rule)
}

func TestEvaluate_ResearchConvergence(t *testing.T) {
	// Seed scenario 2: confidence history [0.6, 0.82, 0.84], max=5.
	e := New()
	d := e.Evaluate(3, 5, []float64{0.6, 0.82, 0.84}, 4, 4)
	assert.True(t, d.Stop)
	assert.Equal(t, domain.OutcomeComplete, d.Outcome)
	assert.Equal(t, "high_confidence_convergence", d.Rule)
}

func TestEvaluate_LowConfidenceStall(t *testing.T) {
	e := New()
	d := e.Evaluate(3, 5, []float64{0.4, 0.41, 0.42}, 4, 4)
	assert.True(t, d.Stop)
	assert.Equal(t, domain.OutcomeInconclusive, d.Outcome)
	assert.Equal(t, "low_confidence_stall", d.Rule)
}

func TestEvaluate_Saturation(t *testing.T) {
	e := New()
	d := e.Evaluate(2, 5, []float64{0.4, 0.5}, 3, 5)
	assert.True(t, d.Stop)
	assert.Equal(t, domain.OutcomeSaturated, d.Outcome)
}

func TestEvaluate_ContinuesOtherwise(t *testing.T) {
	e := New()
	d := e.Evaluate(1, 5, []float64{0.3}, 2, 0)
	assert.False(t, d.Stop)
}

func TestCalculateConfidence(t *testing.T) {
	findings := []domain.Finding{{Content: "a", Confidence: 0.9}, {Content: "b", Confidence: 0.7}}
	c := CalculateConfidence(ConfidenceInputs{Findings: findings, UniqueSourceCount: 2, HasAnswer: true})
	// base .3 + min(.2,.1)=.1 + min(.2,.08)=.08 + .2 + .1*0.8=.08 => 0.76
	assert.InDelta(t, 0.76, c, 0.001)
}

func TestCalculateConfidence_ClampedToOne(t *testing.T) {
	findings := make([]domain.Finding, 10)
	for i := range findings {
		findings[i] = domain.Finding{Confidence: 1.0}
	}
	c := CalculateConfidence(ConfidenceInputs{Findings: findings, UniqueSourceCount: 20, HasAnswer: true})
	assert.LessOrEqual(t, c, 1.0)
}
