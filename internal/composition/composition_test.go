package composition

import (
	"context"
	"testing"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowInstrument struct {
	name  string
	delay time.Duration
}

func (s slowInstrument) Name() string                   { return s.name }
func (s slowInstrument) MaxIterations() int             { return 1 }
func (s slowInstrument) RequiredCapabilities() []string { return nil }
func (s slowInstrument) OptionalCapabilities() []string { return nil }
func (s slowInstrument) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	select {
	case <-time.After(s.delay):
		return domain.InstrumentResult{Outcome: domain.OutcomeComplete, Confidence: 0.9, Iterations: 1}, nil
	case <-ctx.Done():
		return domain.InstrumentResult{}, ctx.Err()
	}
}

type mergeStub struct{}

func (mergeStub) Name() string                   { return "synthesis" }
func (mergeStub) MaxIterations() int             { return 1 }
func (mergeStub) RequiredCapabilities() []string { return nil }
func (mergeStub) OptionalCapabilities() []string { return nil }
func (mergeStub) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	return domain.InstrumentResult{Outcome: domain.OutcomeComplete, Confidence: 0.7, Iterations: 1}, nil
}

func TestParallel_BothBranchesTimeOut(t *testing.T) {
	resolve := func(name string) (instruments.Instrument, bool) {
		return slowInstrument{name: name, delay: 50 * time.Millisecond}, true
	}

	result := Parallel(context.Background(), []string{"research", "research"}, resolve, mergeStub{}, "q", domain.TaskContext{}, time.Millisecond)

	assert.Equal(t, domain.OutcomeInconclusive, result.Outcome)
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, result.SourcesConsulted, 2)
}

type fixedInstrument struct {
	name   string
	result domain.InstrumentResult
}

func (f fixedInstrument) Name() string                   { return f.name }
func (f fixedInstrument) MaxIterations() int             { return 1 }
func (f fixedInstrument) RequiredCapabilities() []string { return nil }
func (f fixedInstrument) OptionalCapabilities() []string { return nil }
func (f fixedInstrument) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	return f.result, nil
}

func TestSequential_ShortCircuitsOnInconclusive(t *testing.T) {
	resolve := func(name string) (instruments.Instrument, bool) {
		switch name {
		case "step1":
			return fixedInstrument{name: name, result: domain.InstrumentResult{Outcome: domain.OutcomeInconclusive, Iterations: 1}}, true
		case "step2":
			t.Fatal("step2 should not run after step1's INCONCLUSIVE")
		}
		return nil, false
	}

	result := Sequential(context.Background(), []StepConfig{{InstrumentName: "step1"}, {InstrumentName: "step2"}}, resolve, "q", domain.TaskContext{})
	assert.Equal(t, domain.OutcomeInconclusive, result.Outcome)
}

func TestSequential_SumsIterations(t *testing.T) {
	resolve := func(name string) (instruments.Instrument, bool) {
		return fixedInstrument{name: name, result: domain.InstrumentResult{Outcome: domain.OutcomeComplete, Iterations: 2}}, true
	}
	result := Sequential(context.Background(), []StepConfig{{InstrumentName: "a"}, {InstrumentName: "b"}}, resolve, "q", domain.TaskContext{})
	require.Equal(t, domain.OutcomeComplete, result.Outcome)
	assert.Equal(t, 4, result.Iterations)
}
