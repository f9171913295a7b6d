// Package instruments implements the five concrete Instruments (C3): Note,
// Research, Synthesis, Vision and the room-delegating Falcon stub. Every
// instrument declares its capability needs and a bounded execute contract.
package instruments

import (
	"context"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/registry"
)

// Instrument is the polymorphism seam spec.md calls for: a capability set
// plus an execute contract. The Registry is the only place concrete
// variants are named.
type Instrument interface {
	Name() string
	MaxIterations() int
	RequiredCapabilities() []string
	OptionalCapabilities() []string
	Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error)
}

// Capability names used throughout this package.
const (
	CapReasoning      = "reasoning"
	CapWebSearch      = "web_search"
	CapSynthesis      = "synthesis"
	CapAnalysis       = "analysis"
	CapVision         = "vision"
	CapShellExecution = "shell_execution"
)

// ReasoningTool is the richer contract a "reasoning" capability provider
// must satisfy beyond registry.Tool to be usable by an instrument.
type ReasoningTool interface {
	registry.Tool
	Complete(ctx context.Context, prompt string) (string, error)
}

// SearchResult is one hit from a web_search capability provider.
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

// SearchTool is the richer contract a "web_search" provider satisfies.
type SearchTool interface {
	registry.Tool
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SynthesisTool merges findings into a coherent summary.
type SynthesisTool interface {
	registry.Tool
	Synthesize(ctx context.Context, query string, findings []domain.Finding) (string, error)
}

// AnalysisTool flags contradictions between findings.
type AnalysisTool interface {
	registry.Tool
	DetectContradiction(ctx context.Context, findings []domain.Finding) (found bool, explanation string, err error)
}

// VisionTool analyzes an image attachment against a query.
type VisionTool interface {
	registry.Tool
	AnalyzeImage(ctx context.Context, imageRef, query string) (string, error)
}

// resolveRequired type-asserts a resolved capability into T, returning
// false if the capability is absent or the registered tool doesn't
// satisfy the richer contract an instrument actually needs to call.
func resolveRequired[T any](resolved map[string]registry.Tool, capability string) (T, bool) {
	var zero T
	tool, ok := resolved[capability]
	if !ok {
		return zero, false
	}
	typed, ok := tool.(T)
	return typed, ok
}
