// Package registry implements the capability-indexed Tool Registry (C1).
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// Tool is the contract every registered capability provider satisfies.
// Mirrors gomind's Component shape: name, capabilities, a manifest and a
// cheap health probe.
type Tool interface {
	Name() string
	Capabilities() []string
	Manifest() domain.ToolManifest
	HealthCheck(ctx context.Context) error
}

// Registry is a process-wide, lock-serialized capability index.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]Tool
	byCapability map[string][]Tool // insertion order preserved: first-registered wins by default
	logger      core.Logger
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byName:       make(map[string]Tool),
		byCapability: make(map[string][]Tool),
		logger:       core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type Option func(*Registry)

func WithLogger(l core.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Register binds a tool under its name and indexes it under each declared
// capability. Fails if the name is already bound. Duplicate capability
// providers are allowed; resolution defaults to first-registered wins
// (spec.md's Open Question leaves the preference API unformalized, so no
// caller-preference mechanism is offered here — see DESIGN.md).
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[tool.Name()]; exists {
		return core.NewFrameworkError("Registry.Register", "registry", core.ErrToolAlreadyExists)
	}
	r.byName[tool.Name()] = tool
	for _, cap := range tool.Capabilities() {
		r.byCapability[cap] = append(r.byCapability[cap], tool)
	}
	r.logger.Info("tool registered", map[string]interface{}{"tool": tool.Name(), "capabilities": tool.Capabilities()})
	return nil
}

// CapabilityError is returned by Resolve when a required capability has
// no provider.
type CapabilityError struct {
	Missing []string
}

func (e *CapabilityError) Error() string {
	return "unresolved required capabilities: " + joinStrings(e.Missing)
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// Resolve returns the first provider bound to each capability in
// required and optional. Fails with *CapabilityError if any required
// capability is unprovided; missing optional capabilities are omitted
// from the result without error.
func (r *Registry) Resolve(required, optional []string) (map[string]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make(map[string]Tool)
	var missing []string
	for _, cap := range required {
		tools := r.byCapability[cap]
		if len(tools) == 0 {
			missing = append(missing, cap)
			continue
		}
		resolved[cap] = tools[0]
	}
	if len(missing) > 0 {
		return nil, &CapabilityError{Missing: missing}
	}
	for _, cap := range optional {
		if tools := r.byCapability[cap]; len(tools) > 0 {
			resolved[cap] = tools[0]
		}
	}
	return resolved, nil
}

// GetByCapability returns the first-registered provider for cap, or nil.
func (r *Registry) GetByCapability(cap string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tools := r.byCapability[cap]; len(tools) > 0 {
		return tools[0]
	}
	return nil
}

// HealthProbe runs every registered tool's health check concurrently and
// reports name -> healthy. An error (including panic-safe timeout from
// the caller's context) counts as unhealthy.
func (r *Registry) HealthProbe(ctx context.Context) map[string]bool {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	tools := make([]Tool, 0, len(r.byName))
	for name, tool := range r.byName {
		names = append(names, name)
		tools = append(tools, tool)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	result := make(map[string]bool, len(tools))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, tool := range tools {
		wg.Add(1)
		go func(t Tool) {
			defer wg.Done()
			err := t.HealthCheck(ctx)
			mu.Lock()
			result[t.Name()] = err == nil
			mu.Unlock()
		}(tool)
	}
	wg.Wait()
	return result
}
