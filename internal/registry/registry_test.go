package registry

import (
	"context"
	"testing"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name  string
	caps  []string
	fails bool
}

func (s *stubTool) Name() string          { return s.name }
func (s *stubTool) Capabilities() []string { return s.caps }
func (s *stubTool) Manifest() domain.ToolManifest {
	return domain.ToolManifest{Name: s.name, Capabilities: s.caps}
}
func (s *stubTool) HealthCheck(ctx context.Context) error {
	if s.fails {
		return core.ErrConnectionFailed
	}
	return nil
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "a", caps: []string{"x"}}))

	err := r.Register(&stubTool{name: "a", caps: []string{"y"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrToolAlreadyExists)
}

func TestResolve_FirstRegisteredWinsOnDuplicateCapability(t *testing.T) {
	r := New()
	first := &stubTool{name: "first", caps: []string{"reasoning"}}
	second := &stubTool{name: "second", caps: []string{"reasoning"}}
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	resolved, err := r.Resolve([]string{"reasoning"}, nil)
	require.NoError(t, err)
	assert.Same(t, Tool(first), resolved["reasoning"])
}

func TestResolve_MissingRequiredCapabilityFails(t *testing.T) {
	r := New()
	_, err := r.Resolve([]string{"vision"}, nil)
	require.Error(t, err)
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, []string{"vision"}, capErr.Missing)
}

func TestResolve_MissingOptionalCapabilityIsOmittedWithoutError(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "reasoner", caps: []string{"reasoning"}}))

	resolved, err := r.Resolve([]string{"reasoning"}, []string{"synthesis"})
	require.NoError(t, err)
	_, hasOptional := resolved["synthesis"]
	assert.False(t, hasOptional)
}

func TestGetByCapability_ReturnsNilWhenUnbound(t *testing.T) {
	r := New()
	assert.Nil(t, r.GetByCapability("vision"))
}

func TestHealthProbe_ReportsPerToolStatus(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubTool{name: "healthy", caps: []string{"a"}}))
	require.NoError(t, r.Register(&stubTool{name: "unhealthy", caps: []string{"b"}, fails: true}))

	result := r.HealthProbe(context.Background())
	assert.True(t, result["healthy"])
	assert.False(t, result["unhealthy"])
}
