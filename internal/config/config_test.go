package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("RESEARCH_MAX_ITERATIONS", "8")
	t.Setenv("AUTONOMIC_HEARTBEAT_INTERVAL", "90s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	c := Default()
	require.NoError(t, c.LoadFromEnv())

	assert.Equal(t, 8, c.ResearchMaxIterations)
	assert.Equal(t, 90*time.Second, c.AutonomicHeartbeatInterval)
	assert.Equal(t, "sk-test", c.AnthropicAPIKey)
}

func TestLoadFromEnv_InvalidDurationErrors(t *testing.T) {
	t.Setenv("AUTONOMIC_HEALTH_INTERVAL", "not-a-duration")
	c := Default()
	err := c.LoadFromEnv()
	assert.Error(t, err)
}

func TestLoad_FlagsOverrideEnvAndDefaults(t *testing.T) {
	os.Unsetenv("RESEARCH_MAX_ITERATIONS")
	c, err := Load([]string{"--host", "0.0.0.0", "--port", "9090", "--debug"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 9090, c.Port)
	assert.True(t, c.Debug)
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	c := Default()
	c.Port = 70000
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsZeroMaxIterations(t *testing.T) {
	c := Default()
	c.ResearchMaxIterations = 0
	assert.Error(t, c.Validate())
}
