// Package config loads the server's configuration from CLI flags and
// environment variables, in the three-layer priority gomind's core
// config uses: defaults, then environment, then explicit flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
)

// Config holds every tunable the server binary reads at startup.
type Config struct {
	Host  string
	Port  int
	Debug bool

	AnthropicAPIKey string
	TavilyAPIKey    string

	StoreURL string
	StoreKey string

	ResearchMaxIterations           int
	ResearchConfidenceThreshold     float64
	ResearchConfidenceDeltaThresh   float64

	AutonomicHeartbeatInterval time.Duration
	AutonomicHealthInterval    time.Duration

	PolicyFixturesDir    string
	KnowledgeFixturesDir string
	ToolFixturesDir      string
}

// Default returns the configuration's zero-risk baseline, before
// environment or flag overrides are applied.
func Default() *Config {
	return &Config{
		Host:                          "localhost",
		Port:                          8080,
		Debug:                         false,
		ResearchMaxIterations:         5,
		ResearchConfidenceThreshold:   0.75,
		ResearchConfidenceDeltaThresh: 0.05,
		AutonomicHeartbeatInterval:    60 * time.Second,
		AutonomicHealthInterval:       5 * time.Minute,
	}
}

// LoadFromEnv overlays environment variables onto c. Secrets
// (ANTHROPIC_API_KEY, TAVILY_API_KEY, STORE_KEY) are only ever read
// from the environment, never from flags.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AnthropicAPIKey = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		c.TavilyAPIKey = v
	}
	if v := os.Getenv("STORE_URL"); v != "" {
		c.StoreURL = v
	}
	if v := os.Getenv("STORE_KEY"); v != "" {
		c.StoreKey = v
	}
	if v := os.Getenv("RESEARCH_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RESEARCH_MAX_ITERATIONS %q: %w", v, core.ErrInvalidInput)
		}
		c.ResearchMaxIterations = n
	}
	if v := os.Getenv("RESEARCH_CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RESEARCH_CONFIDENCE_THRESHOLD %q: %w", v, core.ErrInvalidInput)
		}
		c.ResearchConfidenceThreshold = f
	}
	if v := os.Getenv("RESEARCH_CONFIDENCE_DELTA_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RESEARCH_CONFIDENCE_DELTA_THRESHOLD %q: %w", v, core.ErrInvalidInput)
		}
		c.ResearchConfidenceDeltaThresh = f
	}
	if v := os.Getenv("AUTONOMIC_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AUTONOMIC_HEARTBEAT_INTERVAL %q: %w", v, core.ErrInvalidInput)
		}
		c.AutonomicHeartbeatInterval = d
	}
	if v := os.Getenv("AUTONOMIC_HEALTH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AUTONOMIC_HEALTH_INTERVAL %q: %w", v, core.ErrInvalidInput)
		}
		c.AutonomicHealthInterval = d
	}
	if v := os.Getenv("POLICY_FIXTURES_DIR"); v != "" {
		c.PolicyFixturesDir = v
	}
	if v := os.Getenv("KNOWLEDGE_FIXTURES_DIR"); v != "" {
		c.KnowledgeFixturesDir = v
	}
	if v := os.Getenv("TOOL_FIXTURES_DIR"); v != "" {
		c.ToolFixturesDir = v
	}
	return nil
}

// BindFlags registers the CLI surface (--host, --port, --debug) onto
// fs, writing into c. Call fs.Parse after BindFlags.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "address to bind the HTTP server to")
	fs.IntVar(&c.Port, "port", c.Port, "port to bind the HTTP server to")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
	fs.StringVar(&c.PolicyFixturesDir, "policy-fixtures-dir", c.PolicyFixturesDir, "directory of YAML policy rule fixtures loaded at startup")
	fs.StringVar(&c.KnowledgeFixturesDir, "knowledge-fixtures-dir", c.KnowledgeFixturesDir, "directory of YAML knowledge entry fixtures loaded at startup")
	fs.StringVar(&c.ToolFixturesDir, "tool-fixtures-dir", c.ToolFixturesDir, "directory of YAML tool manifest fixtures loaded at startup (diagnostic only)")
}

// Load builds the final Config: defaults, then env, then CLI flags
// parsed from args (typically os.Args[1:]).
func Load(args []string) (*Config, error) {
	c := Default()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("loop-symphony", flag.ContinueOnError)
	c.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: %w", c.Port, core.ErrInvalidInput)
	}
	if c.ResearchMaxIterations < 1 {
		return fmt.Errorf("RESEARCH_MAX_ITERATIONS must be at least 1: %w", core.ErrInvalidInput)
	}
	if c.ResearchConfidenceThreshold <= 0 || c.ResearchConfidenceThreshold > 1 {
		return fmt.Errorf("RESEARCH_CONFIDENCE_THRESHOLD must be in (0,1]: %w", core.ErrInvalidInput)
	}
	return nil
}
