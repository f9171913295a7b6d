// Package fixtures loads static seed data — tool manifests, policy
// rules, and knowledge entries — from YAML files on disk at startup.
// The directory-scan-and-unmarshal approach mirrors gomind's workflow
// router: a missing directory is not an error (nothing seeded yet),
// and a malformed individual file is logged and skipped rather than
// aborting the whole load.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"gopkg.in/yaml.v3"
)

// PolicyRules reads every *.yaml/*.yml file in dir and unmarshals each
// into a domain.PolicyRule. A dir that doesn't exist yields (nil, nil):
// callers fall back to their own default rule set in that case.
func PolicyRules(dir string, logger core.Logger) ([]domain.PolicyRule, error) {
	var rules []domain.PolicyRule
	err := forEachYAMLFile(dir, logger, func(path string, data []byte) error {
		var rule domain.PolicyRule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return err
		}
		rules = append(rules, rule)
		return nil
	})
	return rules, err
}

// KnowledgeEntries reads every *.yaml/*.yml file in dir and unmarshals
// each into a domain.KnowledgeEntry, tagging its Source as seed and
// marking it active regardless of what the file itself sets.
func KnowledgeEntries(dir string, logger core.Logger) ([]domain.KnowledgeEntry, error) {
	var entries []domain.KnowledgeEntry
	err := forEachYAMLFile(dir, logger, func(path string, data []byte) error {
		var entry domain.KnowledgeEntry
		if err := yaml.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.Source = domain.KnowledgeSourceSeed
		entry.IsActive = true
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// ToolManifests reads every *.yaml/*.yml file in dir and unmarshals
// each into a domain.ToolManifest. These describe tools the registry
// expects to see registered at runtime; they're diagnostic/reference
// data, not a substitute for a tool's own Manifest() method.
func ToolManifests(dir string, logger core.Logger) ([]domain.ToolManifest, error) {
	var manifests []domain.ToolManifest
	err := forEachYAMLFile(dir, logger, func(path string, data []byte) error {
		var manifest domain.ToolManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return err
		}
		manifests = append(manifests, manifest)
		return nil
	})
	return manifests, err
}

func forEachYAMLFile(dir string, logger core.Logger, handle func(path string, data []byte) error) error {
	if dir == "" {
		return nil
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading fixtures dir %s: %w", dir, err)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("fixtures: failed to read file", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
		if err := handle(path, data); err != nil {
			logger.Warn("fixtures: failed to parse file", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
	}
	return nil
}
