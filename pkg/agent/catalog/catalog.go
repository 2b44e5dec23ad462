// Package catalog resolves agent identifiers to their immutable
// configuration. Agents are declared in a YAML file loaded at startup;
// the dashboard that edits them lives outside this service.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/parley-labs/parley/pkg/agent"
	"github.com/parley-labs/parley/pkg/core"
)

type agentEntry struct {
	Name            string `yaml:"name"`
	SystemPrompt    string `yaml:"system_prompt"`
	ClassifierModel string `yaml:"classifier_model"`
	ResponderModel  string `yaml:"responder_model"`
	Voice           string `yaml:"voice"`
}

type catalogFile struct {
	Defaults agentEntry            `yaml:"defaults"`
	Agents   map[string]agentEntry `yaml:"agents"`
}

// Catalog holds the loaded agent configurations.
type Catalog struct {
	mu       sync.RWMutex
	defaults agentEntry
	agents   map[string]agentEntry
	path     string
}

// Load reads the catalog file. Per-agent fields override the defaults
// block; a missing system prompt surfaces at Lookup, not here, so one
// broken agent does not take the whole catalog down.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog %q: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent catalog %q: %w", path, err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agent catalog %q declares no agents", path)
	}
	return &Catalog{defaults: file.Defaults, agents: file.Agents, path: path}, nil
}

// Lookup resolves one agent. It fails with a configuration error when the
// agent is unknown or its merged configuration has no system prompt.
func (c *Catalog) Lookup(agentID string) (agent.Config, error) {
	c.mu.RLock()
	entry, ok := c.agents[strings.TrimSpace(agentID)]
	defaults := c.defaults
	c.mu.RUnlock()
	if !ok {
		return agent.Config{}, core.NewConfigurationError(fmt.Sprintf("unknown agent %q", agentID))
	}

	cfg := agent.Config{
		Name:            firstNonEmpty(entry.Name, defaults.Name, agentID),
		SystemPrompt:    firstNonEmpty(entry.SystemPrompt, defaults.SystemPrompt),
		ClassifierModel: firstNonEmpty(entry.ClassifierModel, defaults.ClassifierModel, "qwen2.5:1.5b"),
		ResponderModel:  firstNonEmpty(entry.ResponderModel, defaults.ResponderModel, "llama3.2:1b"),
		Voice:           firstNonEmpty(entry.Voice, defaults.Voice),
	}
	if err := cfg.Validate(); err != nil {
		return agent.Config{}, err
	}
	return cfg, nil
}

// IDs returns the declared agent identifiers.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	return ids
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
