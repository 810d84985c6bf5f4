// Package config loads and validates the orchestrator's YAML
// configuration. All components receive their settings from here;
// nothing reads the environment or config files on its own.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cartrita/internal/cost"
	"cartrita/internal/dispatch"
	"cartrita/internal/infra/logger"
	"cartrita/internal/infra/tracer"
	"cartrita/internal/quality"
	"cartrita/internal/router"
)

// PoolConfig declares one agent pool and the workers inside it.
type PoolConfig struct {
	Name   string `yaml:"name"`
	Topic  string `yaml:"topic"`
	Agents int    `yaml:"agents"` // worker count, >= 1
}

// BlobConfig tunes the result blob store.
type BlobConfig struct {
	TTL time.Duration `yaml:"ttl"` // zero applies the store default
}

// Config is the top-level orchestrator configuration.
type Config struct {
	Logger   logger.Config      `yaml:"logger"`
	Tracer   tracer.Config      `yaml:"tracer"`
	Dispatch dispatch.Config    `yaml:"dispatch"`
	Routing  []router.Rule      `yaml:"routing"`
	Pools    []PoolConfig       `yaml:"pools"`
	Budget   cost.BudgetConfig  `yaml:"budget"`
	Quality  quality.GateConfig `yaml:"quality"`
	Blobs    BlobConfig         `yaml:"blobs"`
}

// Defaults returns a runnable single-process configuration: one pool
// per agent family and routing rules that mirror their task types.
func Defaults() *Config {
	return &Config{
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: tracer.Config{
			Enabled:  false,
			Exporter: "noop",
		},
		Dispatch: dispatch.Config{
			Topic:   "dispatcher",
			Timeout: dispatch.DefaultTimeout,
		},
		Routing: []router.Rule{
			{TaskType: "writer.content.create", AgentType: "writer", Priority: 100},
			{TaskType: "writer.content.rewrite", AgentType: "writer", Priority: 100},
			{TaskType: "writer.content.summarize", AgentType: "writer", Priority: 100},
			{TaskType: "research.web.search", AgentType: "research", Priority: 100},
			{TaskType: "research.web.extract", AgentType: "research", Priority: 100},
			{TaskType: "research.analysis.synthesize", AgentType: "research", Priority: 100},
			{TaskType: "codewriter.code.generate", AgentType: "codewriter", Priority: 100},
			{TaskType: "codewriter.code.review", AgentType: "codewriter", Priority: 100},
		},
		Pools: []PoolConfig{
			{Name: "writer", Topic: "writer", Agents: 2},
			{Name: "research", Topic: "research", Agents: 2},
			{Name: "codewriter", Topic: "codewriter", Agents: 1},
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error: the defaults are validated and returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
