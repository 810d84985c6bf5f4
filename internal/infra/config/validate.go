package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors so callers see
// every problem in one pass.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

var validLogLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"": true, "text": true, "json": true,
}

var validExporters = map[string]bool{
	"": true, "stdout": true, "noop": true,
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing all problems found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateDispatch(cfg, ve)
	validateRouting(cfg, ve)
	validatePools(cfg, ve)
	validateBudget(cfg, ve)
	validateQuality(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[cfg.Logger.Level] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is not one of stdout, noop", cfg.Tracer.Exporter)
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	if cfg.Dispatch.Timeout < 0 {
		ve.Add("dispatch.timeout must not be negative")
	}
}

func validateRouting(cfg *Config, ve *ValidationError) {
	for i, rule := range cfg.Routing {
		if rule.TaskType == "" {
			ve.Add("routing[%d].task_type must not be empty", i)
		}
		if strings.HasPrefix(rule.TaskType, ".") || strings.HasSuffix(rule.TaskType, ".") {
			ve.Add("routing[%d].task_type %q must not start or end with '.'", i, rule.TaskType)
		}
		if rule.AgentType == "" {
			ve.Add("routing[%d].agent_type must not be empty", i)
		}
	}
}

func validatePools(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Pools))
	for i, p := range cfg.Pools {
		if p.Name == "" {
			ve.Add("pools[%d].name must not be empty", i)
		}
		if p.Topic == "" {
			ve.Add("pools[%d].topic must not be empty", i)
		}
		if p.Agents < 1 {
			ve.Add("pools[%d].agents must be >= 1", i)
		}
		if seen[p.Name] {
			ve.Add("pools[%d].name %q appears more than once", i, p.Name)
		}
		seen[p.Name] = true
	}
}

func validateBudget(cfg *Config, ve *ValidationError) {
	if cfg.Budget.MaxUSD < 0 {
		ve.Add("budget.max_usd must not be negative")
	}
	if cfg.Budget.RequestsPerSecond < 0 {
		ve.Add("budget.requests_per_second must not be negative")
	}
	if cfg.Budget.Burst < 0 {
		ve.Add("budget.burst must not be negative")
	}
}

func validateQuality(cfg *Config, ve *ValidationError) {
	if cfg.Quality.MaxParameterBytes < 0 {
		ve.Add("quality.max_parameter_bytes must not be negative")
	}
	if cfg.Quality.SlowTaskMs < 0 {
		ve.Add("quality.slow_task_ms must not be negative")
	}
	if cfg.Quality.LowConfidence < 0 || cfg.Quality.LowConfidence > 1 {
		ve.Add("quality.low_confidence must be between 0 and 1")
	}
}
