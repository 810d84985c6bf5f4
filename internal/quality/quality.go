// Package quality implements the pre/post validation policy around
// task execution: structural rejections before dispatch, non-fatal
// advisory warnings after.
package quality

import (
	"encoding/json"
	"fmt"

	"cartrita/internal/domain"
)

// GateConfig tunes the advisory thresholds.
type GateConfig struct {
	// MaxParameterBytes rejects requests whose serialized parameters
	// exceed this size. Zero applies the default.
	MaxParameterBytes int `yaml:"max_parameter_bytes"`
	// SlowTaskMs flags responses slower than this with a warning.
	// Zero applies the default.
	SlowTaskMs int64 `yaml:"slow_task_ms"`
	// LowConfidence flags responses whose "confidence" custom metric
	// falls below this threshold. Zero disables the check.
	LowConfidence float64 `yaml:"low_confidence"`
}

const (
	defaultMaxParameterBytes = 1 << 20 // 1 MiB
	defaultSlowTaskMs        = 30_000
)

// Gate applies quality policy. Stateless; safe for concurrent use.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a Gate, filling zero config fields with defaults.
func NewGate(cfg GateConfig) *Gate {
	if cfg.MaxParameterBytes <= 0 {
		cfg.MaxParameterBytes = defaultMaxParameterBytes
	}
	if cfg.SlowTaskMs <= 0 {
		cfg.SlowTaskMs = defaultSlowTaskMs
	}
	return &Gate{cfg: cfg}
}

// PreCheck rejects structurally unacceptable requests before they are
// routed. Failures here are loud: the request never reaches an agent.
func (g *Gate) PreCheck(req domain.TaskRequest) error {
	if err := domain.ValidateTaskRequest(req); err != nil {
		return err
	}
	if len(req.Parameters) > 0 {
		size, err := json.Marshal(req.Parameters)
		if err != nil {
			return domain.NewDomainError("quality.PreCheck", domain.ErrInvalidInput,
				"parameters are not JSON-serializable")
		}
		if len(size) > g.cfg.MaxParameterBytes {
			return domain.NewDomainError("quality.PreCheck", domain.ErrInvalidInput,
				fmt.Sprintf("parameters exceed %d bytes", g.cfg.MaxParameterBytes))
		}
	}
	return nil
}

// PostCheck inspects a terminal response and returns advisory warnings.
// Warnings never change the response status; order is stable.
func (g *Gate) PostCheck(resp domain.TaskResponse) []string {
	var warnings []string

	if resp.Status == domain.StatusCompleted && resp.Result == nil {
		warnings = append(warnings, "completed task produced an empty result")
	}
	if resp.Metrics.ProcessingTimeMs > g.cfg.SlowTaskMs {
		warnings = append(warnings,
			fmt.Sprintf("processing time %dms exceeded the %dms threshold",
				resp.Metrics.ProcessingTimeMs, g.cfg.SlowTaskMs))
	}
	if g.cfg.LowConfidence > 0 {
		if conf, ok := resp.Metrics.CustomMetrics["confidence"]; ok && conf < g.cfg.LowConfidence {
			warnings = append(warnings,
				fmt.Sprintf("confidence %.2f below threshold %.2f", conf, g.cfg.LowConfidence))
		}
	}
	return warnings
}
