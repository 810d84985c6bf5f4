// Package cost holds the static per-task-type cost table, token
// estimation, and the budget gate consulted around agent execution.
// All figures are estimates by design, not billing-accurate.
package cost

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"cartrita/internal/domain"
)

// defaultCostTable maps task types to estimated USD cost per execution.
var defaultCostTable = map[string]float64{
	"writer.content.create":        0.02,
	"writer.content.rewrite":       0.02,
	"writer.content.summarize":     0.01,
	"research.web.search":          0.015,
	"research.web.extract":         0.01,
	"research.analysis.synthesize": 0.03,
	"codewriter.code.generate":     0.04,
	"codewriter.code.review":       0.03,
}

// fallbackCost applies to task types absent from the table.
const fallbackCost = 0.01

// Manager estimates cost and token usage for tasks. Stateless apart
// from the lazily-loaded tokenizer; safe under concurrent use.
type Manager struct {
	table map[string]float64

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewManager creates a Manager with the default cost table.
func NewManager() *Manager {
	return NewManagerWithTable(defaultCostTable)
}

// NewManagerWithTable creates a Manager with a custom cost table,
// merged over the defaults.
func NewManagerWithTable(table map[string]float64) *Manager {
	merged := make(map[string]float64, len(defaultCostTable)+len(table))
	for k, v := range defaultCostTable {
		merged[k] = v
	}
	for k, v := range table {
		merged[k] = v
	}
	return &Manager{table: merged}
}

// EstimateCost returns the estimated USD cost for one execution of the
// given task type.
func (m *Manager) EstimateCost(taskType string) float64 {
	if c, ok := m.table[taskType]; ok {
		return c
	}
	return fallbackCost
}

// EstimateTokens approximates the token count of text. Uses the
// cl100k_base encoding when available, otherwise the character-length/4
// heuristic.
func (m *Manager) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	m.encOnce.Do(func() {
		// Encoding load may need network access for the BPE ranks;
		// the heuristic below covers the offline case.
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			m.enc = enc
		}
	})
	if m.enc != nil {
		return len(m.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// Annotate fills the cost and token estimates on a response's metrics
// from the task type and the serialized result size.
func (m *Manager) Annotate(resp *domain.TaskResponse, taskType, resultText string) {
	resp.Metrics.CostUSD = m.EstimateCost(taskType)
	resp.Metrics.TokensUsed = m.EstimateTokens(resultText)
}
