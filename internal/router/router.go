// Package router maps task types to responsible agent types using an
// ordered, priority-sorted rule table with namespace-prefix fallback.
package router

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"cartrita/internal/domain"
)

// DefaultAgentType is the catch-all recipient used when no rule matches.
const DefaultAgentType = "default"

// Requirements optionally gate a rule on agent capability attributes.
// They are advisory: RouteTask never re-checks them, the pool lookup
// does. A matched rule with failing requirements is not retried against
// lower-priority rules.
type Requirements struct {
	MinMemoryMB  int  `json:"min_memory_mb,omitempty"  yaml:"min_memory_mb,omitempty"`
	MaxLatencyMs int  `json:"max_latency_ms,omitempty" yaml:"max_latency_ms,omitempty"`
	GPURequired  bool `json:"gpu_required,omitempty"   yaml:"gpu_required,omitempty"`
}

// Rule declares that tasks of TaskType belong to AgentType. Higher
// priority wins; ties keep insertion order.
type Rule struct {
	TaskType     string        `json:"task_type"     yaml:"task_type"`
	AgentType    string        `json:"agent_type"    yaml:"agent_type"`
	Priority     int           `json:"priority"      yaml:"priority"`
	Requirements *Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// Router resolves a task type to an agent type. Reads vastly outnumber
// writes: rules are expected to be added at startup, not on the request
// hot path.
type Router struct {
	mu        sync.RWMutex
	rules     []Rule
	defaultID string
	logger    *slog.Logger
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New creates a Router with the given rules and the standard default
// agent type.
func New(rules []Rule) *Router {
	return NewWithLogger(rules, DefaultAgentType, discardLogger())
}

// NewWithLogger creates a Router with an explicit fallback agent type
// and warning logs on fallback routing.
func NewWithLogger(rules []Rule, defaultID string, logger *slog.Logger) *Router {
	r := &Router{defaultID: defaultID, logger: logger}
	r.rules = make([]Rule, len(rules))
	copy(r.rules, rules)
	r.resort()
	return r
}

// resort stable-sorts by descending priority so that equal-priority
// rules keep insertion order. Callers hold r.mu.
func (r *Router) resort() {
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority > r.rules[j].Priority
	})
}

// AddRule appends a rule and re-sorts the table. Duplicate task types
// are legal; the highest-priority one shadows the rest.
func (r *Router) AddRule(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	r.resort()
}

// Rules returns a snapshot of the table in routing order.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// RouteTask resolves the agent type for a request. Deterministic over
// the current table and never fails:
//
//  1. first exact task-type match in priority order wins
//  2. otherwise the longest namespace-prefix match applies
//     (a rule for "research" catches any "research.*")
//  3. otherwise the default agent type is returned with a warning
func (r *Router) RouteTask(req domain.TaskRequest) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rule := r.resolve(req); rule != nil {
		return rule.AgentType
	}

	r.logger.Warn("no routing rule matched, using default agent type",
		"task_type", req.TaskType,
		"agent_type", r.defaultID,
	)
	return r.defaultID
}

// RequirementsFor returns the requirements of the rule RouteTask would
// apply to req, for the pool lookup to re-check against agent
// capabilities. Nil when no rule matches or the rule carries none.
func (r *Router) RequirementsFor(req domain.TaskRequest) *Requirements {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule := r.resolve(req)
	if rule == nil {
		return nil
	}
	return rule.Requirements
}

// resolve returns the rule RouteTask applies, or nil. Callers hold r.mu.
func (r *Router) resolve(req domain.TaskRequest) *Rule {
	for i := range r.rules {
		if r.rules[i].TaskType == req.TaskType {
			return &r.rules[i]
		}
	}

	best := -1
	bestLen := 0
	for i := range r.rules {
		if isNamespacePrefix(r.rules[i].TaskType, req.TaskType) && len(r.rules[i].TaskType) > bestLen {
			bestLen = len(r.rules[i].TaskType)
			best = i
		}
	}
	if best >= 0 {
		return &r.rules[best]
	}
	return nil
}

// isNamespacePrefix reports whether prefix matches taskType on a
// namespace-segment boundary ("research.web" matches
// "research.web.search" but not "research.webx").
func isNamespacePrefix(prefix, taskType string) bool {
	if !strings.HasPrefix(taskType, prefix) {
		return false
	}
	return len(taskType) > len(prefix) && taskType[len(prefix)] == '.'
}

// Met reports whether an agent's capabilities satisfy the
// requirements. A nil receiver always passes.
func (q *Requirements) Met(caps domain.AgentCapabilities) bool {
	if q == nil {
		return true
	}
	if q.MinMemoryMB > 0 && caps.MemoryMB < q.MinMemoryMB {
		return false
	}
	if q.MaxLatencyMs > 0 && (caps.MaxLatencyMs == 0 || caps.MaxLatencyMs > q.MaxLatencyMs) {
		return false
	}
	if q.GPURequired && !caps.GPU {
		return false
	}
	return true
}

// CheckRequirements reports whether an agent's capabilities satisfy a
// rule's requirements. A rule without requirements always passes.
func CheckRequirements(rule Rule, caps domain.AgentCapabilities) bool {
	return rule.Requirements.Met(caps)
}
