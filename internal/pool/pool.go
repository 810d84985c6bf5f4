// Package pool manages the lifecycle of a set of agent wrappers for
// one domain and serves their topic on the transport.
package pool

import (
	"context"
	"strings"
	"sync"

	"cartrita/internal/domain"
	"cartrita/internal/router"

	"log/slog"
)

// RuleSource resolves the routing requirements a served request must
// satisfy. *router.Router implements it.
type RuleSource interface {
	RequirementsFor(req domain.TaskRequest) *router.Requirements
}

// Pool owns initialized agents for one domain and exposes
// lookup-by-capability. Lifecycle transitions (Initialize/Shutdown) are
// serialized against lookups by a single coarse guard; entries are
// never reassigned after init.
type Pool struct {
	name   string
	topic  string
	logger *slog.Logger

	mu          sync.RWMutex
	agents      []domain.Agent
	rules       RuleSource
	rr          uint64
	initialized bool
	unsubscribe func()
}

// New creates a pool over the given agents. topic is the transport
// recipient this pool answers for.
func New(name, topic string, agents []domain.Agent, logger *slog.Logger) *Pool {
	return &Pool{
		name:   name,
		topic:  topic,
		logger: logger,
		agents: agents,
	}
}

// SetRules binds the routing-rule source whose requirements every
// served request is re-checked against. Set before Serve.
func (p *Pool) SetRules(src RuleSource) {
	p.mu.Lock()
	p.rules = src
	p.mu.Unlock()
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Topic returns the transport topic this pool serves.
func (p *Pool) Topic() string { return p.topic }

// Initialized reports whether the pool completed Initialize.
func (p *Pool) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// Initialize initializes every managed agent, fail-fast: the first
// failure aborts the whole pool, already-initialized agents are shut
// down again, and the pool stays not-ready. No partial pools.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	var done []domain.Agent
	for _, agent := range p.agents {
		if err := agent.Initialize(ctx); err != nil {
			for _, a := range done {
				if shutdownErr := a.Shutdown(ctx); shutdownErr != nil {
					p.logger.Warn("rollback shutdown failed",
						"pool", p.name, "agent", a.Name(), "error", shutdownErr)
				}
			}
			return domain.WrapOp("pool.Initialize "+p.name, err)
		}
		done = append(done, agent)
	}

	p.initialized = true
	p.logger.Info("agent pool initialized", "pool", p.name, "agents", len(p.agents))
	return nil
}

// Get returns an agent able to handle taskType. Selection order:
// agents whose capabilities list the exact task type, then agents in
// the task's namespace, then any agent. Ties are broken round-robin.
func (p *Pool) Get(taskType string) (domain.Agent, error) {
	return p.GetFiltered(taskType, nil)
}

// GetFiltered is Get with an extra capability predicate, used by
// callers re-checking routing-rule requirements. Agents failing the
// predicate are skipped; an empty result is ErrAgentNotFound.
func (p *Pool) GetFiltered(taskType string, accept func(domain.AgentCapabilities) bool) (domain.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, domain.ErrPoolNotReady
	}

	candidates := p.match(taskType, accept)
	if len(candidates) == 0 {
		return nil, domain.NewDomainError("pool.Get "+p.name, domain.ErrAgentNotFound, taskType)
	}

	agent := candidates[p.rr%uint64(len(candidates))]
	p.rr++
	return agent, nil
}

// match is called with p.mu held.
func (p *Pool) match(taskType string, accept func(domain.AgentCapabilities) bool) []domain.Agent {
	eligible := p.agents
	if accept != nil {
		eligible = nil
		for _, a := range p.agents {
			if accept(a.Capabilities()) {
				eligible = append(eligible, a)
			}
		}
	}

	var exact []domain.Agent
	for _, a := range eligible {
		if a.Capabilities().Supports(taskType) {
			exact = append(exact, a)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	ns := taskType
	if idx := strings.IndexByte(taskType, '.'); idx >= 0 {
		ns = taskType[:idx]
	}
	var namespace []domain.Agent
	for _, a := range eligible {
		for _, t := range a.Capabilities().TaskTypes {
			if strings.HasPrefix(t, ns+".") {
				namespace = append(namespace, a)
				break
			}
		}
	}
	if len(namespace) > 0 {
		return namespace
	}
	return eligible
}

// Serve subscribes the pool to its topic: incoming request envelopes
// are executed by a matching agent and the correlated response is
// published back to the sender.
func (p *Pool) Serve(tr domain.Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unsubscribe = tr.Subscribe(p.topic, func(ctx context.Context, msg domain.Message) error {
		req, err := domain.DecodeTaskRequest(msg)
		if err != nil {
			return domain.WrapOp("pool.Serve "+p.name, err)
		}

		resp := p.execute(ctx, req)

		out, err := domain.NewResponseMessage(p.topic, msg.Sender, msg.ID, resp)
		if err != nil {
			return domain.WrapOp("pool.Serve "+p.name, err)
		}
		return tr.Publish(ctx, out)
	})
}

// lookup selects an agent for a served request, re-checking the
// matched routing rule's requirements against agent capabilities.
// Agents failing the requirements are skipped; when none qualify the
// lookup fails rather than falling back to an unqualified agent.
func (p *Pool) lookup(req domain.TaskRequest) (domain.Agent, error) {
	p.mu.RLock()
	rules := p.rules
	p.mu.RUnlock()

	if rules != nil {
		if reqs := rules.RequirementsFor(req); reqs != nil {
			return p.GetFiltered(req.TaskType, reqs.Met)
		}
	}
	return p.Get(req.TaskType)
}

// execute runs one request against a pool agent, converting pool-level
// lookup failures into FAILED responses so the requester always gets a
// correlated answer.
func (p *Pool) execute(ctx context.Context, req domain.TaskRequest) domain.TaskResponse {
	agent, err := p.lookup(req)
	if err != nil {
		return domain.FailedResponse(req.TaskID, domain.ErrorCodeOf(err), err.Error(), domain.TaskMetrics{})
	}
	resp, err := agent.Execute(ctx, req)
	if err != nil {
		// Transport-level failure inside the agent; still answer.
		return domain.FailedResponse(req.TaskID, domain.ErrorCodeOf(err), err.Error(), domain.TaskMetrics{})
	}
	return resp
}

// Shutdown attempts to shut down every agent. Per-agent failures are
// logged and do not block cleanup of siblings; the pool is marked
// not-initialized regardless.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}

	for _, agent := range p.agents {
		if err := agent.Shutdown(ctx); err != nil {
			p.logger.Error("agent shutdown failed",
				"pool", p.name, "agent", agent.Name(), "error", err)
		}
	}

	p.initialized = false
	p.logger.Info("agent pool shut down", "pool", p.name)
}

// Agents returns the names of managed agents, for status reporting.
func (p *Pool) Agents() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.agents))
	for _, a := range p.agents {
		names = append(names, a.Name())
	}
	return names
}
