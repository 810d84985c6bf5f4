// Package agents contains the wrapper archetype adapting external
// capabilities into the uniform TaskRequest -> TaskResponse contract,
// plus the concrete writer, research and codewriter wrappers.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker/v2"

	"cartrita/internal/cost"
	"cartrita/internal/domain"
	"cartrita/internal/infra/tracer"
)

// Handler executes one task type. A returned error becomes a FAILED
// response; it is never rethrown past the execute boundary.
type Handler func(ctx context.Context, req domain.TaskRequest) (any, error)

// Circuit breaker defaults for outbound capability calls.
const (
	breakerMaxFailures uint32 = 5
	breakerTimeout            = 30 * time.Second
	breakerInterval           = 60 * time.Second
)

// Base implements the agent wrapper archetype: a handler map keyed by
// task type, built once at construction, dispatched by exact string
// match. Initialization is idempotent, and Execute converts every
// handler failure into a FAILED response so that a single bad task
// never crashes a long-lived process.
type Base struct {
	name       string
	domainName string
	errCode    domain.ErrorCode
	caps       domain.AgentCapabilities
	handlers   map[string]Handler
	schemas    map[string]*jsonschema.Schema
	breaker    *gobreaker.CircuitBreaker[any]
	costs      *cost.Manager
	logger     *slog.Logger
	ready      atomic.Bool
	initFn     func(ctx context.Context) error
}

// NewBase creates the archetype for one agent domain. domainName names
// the tracing span prefix; errCode is the domain's execution failure
// code (e.g. WRITER_ERROR).
func NewBase(name, domainName string, errCode domain.ErrorCode, caps domain.AgentCapabilities, costs *cost.Manager, logger *slog.Logger) *Base {
	b := &Base{
		name:       name,
		domainName: domainName,
		errCode:    errCode,
		caps:       caps,
		handlers:   make(map[string]Handler),
		schemas:    make(map[string]*jsonschema.Schema),
		costs:      costs,
		logger:     logger,
	}
	b.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "agent:" + name,
		MaxRequests: 1, // one probe in half-open state
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return b
}

// Handle registers the handler for a task type, optionally compiling a
// JSON Schema that gates the request parameters before the handler
// runs. The capability task-type list is extended as handlers register.
func (b *Base) Handle(taskType string, schemaJSON string, h Handler) error {
	if schemaJSON != "" {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaJSON))); err != nil {
			return fmt.Errorf("add schema resource for %q: %w", taskType, err)
		}
		compiled, err := compiler.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("compile schema for %q: %w", taskType, err)
		}
		b.schemas[taskType] = compiled
	}
	b.handlers[taskType] = h
	b.caps.TaskTypes = append(b.caps.TaskTypes, taskType)
	return nil
}

// SetInit installs an initialization hook run once by Initialize.
func (b *Base) SetInit(fn func(ctx context.Context) error) { b.initFn = fn }

// Name implements domain.Agent.
func (b *Base) Name() string { return b.name }

// Capabilities implements domain.Agent.
func (b *Base) Capabilities() domain.AgentCapabilities { return b.caps }

// Ready reports whether Initialize completed successfully.
func (b *Base) Ready() bool { return b.ready.Load() }

// Initialize implements domain.Agent. Repeated calls after the first
// success are no-ops; a hook failure leaves the agent not ready and is
// propagated to the caller.
func (b *Base) Initialize(ctx context.Context) error {
	if b.ready.Load() {
		return nil
	}
	if b.initFn != nil {
		if err := b.initFn(ctx); err != nil {
			return domain.NewDomainError(b.name+".Initialize", domain.ErrInitFailed, err.Error())
		}
	}
	b.ready.Store(true)
	b.logger.Debug("agent initialized", "agent", b.name, "task_types", len(b.handlers))
	return nil
}

// Shutdown implements domain.Agent.
func (b *Base) Shutdown(context.Context) error {
	b.ready.Store(false)
	return nil
}

// Invoke routes an outbound capability call through the circuit
// breaker. Concrete agents use it for every external call so repeated
// upstream failures fail fast instead of stacking retries.
func (b *Base) Invoke(fn func() (any, error)) (any, error) {
	return b.breaker.Execute(fn)
}

// Execute implements domain.Agent. The span is closed on every path,
// processing time is wall-clock from entry, and handler errors are
// converted to FAILED responses rather than returned.
func (b *Base) Execute(ctx context.Context, req domain.TaskRequest) (domain.TaskResponse, error) {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, b.domainName+".agent.execute",
		tracer.StringAttr("task.type", req.TaskType),
		tracer.StringAttr("task.id", req.TaskID),
	)
	defer span.End()

	fail := func(code domain.ErrorCode, msg string, err error) domain.TaskResponse {
		if err != nil {
			tracer.RecordError(span, err)
			b.logger.Error("task execution failed",
				"agent", b.name,
				"task_id", req.TaskID,
				"task_type", req.TaskType,
				"error", err,
			)
		}
		return domain.FailedResponse(req.TaskID, code, msg, b.metrics(start, req.TaskType, ""))
	}

	if !b.ready.Load() {
		err := domain.NewDomainError(b.name+".Execute", domain.ErrNotInitialized, "agent not initialized")
		return fail(b.errCode, err.Error(), err), nil
	}

	handler, ok := b.handlers[req.TaskType]
	if !ok {
		err := domain.NewDomainError(b.name+".Execute", domain.ErrUnsupportedTask, req.TaskType)
		msg := fmt.Sprintf("Unsupported %s task type: %s", b.domainName, req.TaskType)
		return fail(domain.CodeUnsupportedTask, msg, err), nil
	}

	if schema, ok := b.schemas[req.TaskType]; ok {
		params := req.Parameters
		if params == nil {
			params = map[string]any{}
		}
		if err := schema.Validate(normalizeForSchema(params)); err != nil {
			return fail(b.errCode, fmt.Sprintf("invalid parameters: %v", err), err), nil
		}
	}

	result, err := handler(ctx, req)
	if err != nil {
		code := domain.ErrorCodeOf(err)
		if code == domain.CodeUnknown {
			code = b.errCode
		}
		return fail(code, err.Error(), err), nil
	}

	tracer.SetOK(span)
	resp := domain.CompletedResponse(req.TaskID, result, b.metrics(start, req.TaskType, renderResult(result)))
	return resp, nil
}

func (b *Base) metrics(start time.Time, taskType, resultText string) domain.TaskMetrics {
	m := domain.TaskMetrics{ProcessingTimeMs: time.Since(start).Milliseconds()}
	if b.costs != nil {
		m.CostUSD = b.costs.EstimateCost(taskType)
		m.TokensUsed = b.costs.EstimateTokens(resultText)
	}
	return m
}

// renderResult serializes a handler result for token estimation.
func renderResult(result any) string {
	if result == nil {
		return ""
	}
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

// normalizeForSchema round-trips parameters through JSON so the schema
// validator sees the same types a wire decode would produce.
func normalizeForSchema(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return params
	}
	return v
}
