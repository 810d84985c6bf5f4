// Package dispatch composes the routing core: a dispatched task is
// validated, routed to an agent type, delivered over the transport,
// and its correlated response collected with metrics and warnings.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cartrita/internal/cost"
	"cartrita/internal/domain"
	"cartrita/internal/quality"
	"cartrita/internal/router"
)

// DefaultTimeout bounds a dispatch when the request carries no
// deadline of its own.
const DefaultTimeout = 60 * time.Second

// Config tunes a Dispatcher.
type Config struct {
	// Topic is the dispatcher's own reply topic.
	Topic string `yaml:"topic"`
	// Timeout is the per-task wait bound. Zero applies DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`
}

// Dispatcher is the explicit composition root for task delivery. One
// instance is constructed at bootstrap and passed by reference; there
// is no ambient module-level pipeline.
type Dispatcher struct {
	cfg    Config
	router *router.Router
	tr     domain.Transport
	budget *cost.Budget
	gate   *quality.Gate
	logger *slog.Logger

	mu          sync.Mutex
	pending     map[string]chan domain.TaskResponse
	unsubscribe func()
}

// New creates a Dispatcher and subscribes its reply topic. A nil gate
// falls back to a default-configured one; budget may be nil for
// unconstrained dispatch.
func New(cfg Config, rt *router.Router, tr domain.Transport, budget *cost.Budget, gate *quality.Gate, logger *slog.Logger) *Dispatcher {
	if cfg.Topic == "" {
		cfg.Topic = "dispatcher"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if gate == nil {
		gate = quality.NewGate(quality.GateConfig{})
	}
	d := &Dispatcher{
		cfg:     cfg,
		router:  rt,
		tr:      tr,
		budget:  budget,
		gate:    gate,
		logger:  logger,
		pending: make(map[string]chan domain.TaskResponse),
	}
	d.unsubscribe = tr.Subscribe(cfg.Topic, d.onReply)
	return d
}

// Close unsubscribes the reply topic.
func (d *Dispatcher) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

// onReply completes the pending wait keyed by correlation id.
// Responses nobody is waiting for are dropped with a debug log.
func (d *Dispatcher) onReply(_ context.Context, msg domain.Message) error {
	resp, err := domain.DecodeTaskResponse(msg)
	if err != nil {
		return domain.WrapOp("dispatch.onReply", err)
	}

	d.mu.Lock()
	ch, ok := d.pending[msg.CorrelationID]
	if ok {
		delete(d.pending, msg.CorrelationID)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("dropping uncorrelated response",
			"correlation_id", msg.CorrelationID, "task_id", resp.TaskID)
		return nil
	}
	ch <- resp
	return nil
}

// Dispatch routes and delivers one task, returning its terminal
// response. Validation failures are loud (returned as errors before
// anything is published); everything after dispatch is quiet and
// arrives as a FAILED response, including deadline expiry (TIMEOUT).
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.TaskRequest) (domain.TaskResponse, error) {
	if req.TaskID == "" {
		req.TaskID = domain.NewTaskID()
	}

	if err := d.gate.PreCheck(req); err != nil {
		return domain.TaskResponse{}, err
	}

	if d.budget != nil {
		if err := d.budget.Check(req.TaskType); err != nil {
			d.logger.Warn("budget gate rejected task",
				"task_id", req.TaskID, "task_type", req.TaskType, "error", err)
			return domain.FailedResponse(req.TaskID, domain.ErrorCodeOf(err), err.Error(), domain.TaskMetrics{}), nil
		}
	}

	agentType := d.router.RouteTask(req)

	msg, err := domain.NewRequestMessage(d.cfg.Topic, agentType, req)
	if err != nil {
		return domain.TaskResponse{}, err
	}

	ch := make(chan domain.TaskResponse, 1)
	d.mu.Lock()
	d.pending[msg.ID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, msg.ID)
		d.mu.Unlock()
	}()

	timeout := d.cfg.Timeout
	if !req.Deadline.IsZero() {
		if until := time.Until(req.Deadline); until < timeout {
			timeout = until
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	start := time.Now()
	d.logger.Debug("dispatching task",
		"task_id", req.TaskID, "task_type", req.TaskType, "agent_type", agentType)

	if err := d.tr.Publish(ctx, msg); err != nil {
		return domain.TaskResponse{}, domain.WrapOp("dispatch.Publish", err)
	}

	select {
	case resp := <-ch:
		return d.finish(resp, start), nil
	case <-ctx.Done():
		return d.timeoutResponse(req, start, ctx.Err()), nil
	case <-timer.C:
		return d.timeoutResponse(req, start, domain.ErrTimeout), nil
	}
}

// finish annotates queue time, post-check warnings and budget spend.
func (d *Dispatcher) finish(resp domain.TaskResponse, start time.Time) domain.TaskResponse {
	queueMs := time.Since(start).Milliseconds() - resp.Metrics.ProcessingTimeMs
	if queueMs < 0 {
		queueMs = 0
	}
	resp.Metrics.QueueTimeMs = queueMs

	resp.Warnings = append(resp.Warnings, d.gate.PostCheck(resp)...)
	if d.budget != nil {
		d.budget.Record(resp)
	}
	return resp
}

func (d *Dispatcher) timeoutResponse(req domain.TaskRequest, start time.Time, cause error) domain.TaskResponse {
	d.logger.Warn("task timed out",
		"task_id", req.TaskID, "task_type", req.TaskType, "cause", cause)
	m := domain.TaskMetrics{QueueTimeMs: time.Since(start).Milliseconds()}
	return domain.FailedResponse(req.TaskID, domain.CodeTimeout,
		"task did not complete before the deadline", m)
}
