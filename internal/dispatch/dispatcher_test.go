package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"cartrita/internal/cost"
	"cartrita/internal/domain"
	"cartrita/internal/infra/logger"
	"cartrita/internal/quality"
	"cartrita/internal/router"
	"cartrita/internal/transport"
)

// echoResponder subscribes an agent-type topic and answers every
// request with a canned response, like a pool would.
func echoResponder(t *testing.T, tr domain.Transport, topic string, respond func(domain.TaskRequest) domain.TaskResponse) {
	t.Helper()
	unsub := tr.Subscribe(topic, func(ctx context.Context, msg domain.Message) error {
		req, err := domain.DecodeTaskRequest(msg)
		if err != nil {
			return err
		}
		reply, err := domain.NewResponseMessage(topic, msg.Sender, msg.ID, respond(req))
		if err != nil {
			return err
		}
		return tr.Publish(ctx, reply)
	})
	t.Cleanup(unsub)
}

func newDispatcher(t *testing.T, tr domain.Transport, rules []router.Rule, cfg Config) *Dispatcher {
	t.Helper()
	d := New(cfg, router.New(rules), tr, nil, quality.NewGate(quality.GateConfig{}), logger.Discard())
	t.Cleanup(d.Close)
	return d
}

func TestDispatchRoundTrip(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()

	rules := []router.Rule{{TaskType: "writer.content.create", AgentType: "writer", Priority: 100}}
	d := newDispatcher(t, tr, rules, Config{})

	echoResponder(t, tr, "writer", func(req domain.TaskRequest) domain.TaskResponse {
		return domain.CompletedResponse(req.TaskID, "drafted", domain.TaskMetrics{ProcessingTimeMs: 5})
	})

	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{
		TaskType:   "writer.content.create",
		Parameters: map[string]any{"prompt": "hello"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", resp.Status)
	}
	if resp.Result != "drafted" {
		t.Fatalf("result = %v", resp.Result)
	}
	if resp.TaskID == "" {
		t.Fatal("expected a generated task id")
	}
	if resp.Metrics.QueueTimeMs < 0 {
		t.Fatalf("queue time = %d, want >= 0", resp.Metrics.QueueTimeMs)
	}
}

func TestDispatchValidationIsLoud(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()
	d := newDispatcher(t, tr, nil, Config{})

	_, err := d.Dispatch(context.Background(), domain.TaskRequest{TaskType: ""})
	if err == nil {
		t.Fatal("expected a validation error for an empty task type")
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
}

func TestDispatchTimeoutBecomesFailedResponse(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()

	rules := []router.Rule{{TaskType: "writer.content.create", AgentType: "writer", Priority: 100}}
	d := newDispatcher(t, tr, rules, Config{Timeout: 30 * time.Millisecond})

	// Nobody subscribes "writer": the request vanishes and the wait
	// must expire into a synthesized FAILED response, not an error.
	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{
		TaskID:   "t-timeout",
		TaskType: "writer.content.create",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", resp.Status)
	}
	if resp.ErrorCode != domain.CodeTimeout {
		t.Fatalf("errorCode = %s, want %s", resp.ErrorCode, domain.CodeTimeout)
	}
	if resp.TaskID != "t-timeout" {
		t.Fatalf("taskId = %s", resp.TaskID)
	}
}

func TestDispatchContextCancellation(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()
	d := newDispatcher(t, tr, nil, Config{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := d.Dispatch(ctx, domain.TaskRequest{TaskType: "writer.content.create"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != domain.StatusFailed || resp.ErrorCode != domain.CodeTimeout {
		t.Fatalf("got status=%s code=%s, want FAILED/TIMEOUT", resp.Status, resp.ErrorCode)
	}
}

func TestDispatchRequestDeadlineTightensTimeout(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()
	d := newDispatcher(t, tr, nil, Config{Timeout: time.Minute})

	start := time.Now()
	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{
		TaskType: "writer.content.create",
		Deadline: time.Now().Add(25 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dispatch waited %v despite the request deadline", elapsed)
	}
	if resp.ErrorCode != domain.CodeTimeout {
		t.Fatalf("errorCode = %s, want %s", resp.ErrorCode, domain.CodeTimeout)
	}
}

func TestDispatchAttachesPostCheckWarnings(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()

	rules := []router.Rule{{TaskType: "writer.content.create", AgentType: "writer", Priority: 100}}
	d := newDispatcher(t, tr, rules, Config{})

	echoResponder(t, tr, "writer", func(req domain.TaskRequest) domain.TaskResponse {
		// Completed with a nil result triggers the empty-result warning.
		return domain.CompletedResponse(req.TaskID, nil, domain.TaskMetrics{})
	})

	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{TaskType: "writer.content.create"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(resp.Warnings) == 0 {
		t.Fatal("expected an empty-result warning")
	}
}

func TestDispatchBudgetRejectionIsQuiet(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()

	budget := cost.NewBudget(cost.BudgetConfig{MaxUSD: 0.001}, cost.NewManager())
	budget.Record(domain.TaskResponse{
		Status:  domain.StatusCompleted,
		Metrics: domain.TaskMetrics{CostUSD: 1.0},
	})

	d := New(Config{}, router.New(nil), tr, budget, quality.NewGate(quality.GateConfig{}), logger.Discard())
	defer d.Close()

	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{TaskType: "writer.content.create"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", resp.Status)
	}
	if resp.ErrorCode != domain.CodeBudgetExceeded {
		t.Fatalf("errorCode = %s, want %s", resp.ErrorCode, domain.CodeBudgetExceeded)
	}
}

func TestNewWithNilGate(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()

	rules := []router.Rule{{TaskType: "writer.content.create", AgentType: "writer", Priority: 100}}
	d := New(Config{}, router.New(rules), tr, nil, nil, logger.Discard())
	defer d.Close()

	echoResponder(t, tr, "writer", func(req domain.TaskRequest) domain.TaskResponse {
		return domain.CompletedResponse(req.TaskID, "ok", domain.TaskMetrics{})
	})

	// Validation still applies through the default gate.
	_, err := d.Dispatch(context.Background(), domain.TaskRequest{TaskType: ""})
	if err == nil {
		t.Fatal("expected a validation error from the default gate")
	}

	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{
		TaskType: "writer.content.create",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", resp.Status)
	}
}

func TestDispatchDefaultRouteFallback(t *testing.T) {
	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()
	d := newDispatcher(t, tr, nil, Config{})

	echoResponder(t, tr, router.DefaultAgentType, func(req domain.TaskRequest) domain.TaskResponse {
		return domain.CompletedResponse(req.TaskID, "handled by default", domain.TaskMetrics{})
	})

	resp, err := d.Dispatch(context.Background(), domain.TaskRequest{TaskType: "unknown.task.kind"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Result != "handled by default" {
		t.Fatalf("result = %v", resp.Result)
	}
}
