package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cartrita/internal/cost"
	"cartrita/internal/domain"
)

// InvokeFunc is the outbound capability call an agent makes for one
// task. Tests and bootstrap inject alternatives; production wiring
// points it at an inference client.
type InvokeFunc func(ctx context.Context, taskType string, input string) (string, error)

const writerParamsSchema = `{
	"type": "object",
	"properties": {
		"prompt":   {"type": "string"},
		"text":     {"type": "string"},
		"tone":     {"type": "string"},
		"maxWords": {"type": "integer", "minimum": 1}
	}
}`

// Writer adapts a text-generation capability into the task contract.
type Writer struct {
	*Base
	invoke InvokeFunc
}

// NewWriter constructs a writer agent. A nil invoke falls back to the
// local composition stub.
func NewWriter(name string, invoke InvokeFunc, costs *cost.Manager, logger *slog.Logger) (*Writer, error) {
	w := &Writer{
		Base: NewBase(name, "writer", domain.CodeWriterError, domain.AgentCapabilities{
			MemoryMB:     512,
			MaxLatencyMs: 2000,
		}, costs, logger),
		invoke: invoke,
	}
	if w.invoke == nil {
		w.invoke = composeLocally
	}

	for taskType, h := range map[string]Handler{
		"writer.content.create":    w.handleCreate,
		"writer.content.rewrite":   w.handleRewrite,
		"writer.content.summarize": w.handleSummarize,
	} {
		if err := w.Handle(taskType, writerParamsSchema, h); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) handleCreate(ctx context.Context, req domain.TaskRequest) (any, error) {
	prompt, _ := req.Parameters["prompt"].(string)
	if prompt == "" {
		return nil, errors.New("Prompt is required")
	}
	content, err := w.call(ctx, req.TaskType, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content, "prompt": prompt}, nil
}

func (w *Writer) handleRewrite(ctx context.Context, req domain.TaskRequest) (any, error) {
	text, _ := req.Parameters["text"].(string)
	if text == "" {
		return nil, errors.New("Text is required")
	}
	tone, _ := req.Parameters["tone"].(string)
	input := text
	if tone != "" {
		input = fmt.Sprintf("[%s] %s", tone, text)
	}
	content, err := w.call(ctx, req.TaskType, input)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content}, nil
}

func (w *Writer) handleSummarize(ctx context.Context, req domain.TaskRequest) (any, error) {
	text, _ := req.Parameters["text"].(string)
	if text == "" {
		return nil, errors.New("Text is required")
	}
	content, err := w.call(ctx, req.TaskType, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": content}, nil
}

// call runs the outbound invocation through the circuit breaker.
func (w *Writer) call(ctx context.Context, taskType, input string) (string, error) {
	out, err := w.Invoke(func() (any, error) {
		return w.invoke(ctx, taskType, input)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// composeLocally is the default stub capability used when no inference
// client is wired in.
func composeLocally(_ context.Context, taskType, input string) (string, error) {
	switch taskType {
	case "writer.content.summarize":
		words := strings.Fields(input)
		if len(words) > 12 {
			words = words[:12]
		}
		return strings.Join(words, " "), nil
	default:
		return fmt.Sprintf("Draft for %q", input), nil
	}
}
