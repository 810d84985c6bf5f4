package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cartrita/internal/cost"
	"cartrita/internal/domain"
)

const codewriterParamsSchema = `{
	"type": "object",
	"properties": {
		"specification": {"type": "string"},
		"code":          {"type": "string"},
		"language":      {"type": "string"}
	}
}`

// CodeWriter adapts a code-generation capability.
type CodeWriter struct {
	*Base
	invoke InvokeFunc
}

// NewCodeWriter constructs a codewriter agent.
func NewCodeWriter(name string, invoke InvokeFunc, costs *cost.Manager, logger *slog.Logger) (*CodeWriter, error) {
	c := &CodeWriter{
		Base: NewBase(name, "codewriter", domain.CodeCodeWriterError, domain.AgentCapabilities{
			MemoryMB:     2048,
			MaxLatencyMs: 10000,
		}, costs, logger),
		invoke: invoke,
	}
	if c.invoke == nil {
		c.invoke = generateLocally
	}

	for taskType, h := range map[string]Handler{
		"codewriter.code.generate": c.handleGenerate,
		"codewriter.code.review":   c.handleReview,
	} {
		if err := c.Handle(taskType, codewriterParamsSchema, h); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *CodeWriter) handleGenerate(ctx context.Context, req domain.TaskRequest) (any, error) {
	spec, _ := req.Parameters["specification"].(string)
	if spec == "" {
		return nil, errors.New("Specification is required")
	}
	lang, _ := req.Parameters["language"].(string)
	if lang == "" {
		lang = "go"
	}
	out, err := c.call(ctx, req.TaskType, spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"code": out, "language": lang}, nil
}

func (c *CodeWriter) handleReview(ctx context.Context, req domain.TaskRequest) (any, error) {
	code, _ := req.Parameters["code"].(string)
	if code == "" {
		return nil, errors.New("Code is required")
	}
	out, err := c.call(ctx, req.TaskType, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"review": out}, nil
}

func (c *CodeWriter) call(ctx context.Context, taskType, input string) (string, error) {
	out, err := c.Invoke(func() (any, error) {
		return c.invoke(ctx, taskType, input)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func generateLocally(_ context.Context, taskType, input string) (string, error) {
	if taskType == "codewriter.code.review" {
		return "No issues found (stub review)", nil
	}
	return fmt.Sprintf("// stub backend output for %q\n", input), nil
}
