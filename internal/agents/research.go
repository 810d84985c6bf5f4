package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cartrita/internal/cost"
	"cartrita/internal/domain"
)

const researchParamsSchema = `{
	"type": "object",
	"properties": {
		"query":      {"type": "string"},
		"url":        {"type": "string"},
		"blobToken":  {"type": "string"},
		"maxResults": {"type": "integer", "minimum": 1, "maximum": 50},
		"sources":    {"type": "array", "items": {"type": "string"}}
	}
}`

// Research adapts a web-search/extraction capability. Document payloads
// uploaded out-of-band are referenced by blobToken and resolved through
// the injected store.
type Research struct {
	*Base
	invoke InvokeFunc
	blobs  domain.BlobStore
}

// NewResearch constructs a research agent. A nil invoke falls back to
// the local stub; blobs may be nil when no binary lookup is needed.
func NewResearch(name string, invoke InvokeFunc, blobs domain.BlobStore, costs *cost.Manager, logger *slog.Logger) (*Research, error) {
	r := &Research{
		Base: NewBase(name, "research", domain.CodeResearchError, domain.AgentCapabilities{
			MemoryMB:     1024,
			MaxLatencyMs: 5000,
		}, costs, logger),
		invoke: invoke,
		blobs:  blobs,
	}
	if r.invoke == nil {
		r.invoke = searchLocally
	}

	for taskType, h := range map[string]Handler{
		"research.web.search":          r.handleSearch,
		"research.web.extract":         r.handleExtract,
		"research.analysis.synthesize": r.handleSynthesize,
	} {
		if err := r.Handle(taskType, researchParamsSchema, h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Research) handleSearch(ctx context.Context, req domain.TaskRequest) (any, error) {
	query, _ := req.Parameters["query"].(string)
	if query == "" {
		return nil, errors.New("Query is required")
	}
	raw, err := r.call(ctx, req.TaskType, query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "results": raw}, nil
}

func (r *Research) handleExtract(ctx context.Context, req domain.TaskRequest) (any, error) {
	url, _ := req.Parameters["url"].(string)
	token, _ := req.Parameters["blobToken"].(string)
	if url == "" && token == "" {
		return nil, errors.New("Url or blobToken is required")
	}

	input := url
	if token != "" {
		data, _, err := r.blobData(token)
		if err != nil {
			return nil, err
		}
		input = string(data)
	}

	raw, err := r.call(ctx, req.TaskType, input)
	if err != nil {
		return nil, err
	}
	return map[string]any{"extracted": raw}, nil
}

func (r *Research) handleSynthesize(ctx context.Context, req domain.TaskRequest) (any, error) {
	query, _ := req.Parameters["query"].(string)
	if query == "" {
		return nil, errors.New("Query is required")
	}
	raw, err := r.call(ctx, req.TaskType, query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"synthesis": raw}, nil
}

func (r *Research) blobData(token string) ([]byte, string, error) {
	if r.blobs == nil {
		return nil, "", domain.NewDomainError("research.blob", domain.ErrBlobNotFound, "no blob store configured")
	}
	return r.blobs.Get(token)
}

func (r *Research) call(ctx context.Context, taskType, input string) (string, error) {
	out, err := r.Invoke(func() (any, error) {
		return r.invoke(ctx, taskType, input)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func searchLocally(_ context.Context, taskType, input string) (string, error) {
	return fmt.Sprintf("No live backend configured; stub %s output for %q", taskType, input), nil
}
