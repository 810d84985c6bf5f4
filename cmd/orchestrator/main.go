// Command orchestrator wires the task-routing core into a running
// process: transport, agent pools, router, dispatcher. Task requests
// arrive as JSON lines on stdin; terminal responses are written as
// JSON lines on stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartrita/internal/agents"
	"cartrita/internal/blobstore"
	"cartrita/internal/cost"
	"cartrita/internal/dispatch"
	"cartrita/internal/domain"
	"cartrita/internal/infra/config"
	"cartrita/internal/infra/logger"
	"cartrita/internal/infra/tracer"
	"cartrita/internal/pool"
	"cartrita/internal/quality"
	"cartrita/internal/router"
	"cartrita/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "orchestrator.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	tr := transport.NewInproc(log)
	defer tr.Close()

	blobs := blobstore.New(cfg.Blobs.TTL)
	defer blobs.Close()

	costs := cost.NewManager()
	budget := cost.NewBudget(cfg.Budget, costs)
	gate := quality.NewGate(cfg.Quality)

	rt := router.NewWithLogger(cfg.Routing, router.DefaultAgentType, log)

	pools, err := buildPools(ctx, cfg, rt, blobs, costs, tr, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, p := range pools {
			p.Shutdown(shutdownCtx)
		}
	}()

	d := dispatch.New(cfg.Dispatch, rt, tr, budget, gate, log)
	defer d.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("orchestrator ready",
		"pools", len(pools), "rules", len(rt.Rules()))

	return serveStdin(ctx, d, log)
}

// buildPools constructs and initializes the configured agent pools and
// starts serving their transport topics. rules lets each pool re-check
// routing-rule requirements on lookup.
func buildPools(ctx context.Context, cfg *config.Config, rules pool.RuleSource, blobs domain.BlobStore, costs *cost.Manager, tr domain.Transport, log *slog.Logger) ([]*pool.Pool, error) {
	pools := make([]*pool.Pool, 0, len(cfg.Pools))
	for _, pc := range cfg.Pools {
		workers := make([]domain.Agent, 0, pc.Agents)
		for i := 0; i < pc.Agents; i++ {
			name := fmt.Sprintf("%s-%d", pc.Name, i+1)
			a, err := buildAgent(pc.Name, name, blobs, costs, log)
			if err != nil {
				return nil, fmt.Errorf("pool %s: %w", pc.Name, err)
			}
			workers = append(workers, a)
		}

		p := pool.New(pc.Name, pc.Topic, workers, log)
		p.SetRules(rules)
		if err := p.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("pool %s: %w", pc.Name, err)
		}
		p.Serve(tr)
		pools = append(pools, p)
	}
	return pools, nil
}

// buildAgent maps a pool family name to its agent constructor. A nil
// InvokeFunc selects each agent's local stub backend.
func buildAgent(family, name string, blobs domain.BlobStore, costs *cost.Manager, log *slog.Logger) (domain.Agent, error) {
	switch family {
	case "writer":
		return agents.NewWriter(name, nil, costs, log)
	case "research":
		return agents.NewResearch(name, nil, blobs, costs, log)
	case "codewriter":
		return agents.NewCodeWriter(name, nil, costs, log)
	default:
		return nil, fmt.Errorf("unknown agent family %q", family)
	}
}

// serveStdin reads one task per line — a bare task request or a full
// transport envelope — and prints each terminal response as a JSON
// line. EOF or a signal ends the loop.
func serveStdin(ctx context.Context, d *dispatch.Dispatcher, log *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := decodeRequestLine(line)
		if err != nil {
			log.Error("skipping malformed request line", "error", err)
			continue
		}

		resp, err := d.Dispatch(ctx, req)
		if err != nil {
			log.Error("request rejected", "task_type", req.TaskType, "error", err)
			continue
		}
		if err := out.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	log.Info("orchestrator shutting down")
	return nil
}

// decodeRequestLine parses one input line. A line carrying a
// message_type field is treated as a transport envelope: it is run
// through the envelope validator before its payload is unwrapped.
// Anything else is decoded as a bare task request.
func decodeRequestLine(line []byte) (domain.TaskRequest, error) {
	var req domain.TaskRequest

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return req, err
	}

	if _, ok := raw["message_type"]; !ok {
		err := json.Unmarshal(line, &req)
		return req, err
	}

	msg, err := domain.ValidateMessage(raw)
	if err != nil {
		return req, err
	}
	if msg.Type != domain.MessageTaskRequest {
		return req, fmt.Errorf("unsupported input message_type %q", msg.Type)
	}

	payload, err := json.Marshal(raw["payload"])
	if err != nil {
		return req, fmt.Errorf("re-encode payload: %w", err)
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode payload: %w", err)
	}
	return req, nil
}
