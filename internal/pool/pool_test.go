package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartrita/internal/domain"
	"cartrita/internal/infra/logger"
	"cartrita/internal/router"
	"cartrita/internal/transport"
)

// fakeAgent records lifecycle calls and returns canned responses.
type fakeAgent struct {
	name         string
	caps         domain.AgentCapabilities
	initCalls    int
	shutCalls    int
	initErr      error
	shutdownErr  error
	executeCalls int
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Initialize(context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeAgent) Execute(_ context.Context, req domain.TaskRequest) (domain.TaskResponse, error) {
	f.executeCalls++
	return domain.CompletedResponse(req.TaskID, map[string]any{"by": f.name}, domain.TaskMetrics{}), nil
}

func (f *fakeAgent) Shutdown(context.Context) error {
	f.shutCalls++
	return f.shutdownErr
}

func (f *fakeAgent) Capabilities() domain.AgentCapabilities { return f.caps }

func writerCaps() domain.AgentCapabilities {
	return domain.AgentCapabilities{
		TaskTypes: []string{"writer.content.create"},
		MemoryMB:  512,
	}
}

func TestInitializeAndGet(t *testing.T) {
	a := &fakeAgent{name: "writer-1", caps: writerCaps()}
	p := New("writer", "writer", []domain.Agent{a}, logger.Discard())

	require.NoError(t, p.Initialize(context.Background()))
	assert.True(t, p.Initialized())

	got, err := p.Get("writer.content.create")
	require.NoError(t, err)
	assert.Equal(t, "writer-1", got.Name())
}

func TestGetBeforeInitialize(t *testing.T) {
	p := New("writer", "writer", []domain.Agent{&fakeAgent{name: "w"}}, logger.Discard())
	_, err := p.Get("writer.content.create")
	assert.ErrorIs(t, err, domain.ErrPoolNotReady)
}

func TestInitializeFailFastRollsBack(t *testing.T) {
	first := &fakeAgent{name: "a1"}
	second := &fakeAgent{name: "a2", initErr: errors.New("missing credentials")}
	third := &fakeAgent{name: "a3"}
	p := New("writer", "writer", []domain.Agent{first, second, third}, logger.Discard())

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, p.Initialized())

	// The failing agent aborted the pool: the third was never touched,
	// the first was rolled back.
	assert.Equal(t, 1, first.initCalls)
	assert.Equal(t, 1, first.shutCalls)
	assert.Equal(t, 0, third.initCalls)

	_, err = p.Get("writer.content.create")
	assert.ErrorIs(t, err, domain.ErrPoolNotReady, "a failed pool must not serve lookups")
}

func TestInitializeIdempotent(t *testing.T) {
	a := &fakeAgent{name: "w"}
	p := New("writer", "writer", []domain.Agent{a}, logger.Discard())
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, 1, a.initCalls)
}

func TestShutdownReachesEveryAgent(t *testing.T) {
	first := &fakeAgent{name: "a1"}
	second := &fakeAgent{name: "a2", shutdownErr: errors.New("stuck connection")}
	third := &fakeAgent{name: "a3"}
	p := New("writer", "writer", []domain.Agent{first, second, third}, logger.Discard())
	require.NoError(t, p.Initialize(context.Background()))

	p.Shutdown(context.Background())

	assert.Equal(t, 1, first.shutCalls)
	assert.Equal(t, 1, second.shutCalls, "a failing sibling must not block shutdown")
	assert.Equal(t, 1, third.shutCalls)
	assert.False(t, p.Initialized())

	_, err := p.Get("writer.content.create")
	assert.ErrorIs(t, err, domain.ErrPoolNotReady)
}

func TestRoundRobinTieBreak(t *testing.T) {
	a := &fakeAgent{name: "w1", caps: writerCaps()}
	b := &fakeAgent{name: "w2", caps: writerCaps()}
	p := New("writer", "writer", []domain.Agent{a, b}, logger.Discard())
	require.NoError(t, p.Initialize(context.Background()))

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		got, err := p.Get("writer.content.create")
		require.NoError(t, err)
		seen[got.Name()]++
	}
	assert.Equal(t, 2, seen["w1"])
	assert.Equal(t, 2, seen["w2"])
}

func TestNamespaceFallbackSelection(t *testing.T) {
	writer := &fakeAgent{name: "w", caps: writerCaps()}
	research := &fakeAgent{name: "r", caps: domain.AgentCapabilities{
		TaskTypes: []string{"research.web.search"},
	}}
	p := New("mixed", "mixed", []domain.Agent{writer, research}, logger.Discard())
	require.NoError(t, p.Initialize(context.Background()))

	// No exact capability for the task, but the research agent owns the
	// namespace.
	got, err := p.Get("research.web.extract")
	require.NoError(t, err)
	assert.Equal(t, "r", got.Name())
}

func TestGetFilteredRequirements(t *testing.T) {
	small := &fakeAgent{name: "small", caps: domain.AgentCapabilities{
		TaskTypes: []string{"writer.content.create"}, MemoryMB: 256,
	}}
	big := &fakeAgent{name: "big", caps: domain.AgentCapabilities{
		TaskTypes: []string{"writer.content.create"}, MemoryMB: 4096,
	}}
	p := New("writer", "writer", []domain.Agent{small, big}, logger.Discard())
	require.NoError(t, p.Initialize(context.Background()))

	got, err := p.GetFiltered("writer.content.create", func(c domain.AgentCapabilities) bool {
		return c.MemoryMB >= 1024
	})
	require.NoError(t, err)
	assert.Equal(t, "big", got.Name())

	_, err = p.GetFiltered("writer.content.create", func(c domain.AgentCapabilities) bool {
		return c.GPU
	})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestServeAnswersOverTransport(t *testing.T) {
	a := &fakeAgent{name: "w1", caps: writerCaps()}
	p := New("writer", "writer", []domain.Agent{a}, logger.Discard())
	require.NoError(t, p.Initialize(context.Background()))

	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()
	p.Serve(tr)

	var got domain.Message
	tr.Subscribe("dispatcher", func(_ context.Context, m domain.Message) error {
		got = m
		return nil
	})

	req := domain.TaskRequest{TaskID: "t1", TaskType: "writer.content.create"}
	msg, err := domain.NewRequestMessage("dispatcher", "writer", req)
	require.NoError(t, err)
	require.NoError(t, tr.Publish(context.Background(), msg))

	require.Equal(t, domain.MessageTaskResponse, got.Type)
	assert.Equal(t, msg.ID, got.CorrelationID)

	resp, err := domain.DecodeTaskResponse(got)
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, 1, a.executeCalls)
}

// serveOnce initializes and serves p, publishes req addressed to the
// pool topic, and returns the correlated response.
func serveOnce(t *testing.T, p *Pool, req domain.TaskRequest) domain.TaskResponse {
	t.Helper()
	require.NoError(t, p.Initialize(context.Background()))

	tr := transport.NewInproc(logger.Discard())
	defer tr.Close()
	p.Serve(tr)

	var got domain.Message
	tr.Subscribe("dispatcher", func(_ context.Context, m domain.Message) error {
		got = m
		return nil
	})

	msg, err := domain.NewRequestMessage("dispatcher", p.Topic(), req)
	require.NoError(t, err)
	require.NoError(t, tr.Publish(context.Background(), msg))

	resp, err := domain.DecodeTaskResponse(got)
	require.NoError(t, err)
	return resp
}

func TestServeEnforcesRuleRequirements(t *testing.T) {
	cpuOnly := &fakeAgent{name: "cpu-only", caps: domain.AgentCapabilities{
		TaskTypes: []string{"writer.content.create"}, MemoryMB: 512,
	}}
	p := New("writer", "writer", []domain.Agent{cpuOnly}, logger.Discard())
	p.SetRules(router.New([]router.Rule{{
		TaskType:     "writer.content.create",
		AgentType:    "writer",
		Priority:     100,
		Requirements: &router.Requirements{GPURequired: true},
	}}))

	resp := serveOnce(t, p, domain.TaskRequest{TaskID: "t1", TaskType: "writer.content.create"})

	// The only agent lacks a GPU: the request must not be served by it.
	assert.Equal(t, domain.StatusFailed, resp.Status)
	assert.Equal(t, domain.CodeAgentNotFound, resp.ErrorCode)
	assert.Equal(t, 0, cpuOnly.executeCalls)
}

func TestServeRuleRequirementsSelectQualifiedAgent(t *testing.T) {
	cpuOnly := &fakeAgent{name: "cpu-only", caps: domain.AgentCapabilities{
		TaskTypes: []string{"writer.content.create"}, MemoryMB: 512,
	}}
	gpu := &fakeAgent{name: "gpu", caps: domain.AgentCapabilities{
		TaskTypes: []string{"writer.content.create"}, MemoryMB: 512, GPU: true,
	}}
	p := New("writer", "writer", []domain.Agent{cpuOnly, gpu}, logger.Discard())
	p.SetRules(router.New([]router.Rule{{
		TaskType:     "writer.content.create",
		AgentType:    "writer",
		Priority:     100,
		Requirements: &router.Requirements{GPURequired: true},
	}}))

	resp := serveOnce(t, p, domain.TaskRequest{TaskID: "t2", TaskType: "writer.content.create"})

	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, 1, gpu.executeCalls)
	assert.Equal(t, 0, cpuOnly.executeCalls)
}

func TestServeWithoutRequirementsUnaffected(t *testing.T) {
	a := &fakeAgent{name: "w1", caps: writerCaps()}
	p := New("writer", "writer", []domain.Agent{a}, logger.Discard())
	p.SetRules(router.New([]router.Rule{{
		TaskType: "writer.content.create", AgentType: "writer", Priority: 100,
	}}))

	resp := serveOnce(t, p, domain.TaskRequest{TaskID: "t3", TaskType: "writer.content.create"})

	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, 1, a.executeCalls)
}
