package domain

import "context"

// AgentCapabilities describes what an agent instance can do, used by
// routing-rule requirements and pool lookup.
type AgentCapabilities struct {
	TaskTypes    []string `json:"task_types"    yaml:"task_types"`
	MemoryMB     int      `json:"memory_mb"     yaml:"memory_mb"`
	MaxLatencyMs int      `json:"max_latency_ms" yaml:"max_latency_ms"`
	GPU          bool     `json:"gpu"           yaml:"gpu"`
}

// Supports reports whether the agent handles the exact task type.
func (c AgentCapabilities) Supports(taskType string) bool {
	for _, t := range c.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// Agent is the uniform contract every wrapper implements. Execute never
// returns a task failure as an error: handler failures become FAILED
// responses, and the error return is reserved for transport-level
// problems (e.g. an unmarshalable request).
type Agent interface {
	// Name is the unique instance name within a pool.
	Name() string
	// Initialize prepares the agent. Idempotent: repeated calls after
	// the first success are no-ops. A failure leaves the agent unusable.
	Initialize(ctx context.Context) error
	// Execute runs one task to a terminal TaskResponse.
	Execute(ctx context.Context, req TaskRequest) (TaskResponse, error)
	// Shutdown releases resources. Errors are logged by pools, not fatal.
	Shutdown(ctx context.Context) error
	// Capabilities returns the agent's static capability attributes.
	Capabilities() AgentCapabilities
}

// MessageHandler is invoked by a Transport for each delivered message.
// A returned error is logged by the transport and never propagated to
// other subscribers.
type MessageHandler func(ctx context.Context, msg Message) error

// Transport is the message-delivery abstraction between publishers and
// subscribers. Implementations are polymorphic over {Subscribe,
// Publish, Close} so routing and business code stay transport-agnostic:
// the in-process implementation dispatches by direct call, a socket
// implementation would add (de)serialization and network failure modes.
type Transport interface {
	// Subscribe registers a handler for every message whose recipient
	// equals topic. Returns an unsubscribe function.
	Subscribe(topic string, handler MessageHandler) (unsubscribe func())
	// Publish delivers msg to all subscribers of msg.Recipient,
	// at most once per subscriber, FIFO per topic per publisher.
	Publish(ctx context.Context, msg Message) error
	// Close drains in-flight deliveries and rejects further publishes.
	Close()
}

// BlobStore is a token-keyed binary payload store, passed explicitly to
// components that resolve cross-request binary references. Entries
// expire; a token is not a permanent handle.
type BlobStore interface {
	Put(data []byte, contentType string) (token string)
	Get(token string) (data []byte, contentType string, err error)
	Delete(token string)
}
