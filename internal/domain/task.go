package domain

import (
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskStatus tracks a task through its lifecycle. COMPLETED and FAILED
// are the only terminal states.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidStatus reports whether s is a known TaskStatus value.
func ValidStatus(s string) bool {
	switch TaskStatus(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TaskRequest describes one unit of agent work. It is treated as
// immutable once dispatched.
type TaskRequest struct {
	TaskID     string         `json:"taskId"`
	TaskType   string         `json:"taskType"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	Deadline   time.Time      `json:"deadline,omitempty"`
}

// Domain returns the leading namespace segment of the task type
// (e.g. "research" for "research.web.search").
func (r TaskRequest) Domain() string {
	if idx := strings.IndexByte(r.TaskType, '.'); idx >= 0 {
		return r.TaskType[:idx]
	}
	return r.TaskType
}

// TaskMetrics accompanies every response, on both the success and
// failure paths. Cost and token figures are estimates, not billing data.
type TaskMetrics struct {
	ProcessingTimeMs int64              `json:"processingTimeMs"`
	QueueTimeMs      int64              `json:"queueTimeMs"`
	RetryCount       int                `json:"retryCount"`
	CostUSD          float64            `json:"costUsd"`
	TokensUsed       int                `json:"tokensUsed"`
	CustomMetrics    map[string]float64 `json:"customMetrics,omitempty"`
}

// TaskResponse is correlated to exactly one TaskRequest by TaskID.
// It is created once at the end of an agent's execute path and never
// mutated after return.
type TaskResponse struct {
	TaskID       string      `json:"taskId"`
	Status       TaskStatus  `json:"status"`
	Result       any         `json:"result,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	ErrorCode    ErrorCode   `json:"errorCode,omitempty"`
	Metrics      TaskMetrics `json:"metrics"`
	Warnings     []string    `json:"warnings"`
}

// CompletedResponse builds a successful response for a task.
func CompletedResponse(taskID string, result any, metrics TaskMetrics) TaskResponse {
	return TaskResponse{
		TaskID:   taskID,
		Status:   StatusCompleted,
		Result:   result,
		Metrics:  metrics,
		Warnings: []string{},
	}
}

// FailedResponse builds a failure response carrying a machine-checkable
// error code and a human-readable message.
func FailedResponse(taskID string, code ErrorCode, message string, metrics TaskMetrics) TaskResponse {
	return TaskResponse{
		TaskID:       taskID,
		Status:       StatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
		Metrics:      metrics,
		Warnings:     []string{},
	}
}

// NewTaskID generates a ULID task identifier.
func NewTaskID() string {
	now := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
