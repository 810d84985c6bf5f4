package domain

import (
	"fmt"
	"strings"
	"time"
)

// ViolationKind classifies a single field-level validation failure.
type ViolationKind string

const (
	MissingField ViolationKind = "MISSING_FIELD"
	WrongType    ViolationKind = "WRONG_TYPE"
	InvalidEnum  ViolationKind = "INVALID_ENUM"
)

// FieldViolation identifies one violated constraint by field path.
type FieldViolation struct {
	Field  string        `json:"field"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

func (v FieldViolation) String() string {
	if v.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Field, v.Kind, v.Detail)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Kind)
}

// ValidationError reports every violated constraint in a payload,
// not just the first one found.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Has reports whether the error contains a violation for the given
// field and kind. Test helper semantics, but useful for callers that
// branch on a specific constraint too.
func (e *ValidationError) Has(field string, kind ViolationKind) bool {
	for _, v := range e.Violations {
		if v.Field == field && v.Kind == kind {
			return true
		}
	}
	return false
}

type violations []FieldViolation

func (vs *violations) add(field string, kind ViolationKind, detail string) {
	*vs = append(*vs, FieldViolation{Field: field, Kind: kind, Detail: detail})
}

func (vs violations) err() error {
	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

// requireString checks presence and type of a string field in an
// untyped map, appending violations as it goes.
func requireString(vs *violations, m map[string]any, field string) string {
	raw, ok := m[field]
	if !ok || raw == nil {
		vs.add(field, MissingField, "")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		vs.add(field, WrongType, fmt.Sprintf("expected string, got %T", raw))
		return ""
	}
	if s == "" {
		vs.add(field, MissingField, "empty string")
		return ""
	}
	return s
}

// ValidateMessage checks an untyped payload against the envelope schema
// and returns the strongly-typed Message. Pure function; used
// defensively at every transport boundary so a malformed message never
// reaches the router or an agent.
func ValidateMessage(payload map[string]any) (Message, error) {
	var vs violations
	msg := Message{
		ID:        requireString(&vs, payload, "id"),
		Sender:    requireString(&vs, payload, "sender"),
		Recipient: requireString(&vs, payload, "recipient"),
	}

	typ := requireString(&vs, payload, "message_type")
	if typ != "" {
		if !ValidMessageType(typ) {
			vs.add("message_type", InvalidEnum, fmt.Sprintf("unknown message type %q", typ))
		} else {
			msg.Type = MessageType(typ)
		}
	}

	if raw, ok := payload["correlation_id"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			vs.add("correlation_id", WrongType, fmt.Sprintf("expected string, got %T", raw))
		} else {
			msg.CorrelationID = s
		}
	}
	// Responses must carry the id of the request they answer.
	if msg.Type == MessageTaskResponse && msg.CorrelationID == "" {
		vs.add("correlation_id", MissingField, "required for task.response")
	}

	if err := vs.err(); err != nil {
		return Message{}, err
	}
	msg.Timestamp = time.Now()
	return msg, nil
}

// ValidateTaskRequest enforces the structural invariants of a task
// request: taskId and taskType are non-empty, and taskType follows the
// dot-namespaced convention.
func ValidateTaskRequest(req TaskRequest) error {
	var vs violations
	if req.TaskID == "" {
		vs.add("taskId", MissingField, "")
	}
	if req.TaskType == "" {
		vs.add("taskType", MissingField, "")
	} else if strings.HasPrefix(req.TaskType, ".") || strings.HasSuffix(req.TaskType, ".") {
		vs.add("taskType", InvalidEnum, "task type must not start or end with a namespace separator")
	}
	return vs.err()
}

// ValidateTaskResponse enforces the response invariants: known status,
// result only on COMPLETED, error fields only on FAILED.
func ValidateTaskResponse(resp TaskResponse) error {
	var vs violations
	if resp.TaskID == "" {
		vs.add("taskId", MissingField, "")
	}
	if resp.Status == "" {
		vs.add("status", MissingField, "")
	} else if !ValidStatus(string(resp.Status)) {
		vs.add("status", InvalidEnum, fmt.Sprintf("unknown status %q", resp.Status))
	}
	if resp.Status == StatusFailed && resp.ErrorCode == "" {
		vs.add("errorCode", MissingField, "required when status is FAILED")
	}
	if resp.Status == StatusCompleted && resp.ErrorMessage != "" {
		vs.add("errorMessage", InvalidEnum, "must be absent when status is COMPLETED")
	}
	return vs.err()
}
