package domain

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of payload inside a transport envelope.
type MessageType string

const (
	MessageTaskRequest  MessageType = "task.request"
	MessageTaskResponse MessageType = "task.response"
	MessageEvent        MessageType = "event"
)

// ValidMessageType reports whether s is a known MessageType value.
func ValidMessageType(s string) bool {
	switch MessageType(s) {
	case MessageTaskRequest, MessageTaskResponse, MessageEvent:
		return true
	}
	return false
}

// Message is the transport-level envelope wrapping a TaskRequest or
// TaskResponse. CorrelationID on a response equals the ID of the
// originating request message, which is what makes asynchronous
// request/response matching possible over a broadcast-style channel.
type Message struct {
	ID            string          `json:"id"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Type          MessageType     `json:"message_type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewRequestMessage wraps a task request into an envelope addressed to
// the given recipient topic.
func NewRequestMessage(sender, recipient string, req TaskRequest) (Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Message{}, WrapOp("envelope.request", err)
	}
	return Message{
		ID:        NewTaskID(),
		Sender:    sender,
		Recipient: recipient,
		Type:      MessageTaskRequest,
		Timestamp: time.Now(),
		Payload:   payload,
	}, nil
}

// NewResponseMessage wraps a task response into an envelope correlated
// to the originating request message.
func NewResponseMessage(sender, recipient, correlationID string, resp TaskResponse) (Message, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return Message{}, WrapOp("envelope.response", err)
	}
	return Message{
		ID:            NewTaskID(),
		Sender:        sender,
		Recipient:     recipient,
		Type:          MessageTaskResponse,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
		Payload:       payload,
	}, nil
}

// DecodeTaskRequest extracts the TaskRequest payload from an envelope.
func DecodeTaskRequest(msg Message) (TaskRequest, error) {
	var req TaskRequest
	if msg.Type != MessageTaskRequest {
		return req, NewDomainError("envelope.decode", ErrInvalidInput, "message_type is not task.request")
	}
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return req, WrapOp("envelope.decode", err)
	}
	return req, nil
}

// DecodeTaskResponse extracts the TaskResponse payload from an envelope.
func DecodeTaskResponse(msg Message) (TaskResponse, error) {
	var resp TaskResponse
	if msg.Type != MessageTaskResponse {
		return resp, NewDomainError("envelope.decode", ErrInvalidInput, "message_type is not task.response")
	}
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return resp, WrapOp("envelope.decode", err)
	}
	return resp, nil
}
