package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrDuplicate      = fmt.Errorf("duplicate")
	ErrTimeout        = fmt.Errorf("operation timed out")
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrNotInitialized = fmt.Errorf("not initialized")
)

// Sentinel errors for the orchestration core.
var (
	ErrAgentNotFound    = fmt.Errorf("agent not found")
	ErrAgentDuplicate   = fmt.Errorf("agent already registered")
	ErrPoolNotReady     = fmt.Errorf("agent pool: %w", ErrNotInitialized)
	ErrTransportClosed  = fmt.Errorf("transport closed")
	ErrBudgetExceeded   = fmt.Errorf("budget exceeded")
	ErrRateLimited      = fmt.Errorf("request rate limit exceeded")
	ErrBlobNotFound     = fmt.Errorf("blob token: %w", ErrNotFound)
	ErrUnsupportedTask  = fmt.Errorf("unsupported task type")
	ErrInitFailed       = fmt.Errorf("agent initialization failed")
	ErrRequirementsFail = fmt.Errorf("rule requirements not met")
)

// ErrorCode is the machine-checkable tag carried by FAILED task
// responses. It exists for programmatic branching upstream (retry
// logic), not for display.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeBudgetExceeded   ErrorCode = "BUDGET_EXCEEDED"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodePoolNotReady     ErrorCode = "POOL_NOT_READY"
	CodeTransportClosed  ErrorCode = "TRANSPORT_CLOSED"
	CodeUnsupportedTask  ErrorCode = "UNSUPPORTED_TASK_TYPE"
	CodeBlobNotFound     ErrorCode = "BLOB_NOT_FOUND"

	// Per-domain execution error codes, one per agent domain.
	CodeWriterError     ErrorCode = "WRITER_ERROR"
	CodeResearchError   ErrorCode = "RESEARCH_ERROR"
	CodeCodeWriterError ErrorCode = "CODEWRITER_ERROR"
)

// errorCodeMap maps sentinel errors to their codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTimeout:         CodeTimeout,
	ErrBudgetExceeded:  CodeBudgetExceeded,
	ErrRateLimited:     CodeRateLimited,
	ErrAgentNotFound:   CodeAgentNotFound,
	ErrPoolNotReady:    CodePoolNotReady,
	ErrTransportClosed: CodeTransportClosed,
	ErrUnsupportedTask: CodeUnsupportedTask,
	ErrBlobNotFound:    CodeBlobNotFound,
	ErrInvalidInput:    CodeValidationFailed,
}

// ErrorCodeOf resolves the code for an error, unwrapping as needed.
// Unknown errors map to CodeUnknown.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return CodeValidationFailed
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "pool.Initialize")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
