package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure surfaced to callers.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// Environment errors
	ErrCodeToolMissing        ErrorCode = "TOOL_MISSING"
	ErrCodeWorkingDirRequired ErrorCode = "WORKING_DIR_REQUIRED"
	ErrCodeWorkingDirInvalid  ErrorCode = "WORKING_DIR_INVALID"

	// Session lifecycle errors
	ErrCodeLaunchFailed      ErrorCode = "LAUNCH_FAILED"
	ErrCodeCaptureFailed     ErrorCode = "CAPTURE_FAILED"
	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionNotAlive   ErrorCode = "SESSION_NOT_ALIVE"
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"

	// Command execution errors
	ErrCodeCommandFailed ErrorCode = "COMMAND_FAILED"

	// Daemon errors
	ErrCodeDaemonUnavailable ErrorCode = "DAEMON_UNAVAILABLE"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// AgentError is a structured error carrying a code and optional details.
type AgentError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair and returns the receiver.
func (e *AgentError) WithDetail(key string, value interface{}) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a string detail, or "" when absent.
func (e *AgentError) Detail(key string) string {
	if v, ok := e.Details[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// ToJSON renders the error as indented JSON.
func (e *AgentError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new AgentError
func New(code ErrorCode, message string) *AgentError {
	return &AgentError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code ErrorCode, message string) *AgentError {
	return &AgentError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// As returns the first AgentError in err's chain.
func As(err error) (*AgentError, bool) {
	var agentErr *AgentError
	if stderrors.As(err, &agentErr) {
		return agentErr, true
	}
	return nil, false
}

// Is reports whether any AgentError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		agentErr, ok := As(err)
		if !ok {
			return false
		}
		if agentErr.Code == code {
			return true
		}
		err = agentErr.Cause
	}
	return false
}

// GetCode extracts the outermost error code from err.
func GetCode(err error) ErrorCode {
	agentErr, ok := As(err)
	if !ok {
		return ""
	}
	return agentErr.Code
}
