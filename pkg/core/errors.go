package core

import (
	"fmt"
)

// Error represents a classified engine error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrHandshake        ErrorType = "handshake_error"
	ErrChannelTimeout   ErrorType = "channel_timeout"
	ErrChannelClosed    ErrorType = "channel_closed"
	ErrToolDisallowed   ErrorType = "tool_disallowed"
	ErrMissingProjectID ErrorType = "missing_project_id"
	ErrMissingArgument  ErrorType = "missing_required_argument"
	ErrUnresolvedPtr    ErrorType = "unresolved_message_pointer"
	ErrPersistence      ErrorType = "persistence_failure"
	ErrDraftWorker      ErrorType = "draft_worker_failure"
	ErrSessionState     ErrorType = "session_state_error"
	ErrInvalidRequest   ErrorType = "invalid_request_error"
)

// NewHandshakeError creates a signaling handshake error.
func NewHandshakeError(message string) *Error {
	return &Error{
		Type:    ErrHandshake,
		Message: message,
	}
}

// NewChannelTimeoutError creates a control-channel readiness timeout error.
func NewChannelTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrChannelTimeout,
		Message: message,
	}
}

// NewChannelClosedError creates a control-channel closed error.
func NewChannelClosedError(message string) *Error {
	return &Error{
		Type:    ErrChannelClosed,
		Message: message,
	}
}

// NewToolDisallowedError creates an allow-list rejection error for a tool name.
func NewToolDisallowedError(message, tool string) *Error {
	return &Error{
		Type:    ErrToolDisallowed,
		Message: message,
		Param:   tool,
	}
}

// NewMissingProjectIDError creates a project resolution failure error.
func NewMissingProjectIDError(message string) *Error {
	return &Error{
		Type:    ErrMissingProjectID,
		Message: message,
	}
}

// NewMissingArgumentError creates a missing required argument error.
func NewMissingArgumentError(message, param string) *Error {
	return &Error{
		Type:    ErrMissingArgument,
		Message: message,
		Param:   param,
	}
}

// NewUnresolvedPointerError creates a message-pointer resolution miss error.
func NewUnresolvedPointerError(pointer string) *Error {
	return &Error{
		Type:    ErrUnresolvedPtr,
		Message: fmt.Sprintf("message pointer %q has no durable mapping yet", pointer),
		Param:   pointer,
	}
}

// NewPersistenceError wraps a collaborator store failure.
func NewPersistenceError(op string, underlying error) *Error {
	return &Error{
		Type:    ErrPersistence,
		Message: fmt.Sprintf("%s: %v", op, underlying),
		Code:    op,
	}
}

// NewDraftWorkerError wraps a background drafting worker failure.
func NewDraftWorkerError(message string) *Error {
	return &Error{
		Type:    ErrDraftWorker,
		Message: message,
	}
}

// NewSessionStateError creates an invalid lifecycle transition error.
func NewSessionStateError(message string) *Error {
	return &Error{
		Type:    ErrSessionState,
		Message: message,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// IsFatal reports whether the error terminates the session. Only transport
// level failures are fatal; tool and collaborator failures are conversational.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrHandshake, ErrChannelTimeout, ErrChannelClosed:
		return true
	default:
		return false
	}
}
