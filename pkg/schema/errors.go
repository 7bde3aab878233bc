package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeAgentNotRegistered = "AGENT_NOT_REGISTERED"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeScopeMismatch      = "SCOPE_MISMATCH"
	ErrCodeLimitExceeded      = "LIMIT_EXCEEDED"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeStore              = "STORE_ERROR"
)

// Error is the structured error type for all agentrun operations.
// Fields carries field-keyed validation messages when Code is
// VALIDATION_ERROR; Details carries free-form diagnostic context.
type Error struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string]any      `json:"details,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
	Step    string              `json:"step,omitempty"`
	Cause   error               `json:"-"`
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the failing step name.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithFields attaches field-keyed validation messages.
func (e *Error) WithFields(fields map[string][]string) *Error {
	e.Fields = fields
	return e
}

// CodeOf returns the structured code of err, or EXECUTION_ERROR for
// errors raised outside the engine.
func CodeOf(err error) string {
	if ae, ok := err.(*Error); ok {
		return ae.Code
	}
	return ErrCodeExecution
}
