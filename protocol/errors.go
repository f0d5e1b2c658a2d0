package protocol

import "fmt"

// ErrorCode is one of the stable string constants carried verbatim in
// the wire envelope, rather than a numeric code.
type ErrorCode string

const (
	CodeProtocolViolation  ErrorCode = "PROTOCOL_VIOLATION"
	CodeNegotiationFailed  ErrorCode = "PROTOCOL_NEGOTIATION_FAILED"
	CodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	CodeUnsupportedTool    ErrorCode = "UNSUPPORTED_TOOL"
	CodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	CodeToolExecutionError ErrorCode = "TOOL_EXECUTION_ERROR"
	CodeHandlerError       ErrorCode = "HANDLER_ERROR"
	CodeServerError        ErrorCode = "SERVER_ERROR"
)

// Error is a structured protocol-level error, carrying a stable code and
// message plus optional context used by specific error replies (e.g. the
// list of supported versions on a negotiation failure).
type Error struct {
	Code              ErrorCode
	Message           string
	SupportedVersions []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a plain *Error with no context fields.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewInvalidArgument builds an INVALID_ARGUMENT error for a missing or
// malformed tool parameter.
func NewInvalidArgument(message string) *Error {
	return NewError(CodeInvalidArgument, message)
}

// NewUnsupportedTool builds an UNSUPPORTED_TOOL error naming the tool.
func NewUnsupportedTool(tool string) *Error {
	return NewError(CodeUnsupportedTool, fmt.Sprintf("unsupported tool: %s", tool))
}

// NewNegotiationFailed builds a PROTOCOL_NEGOTIATION_FAILED error carrying
// the server's supported version list.
func NewNegotiationFailed(message string, supported []string) *Error {
	return &Error{Code: CodeNegotiationFailed, Message: message, SupportedVersions: supported}
}

// AsError unwraps err into a *Error, or wraps it as a generic internal
// fault (CodeToolExecutionError) when it isn't already one.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return NewError(CodeToolExecutionError, err.Error())
}
