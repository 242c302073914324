package upstream

import "fmt"

// ErrorKind classifies a stream or registry failure. Kinds are stable wire
// values, safe to show to callers.
type ErrorKind string

const (
	// ErrUnreachable means no connection to the agent API could be established.
	ErrUnreachable ErrorKind = "unreachable"
	// ErrTruncated means the connection dropped mid-stream.
	ErrTruncated ErrorKind = "truncated"
	// ErrDecode means a backend payload did not match any known event shape.
	ErrDecode ErrorKind = "decode_error"
	// ErrProtocol means a well-formed but logically inconsistent event.
	ErrProtocol ErrorKind = "protocol_violation"
	// ErrCancelled means the caller went away before the turn finished.
	ErrCancelled ErrorKind = "cancelled"
	// ErrTimedOut means the turn exceeded its deadline.
	ErrTimedOut ErrorKind = "timed_out"
	// ErrRegistry means the model listing could not be fetched.
	ErrRegistry ErrorKind = "registry_unavailable"
)

// UserMessage returns a stable, caller-safe description for the kind.
// Backend-internal detail never travels through here.
func (k ErrorKind) UserMessage() string {
	switch k {
	case ErrUnreachable:
		return "the research agent could not be reached"
	case ErrTruncated:
		return "the research agent connection was lost before the answer completed"
	case ErrCancelled:
		return "the request was cancelled"
	case ErrTimedOut:
		return "the research agent took too long to answer"
	case ErrRegistry:
		return "the agent list is currently unavailable"
	default:
		return "the research agent reported an error"
	}
}

// Error is a failure tagged with its taxonomy kind. Message may contain
// internal detail and is intended for logs, not callers.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Errf builds an Error with a formatted internal message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
