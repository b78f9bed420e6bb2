// Package domain defines the core types, ports and errors shared by the cube
// scan planner, the executor and the transports.
package domain

import "fmt"

// StreamNotImplementedMessage is the error text a transport reports when the
// remote side cannot stream results for a query. The stream router downgrades
// to a one-shot load when it sees this text.
const StreamNotImplementedMessage = "streamQuery() method is not implemented yet"

// UserError indicates a query-level failure that is reported back to the
// client: bad remote responses, unsupported types, safety limit violations.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// InternalError indicates a broken contract between planner components,
// e.g. an unresolved wrapper node or an arity mismatch on reconstruction.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "Internal error: " + e.Message }

// NotImplementedError indicates a capability the remote side does not offer.
type NotImplementedError struct {
	Message string
}

func (e *NotImplementedError) Error() string { return e.Message }

// ErrUser creates a UserError with a formatted message.
func ErrUser(format string, args ...interface{}) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// ErrInternal creates an InternalError with a formatted message.
func ErrInternal(format string, args ...interface{}) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotImplemented creates a NotImplementedError with a formatted message.
func ErrNotImplemented(format string, args ...interface{}) *NotImplementedError {
	return &NotImplementedError{Message: fmt.Sprintf(format, args...)}
}
