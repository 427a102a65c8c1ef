// Package errors provides typed error handling for the IRM daemon and its
// IPC processes.
//
// This package defines the taxonomy from the fabric's control-plane
// contract (EINVAL, EAGAIN, ETIMEDOUT, ...) so callers across the
// UNIX-socket boundary can classify failures without parsing message
// strings. All errors support errors.Is()/errors.As().
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a fabric error per the control-plane taxonomy.
type Kind int

const (
	// EINVAL: malformed request (null name, bad pid).
	EINVAL Kind = iota
	// EIPCP: operation not valid for this IPCP type.
	EIPCP
	// EAGAIN: transient IPCP-side failure of flow allocation.
	EAGAIN
	// ETIMEDOUT: wait deadline exceeded.
	ETIMEDOUT
	// EPERM: caller is not the owner of the referenced object.
	EPERM
	// EPIPE: the counterpart died while the caller was waiting.
	EPIPE
	// EIRMD: IRMd is shutting down; the wait was interrupted.
	EIRMD
	// ENOMEM: memory/resource exhaustion.
	ENOMEM
	// ENFILE: file/socket descriptor table exhaustion.
	ENFILE
	// EBADF: an invalid or stale descriptor was used.
	EBADF
	// EBUSY: resource is in use and can't be mutated right now.
	EBUSY
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case EINVAL:
		return "invalid argument"
	case EIPCP:
		return "unsupported for this ipcp type"
	case EAGAIN:
		return "transient allocation failure"
	case ETIMEDOUT:
		return "timed out"
	case EPERM:
		return "not the owner"
	case EPIPE:
		return "counterpart died"
	case EIRMD:
		return "irmd shutting down"
	case ENOMEM:
		return "out of memory"
	case ENFILE:
		return "file table full"
	case EBADF:
		return "bad descriptor"
	case EBUSY:
		return "resource busy"
	default:
		return "unknown error"
	}
}

// FabricError is an error that occurred during an IRMd or IPCP operation.
type FabricError struct {
	// Op is the operation that failed (e.g. "flow_alloc", "bind_program").
	Op string
	// Object is the name, pid, or port id the operation targeted, if any.
	Object string
	// Err is the underlying error, if any.
	Err error
	// Kind is the error classification.
	Kind Kind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *FabricError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Object != "" {
		msg = fmt.Sprintf("%s: ", e.Object)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *FabricError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target.
// It matches if the target is a *FabricError with the same Kind.
func (e *FabricError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*FabricError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new FabricError with the given kind.
func New(kind Kind, op string, detail string) *FabricError {
	return &FabricError{
		Op:     op,
		Kind:   kind,
		Detail: detail,
	}
}

// Wrap wraps an error with an operation and kind.
func Wrap(err error, kind Kind, op string) *FabricError {
	return &FabricError{
		Op:   op,
		Err:  err,
		Kind: kind,
	}
}

// WrapObject wraps an error with operation, kind, and the targeted object
// (name, pid, or port id).
func WrapObject(err error, kind Kind, op string, object string) *FabricError {
	return &FabricError{
		Op:     op,
		Object: object,
		Err:    err,
		Kind:   kind,
	}
}

// WrapDetail wraps an error with additional detail.
func WrapDetail(err error, kind Kind, op string, detail string) *FabricError {
	return &FabricError{
		Op:     op,
		Err:    err,
		Kind:   kind,
		Detail: detail,
	}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a FabricError.
func GetKind(err error) (Kind, bool) {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
