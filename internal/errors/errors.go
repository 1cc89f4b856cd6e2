package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// clientFault is implemented by every error kind that maps to a
// BAD_REQUEST response once a request has been successfully parsed:
// malformed verbs/fields, validator rejection, and a lookup miss all
// land here.
type clientFault interface {
	error
	isClientFault()
}

// serverFault is implemented by every error kind that maps to a
// SERVER_ERROR response: catalog or storage I/O failure after retry
// exhaustion.
type serverFault interface {
	error
	isServerFault()
}

// ProtocolMalformedError indicates the header exceeded the size cap before
// a terminator was found, or body-length was missing or non-numeric.
type ProtocolMalformedError struct {
	Op  string
	Err error
}

func (e *ProtocolMalformedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol malformed: %s", e.Op)
	}
	return fmt.Sprintf("protocol malformed: %s: %v", e.Op, e.Err)
}
func (e *ProtocolMalformedError) Unwrap() error { return e.Err }

// UnknownVerbError indicates the first header line did not match the verb
// grammar.
type UnknownVerbError struct{ Got string }

func (e *UnknownVerbError) Error() string  { return fmt.Sprintf("unknown verb: %q", e.Got) }
func (e *UnknownVerbError) isClientFault() {}

// UnknownFieldError indicates field(name) was requested but absent from
// the request.
type UnknownFieldError struct{ Name string }

func (e *UnknownFieldError) Error() string  { return fmt.Sprintf("unknown field: %q", e.Name) }
func (e *UnknownFieldError) isClientFault() {}

// BadRequestError indicates the validator rejected a field value, or a
// catalog lookup by id came back absent.
type BadRequestError struct {
	Op  string
	Err error
}

func (e *BadRequestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bad request: %s", e.Op)
	}
	return fmt.Sprintf("bad request: %s: %v", e.Op, e.Err)
}
func (e *BadRequestError) Unwrap() error  { return e.Err }
func (e *BadRequestError) isClientFault() {}

// PeerClosedError indicates an orderly EOF before a message was fully read.
type PeerClosedError struct{ Op string }

func (e *PeerClosedError) Error() string { return fmt.Sprintf("peer closed: %s", e.Op) }

// DeadlineElapsedError indicates a framer read or write exceeded its
// deadline.
type DeadlineElapsedError struct {
	Op  string
	Dur time.Duration
	Err error
}

func (e *DeadlineElapsedError) Error() string {
	base := fmt.Sprintf("deadline elapsed: %s (after %s)", e.Op, e.Dur)
	if e.Err == nil {
		return base
	}
	return base + ": " + e.Err.Error()
}
func (e *DeadlineElapsedError) Unwrap() error { return e.Err }

// StoreUnavailableError indicates a catalog operation exhausted its retry
// budget against serialization failures from the backing store.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store unavailable: %s", e.Op)
	}
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}
func (e *StoreUnavailableError) Unwrap() error  { return e.Err }
func (e *StoreUnavailableError) isServerFault() {}

// StorageUnavailableError indicates a NamedBlobStore I/O failure while
// fetching clip bytes.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage unavailable: %s", e.Op)
	}
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}
func (e *StorageUnavailableError) Unwrap() error  { return e.Err }
func (e *StorageUnavailableError) isServerFault() {}

// HandshakeFailedError indicates a secure upgrade was rejected by the peer.
type HandshakeFailedError struct {
	Op  string
	Err error
}

func (e *HandshakeFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("handshake failed: %s", e.Op)
	}
	return fmt.Sprintf("handshake failed: %s: %v", e.Op, e.Err)
}
func (e *HandshakeFailedError) Unwrap() error { return e.Err }

// CancelledError indicates a task was abandoned because the pool or
// decorator was shutting down while it was queued or running.
type CancelledError struct{ Op string }

func (e *CancelledError) Error() string { return fmt.Sprintf("cancelled: %s", e.Op) }

// Constructors. Callers should layer additional context with
// fmt.Errorf("...: %w", err) before passing cause along where useful.

func NewProtocolMalformedError(op string, cause error) error {
	return &ProtocolMalformedError{Op: op, Err: cause}
}

func NewUnknownVerbError(got string) error { return &UnknownVerbError{Got: got} }

func NewUnknownFieldError(name string) error { return &UnknownFieldError{Name: name} }

func NewBadRequestError(op string, cause error) error {
	return &BadRequestError{Op: op, Err: cause}
}

func NewPeerClosedError(op string) error { return &PeerClosedError{Op: op} }

func NewDeadlineElapsedError(op string, d time.Duration, cause error) error {
	return &DeadlineElapsedError{Op: op, Dur: d, Err: cause}
}

func NewStoreUnavailableError(op string, cause error) error {
	return &StoreUnavailableError{Op: op, Err: cause}
}

func NewStorageUnavailableError(op string, cause error) error {
	return &StorageUnavailableError{Op: op, Err: cause}
}

func NewHandshakeFailedError(op string, cause error) error {
	return &HandshakeFailedError{Op: op, Err: cause}
}

func NewCancelledError(op string) error { return &CancelledError{Op: op} }

// IsTimeout returns true if err is (or wraps) a DeadlineElapsedError, a
// context deadline, or any error exposing Timeout() bool == true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var de *DeadlineElapsedError
	if stdErrors.As(err, &de) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsClientFault reports whether err should be surfaced to the peer as
// BAD_REQUEST: malformed verb/field, validator rejection, or a lookup
// that returned absent.
func IsClientFault(err error) bool {
	if err == nil {
		return false
	}
	var cf clientFault
	return stdErrors.As(err, &cf)
}

// IsServerFault reports whether err should be surfaced to the peer as
// SERVER_ERROR: catalog or storage I/O failure.
func IsServerFault(err error) bool {
	if err == nil {
		return false
	}
	var sf serverFault
	return stdErrors.As(err, &sf)
}

// IsCancelled reports whether err indicates cooperative shutdown of the
// pool or decorator rather than a genuine failure.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var ce *CancelledError
	return stdErrors.As(err, &ce)
}
