package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// ErrorKind is the closed set of error categories reported to callers.
type ErrorKind string

const (
	KindConnection  ErrorKind = "ConnectionError"
	KindTunnel      ErrorKind = "TunnelError"
	KindValidation  ErrorKind = "ValidationError"
	KindUnsupported ErrorKind = "UnsupportedOperation"
	KindBackend     ErrorKind = "BackendError"
	KindTimeout     ErrorKind = "TimeoutError"
)

// Standard adapter errors
var (
	// ErrOperationNotSupported is returned when an operation is not supported by the backend
	ErrOperationNotSupported = errors.New("operation not supported by this backend")

	// ErrConnectionClosed is returned when attempting to use a closed connection
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrConnectionFailed is returned when a connection attempt fails
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNoSession is returned when an operation names a connection id without a live session
	ErrNoSession = errors.New("no active session")

	// ErrInvalidRequest is returned when a request or profile is malformed
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAdapterNotFound is returned when no adapter is registered for a kind
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrTunnelFailed is returned when the SSH transport cannot be established
	ErrTunnelFailed = errors.New("tunnel failed")
)

type kinded interface {
	ErrorKind() ErrorKind
}

// NormalizedError is the backend-neutral error shape returned in a Result.
type NormalizedError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	BackendCode string    `json:"backendCode,omitempty"`
}

func (e *NormalizedError) Error() string {
	if e.BackendCode != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.BackendCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *NormalizedError) ErrorKind() ErrorKind { return e.Kind }

// DatabaseError wraps backend errors with the operation and native error code.
type DatabaseError struct {
	Backend   dbcapabilities.Kind
	Operation string
	Code      string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %v", e.Backend, e.Operation, e.Cause)
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" (context: %v)", e.Context)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error { return e.Cause }

func (e *DatabaseError) ErrorKind() ErrorKind { return KindBackend }

// NewDatabaseError creates a new DatabaseError.
func NewDatabaseError(backend dbcapabilities.Kind, operation string, cause error) *DatabaseError {
	return &DatabaseError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// WithCode sets the native error code.
func (e *DatabaseError) WithCode(code string) *DatabaseError {
	e.Code = code
	return e
}

// WithContext adds context to a DatabaseError.
func (e *DatabaseError) WithContext(key string, value interface{}) *DatabaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// UnsupportedOperationError is returned when an operation has no meaning for a backend.
type UnsupportedOperationError struct {
	Backend   dbcapabilities.Kind
	Operation string
	Reason    string
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s backend does not support %s: %s", e.Backend, e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s backend does not support %s", e.Backend, e.Operation)
}

// Is checks if the error is ErrOperationNotSupported.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrOperationNotSupported
}

func (e *UnsupportedOperationError) ErrorKind() ErrorKind { return KindUnsupported }

// NewUnsupportedOperationError creates a new UnsupportedOperationError.
func NewUnsupportedOperationError(backend dbcapabilities.Kind, operation string, reason string) *UnsupportedOperationError {
	return &UnsupportedOperationError{
		Backend:   backend,
		Operation: operation,
		Reason:    reason,
	}
}

// ConnectionError is returned when a backend cannot be reached or a session is missing.
type ConnectionError struct {
	Backend dbcapabilities.Kind
	Host    string
	Port    int
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s connection: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("failed to connect to %s at %s:%d: %v", e.Backend, e.Host, e.Port, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// Is checks if the error is ErrConnectionFailed.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnectionError) ErrorKind() ErrorKind { return KindConnection }

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(backend dbcapabilities.Kind, host string, port int, cause error) *ConnectionError {
	return &ConnectionError{
		Backend: backend,
		Host:    host,
		Port:    port,
		Cause:   cause,
	}
}

// NewNoSessionError reports an operation on a connection id with no live session.
func NewNoSessionError(connectionID string) *ConnectionError {
	return &ConnectionError{Cause: fmt.Errorf("%w for connection %q", ErrNoSession, connectionID)}
}

// NewClosedError reports use of a connection after Close.
func NewClosedError(backend dbcapabilities.Kind) *ConnectionError {
	return &ConnectionError{Backend: backend, Cause: ErrConnectionClosed}
}

// TunnelStage names the step of tunnel setup that failed.
type TunnelStage string

const (
	StageDial    TunnelStage = "dial"
	StageAuth    TunnelStage = "auth"
	StageBind    TunnelStage = "bind"
	StageForward TunnelStage = "forward"
	StageConfig  TunnelStage = "config"
)

// TunnelError is returned when the SSH transport cannot be established.
type TunnelError struct {
	Stage TunnelStage
	Host  string
	Port  int
	Cause error
}

// Error implements the error interface.
func (e *TunnelError) Error() string {
	return fmt.Sprintf("ssh tunnel %s via %s:%d failed: %v", e.Stage, e.Host, e.Port, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TunnelError) Unwrap() error { return e.Cause }

// Is checks if the error is ErrTunnelFailed.
func (e *TunnelError) Is(target error) bool {
	return target == ErrTunnelFailed
}

func (e *TunnelError) ErrorKind() ErrorKind { return KindTunnel }

// NewTunnelError creates a new TunnelError.
func NewTunnelError(stage TunnelStage, host string, port int, cause error) *TunnelError {
	return &TunnelError{Stage: stage, Host: host, Port: port, Cause: cause}
}

// ValidationError is returned for malformed profiles and requests.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// Is checks if the error is ErrInvalidRequest.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func (e *ValidationError) ErrorKind() ErrorKind { return KindValidation }

// NewValidationError creates a new ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TimeoutError is returned when an operation exceeds its deadline or is cancelled.
type TimeoutError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if errors.Is(e.Cause, context.Canceled) {
		return fmt.Sprintf("%s: operation cancelled", e.Operation)
	}
	return fmt.Sprintf("%s: timed out: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) ErrorKind() ErrorKind { return KindTimeout }

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, cause error) *TimeoutError {
	return &TimeoutError{Operation: operation, Cause: cause}
}

// WrapError wraps a driver error with backend context. Typed errors from this
// package pass through unchanged so their kind survives.
func WrapError(backend dbcapabilities.Kind, operation string, err error) error {
	if err == nil {
		return nil
	}

	var k kinded
	if errors.As(err, &k) {
		return err
	}
	if IsTimeout(err) {
		return NewTimeoutError(operation, err)
	}
	return NewDatabaseError(backend, operation, err)
}

// IsTimeout reports deadline, cancellation and network timeout errors.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsUnsupported checks if an error indicates an unsupported operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrOperationNotSupported)
}

// IsConnectionError checks if an error is a connection error.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	if n := Normalize(err); n != nil {
		return n.Kind
	}
	return ""
}

// Normalize maps any error onto the closed taxonomy. Errors already carrying
// a kind keep it; bare deadline and network timeout errors become
// TimeoutError; everything else is a BackendError.
func Normalize(err error) *NormalizedError {
	if err == nil {
		return nil
	}

	var ne *NormalizedError
	if errors.As(err, &ne) {
		return ne
	}

	var (
		unsupported *UnsupportedOperationError
		validation  *ValidationError
		tunnel      *TunnelError
		conn        *ConnectionError
		timeout     *TimeoutError
		dbErr       *DatabaseError
	)
	switch {
	case errors.As(err, &unsupported):
		return &NormalizedError{Kind: KindUnsupported, Message: unsupported.Error()}
	case errors.As(err, &validation):
		return &NormalizedError{Kind: KindValidation, Message: validation.Error()}
	case errors.As(err, &tunnel):
		return &NormalizedError{Kind: KindTunnel, Message: tunnel.Error()}
	case errors.As(err, &conn):
		return &NormalizedError{Kind: KindConnection, Message: conn.Error()}
	case errors.As(err, &timeout):
		return &NormalizedError{Kind: KindTimeout, Message: timeout.Error()}
	case IsTimeout(err):
		return &NormalizedError{Kind: KindTimeout, Message: err.Error()}
	case errors.As(err, &dbErr):
		return &NormalizedError{Kind: KindBackend, Message: dbErr.Error(), BackendCode: dbErr.Code}
	default:
		return &NormalizedError{Kind: KindBackend, Message: err.Error()}
	}
}
