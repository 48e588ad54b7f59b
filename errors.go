package sensorcache

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cache engine. Every *Error matches exactly one of them
// through errors.Is, except KindBackendUnavailable which also matches
// ErrConnection.
var (
	// ErrConnection is returned when the database could not be opened.
	ErrConnection = errors.New("connection failed")

	// ErrSchemaUpgrade is returned when a namespace could not be created or
	// removed. The schema is left as it was before the attempt.
	ErrSchemaUpgrade = errors.New("schema upgrade failed")

	// ErrTransaction is returned when a read or write fails after the namespace
	// was confirmed to exist.
	ErrTransaction = errors.New("transaction failed")

	// ErrCompression is returned when a value cannot be encoded.
	ErrCompression = errors.New("compression failed")

	// ErrInvalidTaskID is returned for an empty task identifier.
	ErrInvalidTaskID = errors.New("invalid task id")
)

// Kind categorizes engine errors.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindBackendUnavailable indicates the storage backend is absent or disabled.
	KindBackendUnavailable
	// KindConnection indicates the database could not be opened.
	KindConnection
	// KindSchemaUpgrade indicates an upgrade transaction failed.
	KindSchemaUpgrade
	// KindTransaction indicates a normal read or write failed.
	KindTransaction
	// KindCompression indicates the codec produced no output.
	KindCompression
)

func (k Kind) String() string {
	switch k {
	case KindBackendUnavailable:
		return "backend unavailable"
	case KindConnection:
		return "connection"
	case KindSchemaUpgrade:
		return "schema upgrade"
	case KindTransaction:
		return "transaction"
	case KindCompression:
		return "compression"
	}
	return "unknown"
}

// Error provides detailed information about engine failures.
type Error struct {
	Kind      Kind
	Op        string
	Namespace string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Namespace != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Namespace)
	}
	if e.Err != nil {
		return fmt.Sprintf("sensorcache: %s: %v", msg, e.Err)
	}
	return "sensorcache: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for Error.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindBackendUnavailable:
		return target == ErrBackendUnavailable || target == ErrConnection
	case KindConnection:
		return target == ErrConnection
	case KindSchemaUpgrade:
		return target == ErrSchemaUpgrade
	case KindTransaction:
		return target == ErrTransaction
	case KindCompression:
		return target == ErrCompression
	}
	return false
}

// newError creates a new Error.
func newError(kind Kind, op, namespace string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Namespace: namespace,
		Err:       cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
