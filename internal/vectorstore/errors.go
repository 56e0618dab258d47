package vectorstore

import (
	"errors"
	"fmt"
)

// Kind classifies index failures.
type Kind int

const (
	// KindConnection means the backend could not be reached or is closed.
	KindConnection Kind = iota + 1
	// KindDimensionMismatch means a vector's width differs from the index's.
	KindDimensionMismatch
	// KindInvalid means the request itself was malformed.
	KindInvalid
	// KindBackend covers every other backend failure.
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindInvalid:
		return "invalid"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. IndexError matches them with errors.Is.
var (
	ErrConnection        = errors.New("vector index unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalid           = errors.New("invalid vector index request")
	ErrBackend           = errors.New("vector index backend failure")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindDimensionMismatch:
		return ErrDimensionMismatch
	case KindInvalid:
		return ErrInvalid
	default:
		return ErrBackend
	}
}

// IndexError is returned by every Index operation.
type IndexError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vectorstore %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *IndexError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// DimensionMismatchError reports a vector or collection whose width differs
// from the configured embedding dimension.
type DimensionMismatchError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("collection %s has dimension %d, embedding provider produces %d", e.Collection, e.Got, e.Want)
	}
	return fmt.Sprintf("vector has dimension %d, index expects %d", e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

func newError(op string, kind Kind, err error) *IndexError {
	return &IndexError{Op: op, Kind: kind, Err: err}
}
