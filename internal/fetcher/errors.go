package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindHTTPStatus
	KindParse
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	case KindParse:
		return "parse"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrNetwork    = errors.New("fetcher: network error")
	ErrHTTPStatus = errors.New("fetcher: unexpected http status")
	ErrParse      = errors.New("fetcher: parse error")
	ErrStorage    = errors.New("fetcher: storage error")
)

// Error is returned by Fetch. Every kind is terminal for the ingestion run.
type Error struct {
	Kind       Kind
	URI        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := "fetch " + e.Kind.String()
	if e.URI != "" {
		msg += " " + e.URI
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrHTTPStatus:
		return e.Kind == KindHTTPStatus
	case ErrParse:
		return e.Kind == KindParse
	case ErrStorage:
		return e.Kind == KindStorage
	}
	return false
}

// retryable reports whether another attempt may succeed.
func (e *Error) retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTPStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
	return false
}
