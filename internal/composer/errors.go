package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Kind classifies a generation failure.
type Kind int

const (
	KindModelUnavailable Kind = iota + 1
	KindRateLimit
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindModelUnavailable:
		return "model_unavailable"
	case KindRateLimit:
		return "rate_limit"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

var (
	// ErrModelUnavailable indicates the model could not be reached or refused the request.
	ErrModelUnavailable = errors.New("composer: model unavailable")

	// ErrRateLimit indicates the provider throttled the request.
	ErrRateLimit = errors.New("composer: rate limited")

	// ErrMalformedResponse indicates the model answered with nothing usable.
	ErrMalformedResponse = errors.New("composer: malformed response")

	// ErrInvalidConfig indicates the composer or generator could not be built.
	ErrInvalidConfig = errors.New("composer: invalid configuration")

	errEmptyAnswer = errors.New("model returned an empty answer")
)

// Error is returned by Compose and by LLMGenerator.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compose %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrModelUnavailable:
		return e.Kind == KindModelUnavailable
	case ErrRateLimit:
		return e.Kind == KindRateLimit
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

// classify maps an arbitrary generator error onto a Kind. Errors that are
// already classified pass through untouched.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if llms.IsRateLimitError(err) || looksRateLimited(err) {
		return &Error{Kind: KindRateLimit, Err: err}
	}
	// Timeouts, refused connections and unknown failures all mean the
	// model did not produce an answer.
	return &Error{Kind: KindModelUnavailable, Err: err}
}

// looksRateLimited inspects error text for providers that only report
// throttling in the message.
func looksRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"status code: 429", "rate limit", "too many requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
