package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a step of an index build.
type Stage string

const (
	StageConfig  Stage = "config"
	StageSchema  Stage = "schema"
	StageFetch   Stage = "fetch"
	StageLoad    Stage = "load"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
	StagePublish Stage = "publish"
)

// InitError reports the build stage that failed. Initialize returns it when
// the pipeline cannot start; Rebuild returns it when a new generation could
// not be built and the previous one stays published.
type InitError struct {
	Stage Stage
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Origin says where an Ask failed.
type Origin int

const (
	OriginRequest Origin = iota + 1
	OriginRetrieval
	OriginGeneration
)

func (o Origin) String() string {
	switch o {
	case OriginRequest:
		return "request"
	case OriginRetrieval:
		return "retrieval"
	case OriginGeneration:
		return "generation"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyQuestion is returned by Ask for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNotReady is returned by Ask before a generation is published.
	ErrNotReady = errors.New("no index generation published")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline closed")

	// ErrRetrieval matches any retrieval-origin Error.
	ErrRetrieval = errors.New("pipeline: retrieval failed")

	// ErrGeneration matches any generation-origin Error.
	ErrGeneration = errors.New("pipeline: generation failed")

	// ErrBuildInProgress is returned by TryRebuild when another build holds the lock.
	ErrBuildInProgress = errors.New("pipeline: build already in progress")
)

// Error is returned by Ask. Origin separates infrastructure failures in
// retrieval from upstream model failures in generation.
type Error struct {
	Origin Origin
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ask %s: %v", e.Origin, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRetrieval:
		return e.Origin == OriginRetrieval
	case ErrGeneration:
		return e.Origin == OriginGeneration
	}
	return false
}
