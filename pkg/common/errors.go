package common

import (
	"errors"
	"fmt"
)

// Error kinds reported by the ingestion stages. Match them with errors.Is.
var (
	ErrNotFound   = errors.New("no archive found within lookback window")
	ErrNetwork    = errors.New("network failure")
	ErrCacheIO    = errors.New("cache io failure")
	ErrExtraction = errors.New("archive extraction failure")
	ErrParse      = errors.New("malformed document")
	ErrStore      = errors.New("snapshot replace failure")
)

// StageError carries the failing stage and resource along with the error kind.
type StageError struct {
	Kind     error
	Stage    string
	Resource string
	Err      error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

// Is reports whether target is the kind of this error.
func (e *StageError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func NewStageError(kind error, stage, resource string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Resource: resource, Err: err}
}

func NotFoundError(resource string, err error) error {
	return NewStageError(ErrNotFound, "fetch", resource, err)
}

func NetworkError(resource string, err error) error {
	return NewStageError(ErrNetwork, "fetch", resource, err)
}

func CacheIOError(resource string, err error) error {
	return NewStageError(ErrCacheIO, "cache", resource, err)
}

func ExtractionError(resource string, err error) error {
	return NewStageError(ErrExtraction, "extract", resource, err)
}

func ParseError(resource string, err error) error {
	return NewStageError(ErrParse, "parse", resource, err)
}

func StoreError(resource string, err error) error {
	return NewStageError(ErrStore, "store", resource, err)
}

// Stage returns the stage name of err, or "" when err is not a StageError.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
