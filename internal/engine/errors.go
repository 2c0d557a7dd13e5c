package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNoInput       = errors.New("engine: no staged input")
	ErrWorkerRunning = errors.New("engine: background worker is running")
	ErrBusy          = errors.New("engine: inference already in flight")
	ErrClosed        = errors.New("engine: closed")
)

// Setup stages reported by SetupError.
const (
	StageSize    = "size"
	StageModel   = "model"
	StageBinding = "binding"
)

// SetupError is fatal: the engine could not be constructed.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("engine setup (%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// InferenceError reports a failed cycle. The input that was consumed is put
// back, so the engine stays in InputStaged.
type InferenceError struct {
	Seq uint64
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("engine: inference for input %d failed: %v", e.Seq, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
