package orchestrator

import (
	"errors"
	"fmt"

	"github.com/zkforge/zkforge/internal/aggregate"
	"github.com/zkforge/zkforge/internal/emulator"
	"github.com/zkforge/zkforge/internal/ledger"
	"github.com/zkforge/zkforge/internal/partition"
)

// Code is the stable error classification reported to clients. Codes are
// part of the wire contract; messages are not.
type Code string

const (
	// CodeInvalidArgument covers malformed programs, inputs, and
	// parameters. The request can never succeed as written.
	CodeInvalidArgument Code = "invalid_argument"

	// CodeNotFound covers unknown app and task IDs.
	CodeNotFound Code = "not_found"

	// CodeCycleLimit means emulation exceeded the cycle budget.
	CodeCycleLimit Code = "cycle_limit_exceeded"

	// CodeInterrupted marks tasks stranded by a process restart.
	// Resubmitting the same task is safe.
	CodeInterrupted Code = "interrupted"

	// CodeLedger covers durable storage failures.
	CodeLedger Code = "ledger"

	// CodeInternal is everything else: prover faults, aggregation
	// inconsistencies, wrapping failures.
	CodeInternal Code = "internal"
)

// TaskError carries a classification alongside the underlying cause.
type TaskError struct {
	Code Code
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Classify maps an error to its client-facing code. A TaskError keeps
// its own code; everything else is classified by cause.
func Classify(err error) Code {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code
	}

	switch {
	case errors.Is(err, emulator.ErrCycleLimit):
		return CodeCycleLimit
	case errors.Is(err, ledger.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, emulator.ErrBadMagic),
		errors.Is(err, emulator.ErrEmptyProgram),
		errors.Is(err, emulator.ErrInvalidOpcode),
		errors.Is(err, emulator.ErrTruncatedOp),
		errors.Is(err, emulator.ErrStackUnderflow),
		errors.Is(err, emulator.ErrInputIndex),
		errors.Is(err, partition.ErrBadChunkSize),
		errors.Is(err, partition.ErrBadThreshold),
		errors.Is(err, partition.ErrBadBatch):
		return CodeInvalidArgument
	case errors.Is(err, ledger.ErrTransitionConflict):
		return CodeLedger
	case errors.Is(err, aggregate.ErrShapeNotAllowed):
		return CodeInternal
	default:
		return CodeInternal
	}
}

// failure wraps err with an explicit code for the task record.
func failure(code Code, err error) *TaskError {
	return &TaskError{Code: code, Err: err}
}
