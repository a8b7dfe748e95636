package sched

import "fmt"

// BatchErrorCode categorizes whole-batch rejections detected before any
// runner starts.
type BatchErrorCode string

const (
	// ErrCodeDuplicateOutput indicates two runs share the same output
	// identity triple and would overwrite each other's trees.
	ErrCodeDuplicateOutput BatchErrorCode = "DUPLICATE_OUTPUT"

	// ErrCodeCyclicDeps indicates the dependency graph contains a cycle
	// that would deadlock the involved runners.
	ErrCodeCyclicDeps BatchErrorCode = "CYCLIC_DEPENDENCIES"

	// ErrCodeBadIndex indicates a run's Index does not match its position
	// in the batch. Edges, signals, and outcomes all key on Index, so a
	// mismatched batch cannot be scheduled.
	ErrCodeBadIndex BatchErrorCode = "BAD_RUN_INDEX"
)

// BatchError is a fail-fast rejection of the whole batch. No stage operation
// has been dispatched when a BatchError is returned.
type BatchError struct {
	Code    BatchErrorCode
	Message string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StageError wraps a stage operation failure with the run and stage it
// occurred in.
type StageError struct {
	Index int
	Stage int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %d stage %d: %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// DependencyError reports that a provider run failed before signalling its
// classification stage, so the dependent cannot safely classify.
type DependencyError struct {
	Provider int
	Stage    int
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("provider run %d failed before completing stage %d", e.Provider, e.Stage)
}
