// Package stages provides the seven pipeline stage operations and the
// registry that dispatches a stage number to its operation.
//
// The ML-heavy stages (extract, crop, classify, select, tag) shell out to a
// configured worker tool; arrange and balance are native file operations.
// The scheduler treats every operation as a black box that either returns
// nil or an error.
package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tanukai/framepipe/internal/config"
)

// Operation is one stage's work. It receives the stage number because the
// source directory of a stage depends on whether it is the run's first.
type Operation func(ctx context.Context, run *config.Run, stage int, logger *slog.Logger) error

// Registry maps stage numbers to operations. It satisfies the scheduler's
// Dispatcher seam: lookup and invocation, nothing else.
type Registry struct {
	ops map[int]Operation
}

// NewRegistry returns the production stage table.
func NewRegistry() *Registry {
	return &Registry{ops: map[int]Operation{
		1: Extract,
		2: Crop,
		3: Classify,
		4: Select,
		5: TagAndCaption,
		6: Arrange,
		7: Balance,
	}}
}

// NewRegistryWith builds a registry from an explicit stage table. Used by
// tests to substitute instrumented operations.
func NewRegistryWith(ops map[int]Operation) *Registry {
	copied := make(map[int]Operation, len(ops))
	for stage, op := range ops {
		copied[stage] = op
	}
	return &Registry{ops: copied}
}

// Dispatch invokes the operation registered for stage.
func (r *Registry) Dispatch(ctx context.Context, stage int, run *config.Run, logger *slog.Logger) error {
	op, ok := r.ops[stage]
	if !ok {
		return fmt.Errorf("no operation registered for stage %d", stage)
	}
	return op(ctx, run, stage, logger)
}
