package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/tanukai/framepipe/internal/config"
)

// stageSignal is a one-shot broadcast for one (run, stage) pair.
//
// The channel-close pattern gives the required semantics for free: closing
// releases every current and future waiter, and a waiter arriving after the
// close returns immediately. The failed flag is written before the close and
// read only after the channel fires, so the close provides the necessary
// happens-before edge without additional locking on the read side.
type stageSignal struct {
	once   sync.Once
	done   chan struct{}
	failed bool
}

func newStageSignal() *stageSignal {
	return &stageSignal{done: make(chan struct{})}
}

// resolve transitions the signal to its terminal state. The first call wins;
// later calls are no-ops, so marking an already-resolved signal is safe.
func (s *stageSignal) resolve(failed bool) {
	s.once.Do(func() {
		s.failed = failed
		close(s.done)
	})
}

type signalKey struct {
	index int
	stage int
}

// SignalSet holds the completion signals for a whole batch.
//
// Every signal for every stage in every run's range is created before any
// runner starts, so a waiter can never race against signal creation. After
// construction the map is read-only; all mutation goes through the
// individual signals, each of which has exactly one writer (its owning
// runner).
type SignalSet struct {
	signals map[signalKey]*stageSignal
}

// NewSignalSet eagerly creates one pending signal per stage in each run's
// stage range.
func NewSignalSet(runs []config.Run) *SignalSet {
	signals := make(map[signalKey]*stageSignal)
	for i := range runs {
		r := &runs[i]
		for stage := r.StartStage; stage <= r.EndStage; stage++ {
			signals[signalKey{index: r.Index, stage: stage}] = newStageSignal()
		}
	}
	return &SignalSet{signals: signals}
}

// MarkDone resolves the (index, stage) signal as successful. Idempotent.
func (s *SignalSet) MarkDone(index, stage int) {
	if sig, ok := s.signals[signalKey{index: index, stage: stage}]; ok {
		sig.resolve(false)
	}
}

// MarkFailed resolves the (index, stage) signal as failed, releasing waiters
// with an error instead of leaving them blocked forever. Idempotent; a
// signal already marked done stays done.
func (s *SignalSet) MarkFailed(index, stage int) {
	if sig, ok := s.signals[signalKey{index: index, stage: stage}]; ok {
		sig.resolve(true)
	}
}

// Await blocks until the (index, stage) signal resolves or the context is
// cancelled. Returns nil on success, a DependencyError if the owning run
// failed, and ctx.Err() on cancellation. Returns immediately when the signal
// is already resolved.
func (s *SignalSet) Await(ctx context.Context, index, stage int) error {
	sig, ok := s.signals[signalKey{index: index, stage: stage}]
	if !ok {
		return fmt.Errorf("no signal for run %d stage %d", index, stage)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sig.done:
		if sig.failed {
			return &DependencyError{Provider: index, Stage: stage}
		}
		return nil
	}
}

// Resolved reports the signal's state without blocking: whether it has
// reached a terminal state and, if so, whether it failed.
func (s *SignalSet) Resolved(index, stage int) (resolved, failed bool) {
	sig, ok := s.signals[signalKey{index: index, stage: stage}]
	if !ok {
		return false, false
	}
	select {
	case <-sig.done:
		return true, sig.failed
	default:
		return false, false
	}
}
