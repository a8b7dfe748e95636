package sched

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tanukai/framepipe/internal/config"
)

// Dispatcher maps a stage number to its operation and invokes it. It is a
// pure seam: the scheduler interprets nothing beyond the returned error.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage int, run *config.Run, logger *slog.Logger) error
}

// Recorder receives stage lifecycle events for durable tracing. Recording
// is best-effort: implementations log their own failures and must not block
// scheduling.
type Recorder interface {
	StageStarted(ctx context.Context, batchID string, index, stage int)
	StageFinished(ctx context.Context, batchID string, index, stage int, stageErr error)
}

// Status is a run's terminal state.
type Status int

const (
	// StatusCompleted means every stage in the run's range finished.
	StatusCompleted Status = iota + 1
	// StatusFailed means a stage operation or dependency wait failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the terminal result of one run.
type Outcome struct {
	Index  int
	Status Status
	// Stage is the last stage the runner entered. For a completed run this
	// is the end stage; for a failed run, the stage that failed.
	Stage int
	Err   error
}

// Scheduler fans a batch of runs out to concurrent runners and joins their
// outcomes.
type Scheduler struct {
	dispatcher Dispatcher
	recorder   Recorder
	idGen      BatchIDGenerator
	logger     *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder attaches a journal recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithBatchIDGenerator overrides the batch ID generator (for tests).
func WithBatchIDGenerator(g BatchIDGenerator) Option {
	return func(s *Scheduler) { s.idGen = g }
}

// WithLogger sets the base logger runners derive theirs from.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler dispatching through d.
func New(d Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		dispatcher: d,
		idGen:      UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the batch and returns one outcome per run, indexed like the
// input.
//
// Preconditions are checked before anything is dispatched: no two runs may
// share an output identity triple, and the dependency graph must be acyclic.
// A violated precondition rejects the whole batch with a BatchError.
//
// A stage failure is local to its run: the runner stops, its classification
// signal resolves as failed so dependents fail fast instead of hanging, and
// unrelated runners continue. Run itself returns an error only for batch
// preconditions or context cancellation.
func (s *Scheduler) Run(ctx context.Context, runs []config.Run) ([]Outcome, error) {
	if err := checkIndexes(runs); err != nil {
		return nil, err
	}
	if err := CheckOutputKeys(runs); err != nil {
		return nil, err
	}

	deps := ResolveDeps(runs)
	if err := CheckCycles(deps); err != nil {
		return nil, err
	}

	batchID := s.idGen.Generate()
	signals := NewSignalSet(runs)
	outcomes := make([]Outcome, len(runs))

	s.logger.Info("batch starting",
		"batch_id", batchID,
		"runs", len(runs),
		"dependent_runs", len(deps),
	)

	var g errgroup.Group
	for i := range runs {
		run := &runs[i]
		g.Go(func() error {
			outcomes[run.Index] = s.runOne(ctx, batchID, run, deps[run.Index], signals)
			return nil
		})
	}
	_ = g.Wait() // runners report through outcomes, never through errors

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			failed++
		}
	}
	s.logger.Info("batch finished", "batch_id", batchID, "runs", len(runs), "failed", failed)
	return outcomes, nil
}

// checkIndexes verifies each run's Index matches its batch position.
// config.LoadBatch always produces such batches; a hand-built batch that
// violates this would corrupt edge, signal, and outcome bookkeeping.
func checkIndexes(runs []config.Run) error {
	for i := range runs {
		if runs[i].Index != i {
			return &BatchError{
				Code:    ErrCodeBadIndex,
				Message: fmt.Sprintf("run at position %d has index %d", i, runs[i].Index),
			}
		}
	}
	return nil
}

// CheckOutputKeys enforces the batch-wide uniqueness of the
// (dst_dir, extra_path_component, image_type) triple.
func CheckOutputKeys(runs []config.Run) error {
	seen := make(map[config.OutputKey]int, len(runs))
	for i := range runs {
		key := runs[i].OutputKey()
		if prev, dup := seen[key]; dup {
			return &BatchError{
				Code: ErrCodeDuplicateOutput,
				Message: fmt.Sprintf(
					"runs %d and %d both write (%s, %s, %s)",
					prev, runs[i].Index, key.DstDir, key.PathComponent, key.ImageType,
				),
			}
		}
		seen[key] = runs[i].Index
	}
	return nil
}

// runOne drives a single run through its stage range in order.
func (s *Scheduler) runOne(ctx context.Context, batchID string, run *config.Run, providers []int, signals *SignalSet) Outcome {
	logger, closeLog := s.runLogger(batchID, run)
	defer closeLog()

	for stage := run.StartStage; stage <= run.EndStage; stage++ {
		if stage == config.SyncStage && len(providers) > 0 {
			logger.Info("waiting for reference providers", "stage", stage, "providers", providers)
			if err := awaitAll(ctx, signals, providers); err != nil {
				logger.Error("dependency wait failed", "stage", stage, "error", err)
				failRemaining(signals, run, stage)
				return Outcome{Index: run.Index, Status: StatusFailed, Stage: stage, Err: err}
			}
		}

		logger.Info("stage starting", "stage", stage, "name", config.StageName(stage))
		if s.recorder != nil {
			s.recorder.StageStarted(ctx, batchID, run.Index, stage)
		}

		err := s.dispatcher.Dispatch(ctx, stage, run, logger)

		if s.recorder != nil {
			s.recorder.StageFinished(ctx, batchID, run.Index, stage, err)
		}
		if err != nil {
			logger.Error("stage failed", "stage", stage, "error", err)
			failRemaining(signals, run, stage)
			return Outcome{
				Index:  run.Index,
				Status: StatusFailed,
				Stage:  stage,
				Err:    &StageError{Index: run.Index, Stage: stage, Err: err},
			}
		}

		signals.MarkDone(run.Index, stage)
		logger.Info("stage finished", "stage", stage)
	}

	return Outcome{Index: run.Index, Status: StatusCompleted, Stage: run.EndStage}
}

// failRemaining resolves the failed stage and every later stage in the
// run's range as failed. A run that dies before its classification stage
// must still release dependents waiting on that stage, with an error rather
// than an indefinite block.
func failRemaining(signals *SignalSet, run *config.Run, fromStage int) {
	for stage := fromStage; stage <= run.EndStage; stage++ {
		signals.MarkFailed(run.Index, stage)
	}
}

// awaitAll waits for every provider's classification signal concurrently.
// All must resolve successfully; the first failure cancels the remaining
// waits.
func awaitAll(ctx context.Context, signals *SignalSet, providers []int) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			return signals.Await(gCtx, p, config.SyncStage)
		})
	}
	return g.Wait()
}

// runLogger builds the per-run logger. Every line carries the batch ID, the
// pipeline type, and the run index so log lines are attributable to a
// specific (run, stage). When the run configures a log directory, the lines
// additionally go to the run's own file there, mirrored, so the shared
// stream keeps the full batch picture.
func (s *Scheduler) runLogger(batchID string, run *config.Run) (*slog.Logger, func()) {
	logger := s.logger.With(
		"batch_id", batchID,
		"pipeline", run.PipelineType,
		"index", run.Index,
	)

	if run.LogDir == "" {
		return logger, func() {}
	}

	if err := os.MkdirAll(run.LogDir, 0o755); err != nil {
		logger.Warn("cannot create log dir, logging to shared stream only", "dir", run.LogDir, "error", err)
		return logger, func() {}
	}
	name := fmt.Sprintf("%s_%s_pipeline_%d.log", run.PipelineType, run.LogPrefix, run.Index)
	f, err := os.OpenFile(filepath.Join(run.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warn("cannot open log file, logging to shared stream only", "file", name, "error", err)
		return logger, func() {}
	}

	tee := slog.New(teeHandler{
		a: s.logger.Handler(),
		b: slog.NewTextHandler(f, nil),
	}).With(
		"batch_id", batchID,
		"pipeline", run.PipelineType,
		"index", run.Index,
	)
	return tee, func() { _ = f.Close() }
}

// teeHandler fans each record out to two handlers. Used to mirror a run's
// log lines into its own file while keeping the shared stream complete.
type teeHandler struct {
	a slog.Handler
	b slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.a.Enabled(ctx, level) || h.b.Enabled(ctx, level)
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.a.Enabled(ctx, r.Level) {
		err = h.a.Handle(ctx, r.Clone())
	}
	if h.b.Enabled(ctx, r.Level) {
		if e := h.b.Handle(ctx, r.Clone()); err == nil {
			err = e
		}
	}
	return err
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{a: h.a.WithAttrs(attrs), b: h.b.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{a: h.a.WithGroup(name), b: h.b.WithGroup(name)}
}
