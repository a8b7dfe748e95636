package journal

import (
	"context"
	"log/slog"
)

// Event names stored in the stage_events table.
const (
	EventStarted  = "started"
	EventFinished = "finished"
	EventFailed   = "failed"
)

// StageStarted records that a runner entered a stage. Best-effort: a write
// failure is logged, never propagated, so tracing problems cannot fail a
// batch.
func (j *Journal) StageStarted(ctx context.Context, batchID string, index, stage int) {
	j.write(ctx, batchID, index, stage, EventStarted, "")
}

// StageFinished records a stage's result.
func (j *Journal) StageFinished(ctx context.Context, batchID string, index, stage int, stageErr error) {
	if stageErr != nil {
		j.write(ctx, batchID, index, stage, EventFailed, stageErr.Error())
		return
	}
	j.write(ctx, batchID, index, stage, EventFinished, "")
}

func (j *Journal) write(ctx context.Context, batchID string, index, stage int, event, errText string) {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO stage_events (batch_id, run_index, stage, event, error, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, batchID, index, stage, event, errText, j.clock.next())
	if err != nil {
		slog.Error("journal write failed",
			"error", err,
			"batch_id", batchID,
			"run_index", index,
			"stage", stage,
			"event", event,
		)
	}
}
