package journal

import (
	"context"
	"fmt"
)

// StageEvent is one row of the stage event log.
type StageEvent struct {
	BatchID   string `json:"batch_id"`
	RunIndex  int    `json:"run_index"`
	Stage     int    `json:"stage"`
	Event     string `json:"event"`
	Error     string `json:"error,omitempty"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// Events returns all events for a batch in sequence order.
func (j *Journal) Events(ctx context.Context, batchID string) ([]StageEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT batch_id, run_index, stage, event, error, seq, created_at
		FROM stage_events
		WHERE batch_id = ?
		ORDER BY seq
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var e StageEvent
		if err := rows.Scan(&e.BatchID, &e.RunIndex, &e.Stage, &e.Event, &e.Error, &e.Seq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Batches lists distinct batch IDs, most recent first.
func (j *Journal) Batches(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT batch_id FROM stage_events
		GROUP BY batch_id
		ORDER BY MAX(id) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return ids, nil
}
