package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.StageStarted(ctx, "batch-1", 0, 1)
	j.StageFinished(ctx, "batch-1", 0, 1, nil)
	j.StageStarted(ctx, "batch-1", 0, 2)
	j.StageFinished(ctx, "batch-1", 0, 2, errors.New("crop failed"))

	events, err := j.Events(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, EventStarted, events[0].Event)
	assert.Equal(t, 1, events[0].Stage)
	assert.Equal(t, EventFinished, events[1].Event)
	assert.Equal(t, EventStarted, events[2].Event)
	assert.Equal(t, EventFailed, events[3].Event)
	assert.Equal(t, "crop failed", events[3].Error)

	// Sequence numbers give a total order.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
	for _, e := range events {
		assert.Equal(t, "batch-1", e.BatchID)
		assert.Equal(t, 0, e.RunIndex)
		assert.NotEmpty(t, e.CreatedAt)
	}
}

func TestEventsFiltersByBatch(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.StageStarted(ctx, "batch-a", 0, 1)
	j.StageStarted(ctx, "batch-b", 0, 1)

	events, err := j.Events(ctx, "batch-a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "batch-a", events[0].BatchID)
}

func TestEventsUnknownBatchIsEmpty(t *testing.T) {
	j := openTestJournal(t)

	events, err := j.Events(context.Background(), "no-such-batch")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBatchesMostRecentFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.StageStarted(ctx, "batch-a", 0, 1)
	j.StageStarted(ctx, "batch-b", 0, 1)

	ids, err := j.Batches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch-b", "batch-a"}, ids)

	// Recency follows the latest write: a batch still receiving events is
	// the most recent one, even if it started first.
	j.StageFinished(ctx, "batch-a", 0, 1, nil)

	ids, err = j.Batches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch-a", "batch-b"}, ids)
}

func TestOpenIsIdempotentOnExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	j1.StageStarted(context.Background(), "batch-1", 0, 1)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	events, err := j2.Events(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
