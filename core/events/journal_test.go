package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestEmitAssignsSequences(t *testing.T) {
	journal := openTestJournal(t)
	journal.Emit(&Event{Type: "escrow.funded", Attributes: map[string]string{"id": "aa"}})
	journal.Emit(&Event{Type: "escrow.evidence_submitted"})
	journal.Emit(&Event{Type: "escrow.released"})

	replayed, err := journal.Replay(0)
	require.NoError(t, err)
	require.Len(t, replayed, 3)
	for i, evt := range replayed {
		require.Equal(t, uint64(i+1), evt.Sequence)
	}
	require.Equal(t, "escrow.funded", replayed[0].Type)
	require.Equal(t, "aa", replayed[0].Attributes["id"])
}

func TestReplayFromCursor(t *testing.T) {
	journal := openTestJournal(t)
	for i := 0; i < 5; i++ {
		journal.Emit(&Event{Type: "escrow.funded"})
	}
	replayed, err := journal.Replay(3)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	require.Equal(t, uint64(4), replayed[0].Sequence)
	require.Equal(t, uint64(5), replayed[1].Sequence)

	replayed, err = journal.Replay(5)
	require.NoError(t, err)
	require.Empty(t, replayed)
}

func TestSequencesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	journal, err := OpenJournal(path)
	require.NoError(t, err)
	journal.Emit(&Event{Type: "escrow.funded"})
	require.NoError(t, journal.Close())

	journal, err = OpenJournal(path)
	require.NoError(t, err)
	defer journal.Close()
	journal.Emit(&Event{Type: "escrow.released"})

	replayed, err := journal.Replay(0)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	require.Equal(t, uint64(2), replayed[1].Sequence)
}

func TestSubscribeDeliversBacklogAndLive(t *testing.T) {
	journal := openTestJournal(t)
	journal.Emit(&Event{Type: "escrow.funded"})
	journal.Emit(&Event{Type: "escrow.evidence_submitted"})

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	ch, cancel, backlog, err := journal.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer cancel()

	require.Len(t, backlog, 1)
	require.Equal(t, uint64(2), backlog[0].Sequence)

	journal.Emit(&Event{Type: "escrow.released"})
	select {
	case evt := <-ch:
		require.Equal(t, "escrow.released", evt.Type)
		require.Equal(t, uint64(3), evt.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	journal := openTestJournal(t)
	ch, cancel, backlog, err := journal.Subscribe(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, backlog)

	cancel()
	// Cancel is idempotent and the channel is closed exactly once.
	cancel()
	_, open := <-ch
	require.False(t, open)

	// Emitting after cancellation must not panic or block.
	journal.Emit(&Event{Type: "escrow.funded"})
}

func TestNoopEmitter(t *testing.T) {
	NoopEmitter{}.Emit(&Event{Type: "escrow.funded"})
	NoopEmitter{}.Emit(nil)
}
