package frontier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.json"), zap.NewNop())
}

func TestStoreFIFOOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Seed("https://example.org/a")
	require.True(t, s.Enqueue("https://example.org/b"))
	require.True(t, s.Enqueue("https://example.org/c"))

	for _, want := range []string{"https://example.org/a", "https://example.org/b", "https://example.org/c"} {
		got, ok := s.Pop()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := s.Pop()
	require.False(t, ok)
}

func TestMarkVisitedIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.True(t, s.MarkVisited("https://example.org/a"))
	require.False(t, s.MarkVisited("https://example.org/a"))
	require.Equal(t, 1, s.Counters().NavigationVisited)

	// A visited URL is never re-enqueued.
	require.False(t, s.Enqueue("https://example.org/a"))
}

func TestRestoreReopensInterruptedURL(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Seed("https://example.org/a")
	s.Enqueue("https://example.org/b")

	url, ok := s.Pop()
	require.True(t, ok)
	require.True(t, s.MarkVisited(url))

	// The fetch was abandoned, so the URL goes back to the front of the
	// frontier and its visited mark is undone.
	s.Restore(url)
	require.False(t, s.IsVisited(url))
	require.Equal(t, 0, s.Counters().NavigationVisited)

	next, ok := s.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.org/a", next)
	require.True(t, s.Enqueue(url), "a restored URL is enqueueable again")
}

func TestRestoreIgnoresUnvisitedURL(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Restore("https://example.org/never-seen")
	require.Equal(t, 0, s.QueueLen())
	require.Equal(t, 0, s.Counters().NavigationVisited)
}

func TestAddSectionCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.True(t, s.AddSection("https://example.org/doc/1"))
	require.False(t, s.AddSection("https://example.org/doc/1"))
	require.Equal(t, 1, s.Counters().SectionsDiscovered)
}

func TestRecordOutOfScopeCountsOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.True(t, s.RecordOutOfScope("https://example.org/external"))
	require.False(t, s.RecordOutOfScope("https://example.org/external"))
	require.Equal(t, 1, s.Counters().OutOfScope)
	require.True(t, s.IsVisited("https://example.org/external"))
}

func TestClaimPendingDoesNotDoubleClaim(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.AddSection("https://example.org/doc/1")
	s.AddSection("https://example.org/doc/2")

	first := s.ClaimPending(3)
	require.Len(t, first, 2)
	require.Empty(t, s.ClaimPending(3), "claimed sections must not be claimable again")

	s.ReleaseClaims()
	require.Len(t, s.ClaimPending(3), 2)
}

func TestClaimPendingSkipsTerminalAndExhausted(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.AddSection("https://example.org/doc/1")
	s.AddSection("https://example.org/doc/2")
	s.AddSection("https://example.org/doc/3")

	require.True(t, s.RecordTerminal("https://example.org/doc/1", StatusSuccess, ""))
	s.RecordAttempt("https://example.org/doc/2", "timeout")
	s.RecordAttempt("https://example.org/doc/2", "timeout")
	s.RecordAttempt("https://example.org/doc/2", "timeout")

	claimable := s.ClaimPending(3)
	require.Equal(t, []string{"https://example.org/doc/3"}, claimable)

	exhausted := s.Exhausted(3)
	require.Len(t, exhausted, 1)
	require.Equal(t, "https://example.org/doc/2", exhausted[0].URL)
	require.Equal(t, "timeout", exhausted[0].LastError)
}

func TestRecordTerminalFirstTransitionWins(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.AddSection("https://example.org/doc/1")

	require.True(t, s.RecordTerminal("https://example.org/doc/1", StatusSuccess, ""))
	require.False(t, s.RecordTerminal("https://example.org/doc/1", StatusFailed, "late"))

	secs := s.Sections()
	require.Len(t, secs, 1)
	require.Equal(t, StatusSuccess, secs[0].Status)
}

func TestRecordTerminalRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.AddSection("https://example.org/doc/1")
	require.False(t, s.RecordTerminal("https://example.org/doc/1", StatusPending, ""))
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, zap.NewNop())
	s.Seed("https://example.org/a")
	s.Enqueue("https://example.org/b")
	s.MarkVisited("https://example.org/root")
	s.AddSection("https://example.org/doc/1")
	s.RecordAttempt("https://example.org/doc/1", "connection refused")
	s.RecordOutOfScope("https://example.org/ext")
	require.NoError(t, s.Checkpoint())

	restored := New(path, zap.NewNop())
	resumed, err := restored.Load()
	require.NoError(t, err)
	require.True(t, resumed)

	require.Equal(t, s.RunID(), restored.RunID())
	require.Equal(t, 2, restored.QueueLen())
	require.True(t, restored.IsVisited("https://example.org/root"))
	require.True(t, restored.IsVisited("https://example.org/ext"))
	require.Equal(t, s.Counters(), restored.Counters())

	secs := restored.Sections()
	require.Len(t, secs, 1)
	require.Equal(t, 1, secs[0].Attempts)
	require.Equal(t, "connection refused", secs[0].LastError)
	require.Equal(t, StatusPending, secs[0].Status)
}

// Interrupt-and-resume must be indistinguishable from an uninterrupted run:
// frontier [A B C], process A, checkpoint, crash, resume -> frontier [B C],
// visited {A}, A never fetched again.
func TestCheckpointResumeScenario(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, zap.NewNop())
	s.Seed("https://example.org/A")
	s.Enqueue("https://example.org/B")
	s.Enqueue("https://example.org/C")

	url, ok := s.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.org/A", url)
	require.True(t, s.MarkVisited(url))
	require.NoError(t, s.Checkpoint())

	resumedStore := New(path, zap.NewNop())
	resumed, err := resumedStore.Load()
	require.NoError(t, err)
	require.True(t, resumed)

	require.True(t, resumedStore.IsVisited("https://example.org/A"))
	next, ok := resumedStore.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.org/B", next)
	next, ok = resumedStore.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.org/C", next)
	_, ok = resumedStore.Pop()
	require.False(t, ok)
}

func TestLoadMissingCheckpointIsFresh(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	resumed, err := s.Load()
	require.NoError(t, err)
	require.False(t, resumed)
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := New(path, zap.NewNop())
	resumed, err := s.Load()
	require.False(t, resumed)
	require.ErrorIs(t, err, ErrCorruptCheckpoint)
}

func TestLoadWrongVersionIsCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o600))

	s := New(path, zap.NewNop())
	_, err := s.Load()
	require.ErrorIs(t, err, ErrCorruptCheckpoint)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Seed("https://example.org/a")
	s.AddSection("https://example.org/doc/1")
	s.AddSection("https://example.org/doc/2")
	s.RecordTerminal("https://example.org/doc/2", StatusExternalRedirect, "")

	snap := s.Snapshot()
	require.Equal(t, 1, snap.QueueLen)
	require.Equal(t, 1, snap.ByStatus[StatusPending])
	require.Equal(t, 1, snap.ByStatus[StatusExternalRedirect])
	require.NotEmpty(t, snap.RunID)
}
