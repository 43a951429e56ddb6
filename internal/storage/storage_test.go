package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/continuity/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBackend(t *testing.T) (*FileBackend, *fakeClock) {
	t.Helper()
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b.Now = clock.Now
	return b, clock
}

func TestNewFileBackend_CreatesLayout(t *testing.T) {
	b, _ := newTestBackend(t)
	for _, dir := range []string{sessionsDir, contextsDir, locksDir} {
		info, err := os.Stat(filepath.Join(b.Root(), dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

// --- Sessions ---

func TestSessionLifecycle(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	s, err := b.CreateSession(ctx, "demo", map[string]any{"project": "continuity"})
	require.NoError(t, err)
	assert.Len(t, s.ID, 36)
	assert.Equal(t, "demo", s.Name)
	assert.Empty(t, s.Versions)

	v1, err := b.WriteSessionVersion(ctx, s.ID, []byte(`{"step":1}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "version_1.json", v1.File)

	v2, err := b.WriteSessionVersion(ctx, s.ID, []byte(`{"step":2}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	latest, err := b.ReadSessionVersion(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version.Version)
	assert.JSONEq(t, `{"step":2}`, string(latest.Content))
	assert.Equal(t, "continuity", latest.Session.Metadata["project"])

	first, err := b.ReadSessionVersion(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":1}`, string(first.Content))

	existed, err := b.DeleteSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = b.ReadSessionVersion(ctx, s.ID, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWriteSessionVersion_UnknownSession(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.WriteSessionVersion(context.Background(), "missing", []byte(`{}`), 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReadSessionVersion_Errors(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	s, err := b.CreateSession(ctx, "empty", nil)
	require.NoError(t, err)

	_, err = b.ReadSessionVersion(ctx, s.ID, 0)
	assert.ErrorIs(t, err, models.ErrNotFound, "no versions saved yet")

	_, err = b.WriteSessionVersion(ctx, s.ID, []byte(`"x"`), 0)
	require.NoError(t, err)

	_, err = b.ReadSessionVersion(ctx, s.ID, 7)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = b.ReadSessionVersion(ctx, s.ID, -1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestWriteSessionVersion_MonotonicUnderConcurrency(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	s, err := b.CreateSession(ctx, "busy", nil)
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	versions := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.WriteSessionVersion(ctx, s.ID, []byte(fmt.Sprintf(`{"i":%d}`, i)), i%4)
			if assert.NoError(t, err) {
				versions <- v.Version
			}
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d handed out twice", v)
		seen[v] = true
	}
	for v := 1; v <= writers; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}

	got, err := b.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Versions, writers)
	assert.Equal(t, writers, got.LatestVersion())
}

func TestCompressionLevels_RoundTrip(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	s, err := b.CreateSession(ctx, "codecs", nil)
	require.NoError(t, err)

	content := []byte(`{"notes":"repeat repeat repeat repeat repeat repeat"}`)
	wantCodec := []string{"none", "gzip", "gzip", "zstd"}
	wantSuffix := []string{".json", ".json.gz", ".json.gz", ".json.zst"}

	for level := 0; level <= MaxCompressionLevel; level++ {
		v, err := b.WriteSessionVersion(ctx, s.ID, content, level)
		require.NoError(t, err)
		assert.Equal(t, level, v.Compression)
		assert.Equal(t, wantCodec[level], v.Codec)
		assert.Equal(t, fmt.Sprintf("version_%d%s", v.Version, wantSuffix[level]), v.File)
		assert.Equal(t, int64(len(content)), v.RawSize)

		snap, err := b.ReadSessionVersion(ctx, s.ID, v.Version)
		require.NoError(t, err)
		assert.Equal(t, content, []byte(snap.Content))
	}

	_, err = b.WriteSessionVersion(ctx, s.ID, content, 4)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestListSessions_SortedByUpdate(t *testing.T) {
	b, clock := newTestBackend(t)
	ctx := context.Background()

	a, err := b.CreateSession(ctx, "a", nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = b.CreateSession(ctx, "b", nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = b.WriteSessionVersion(ctx, a.ID, []byte(`1`), 0)
	require.NoError(t, err)

	sessions, err := b.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].Name)
	assert.Equal(t, "b", sessions[1].Name)
}

func TestUpdateSessionMetadata_Merges(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	s, err := b.CreateSession(ctx, "meta", map[string]any{"a": "1"})
	require.NoError(t, err)

	got, err := b.UpdateSessionMetadata(ctx, s.ID, map[string]any{"b": "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, got.Metadata)

	_, err = b.UpdateSessionMetadata(ctx, "nope", map[string]any{"b": "2"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteSession_Idempotent(t *testing.T) {
	b, _ := newTestBackend(t)
	existed, err := b.DeleteSession(context.Background(), "never-created")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSessionIDs_RejectTraversal(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for _, id := range []string{"", "..", "."} {
		_, err := b.GetSession(ctx, id)
		assert.ErrorIs(t, err, models.ErrInvalidArgument, "id %q", id)
	}

	// Slashes are escaped and stay inside the root.
	_, err := b.GetSession(ctx, "../../etc")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// --- Contexts ---

func TestContextStoreAndRetrieve(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	e, err := b.WriteContext(ctx, "default", "current_task", json.RawMessage(`"refactor"`), 0)
	require.NoError(t, err)
	assert.Nil(t, e.ExpiresAt)

	got, err := b.ReadContext(ctx, "default", "current_task")
	require.NoError(t, err)
	assert.JSONEq(t, `"refactor"`, string(got.Value))
	assert.Equal(t, "default", got.Namespace)

	// Last write wins.
	_, err = b.WriteContext(ctx, "default", "current_task", json.RawMessage(`{"v":2}`), 0)
	require.NoError(t, err)
	got, err = b.ReadContext(ctx, "default", "current_task")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Value))

	_, err = b.ReadContext(ctx, "other", "current_task")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestContextTTLExpiry(t *testing.T) {
	b, clock := newTestBackend(t)
	ctx := context.Background()

	e, err := b.WriteContext(ctx, "ns", "k", json.RawMessage(`1`), 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, e.ExpiresAt)

	clock.Advance(9 * time.Second)
	_, err = b.ReadContext(ctx, "ns", "k")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = b.ReadContext(ctx, "ns", "k")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Expired entries are removed lazily on read.
	all, err := b.ListContexts(ctx, "ns", true)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListContexts_ExpiredFilter(t *testing.T) {
	b, clock := newTestBackend(t)
	ctx := context.Background()

	_, err := b.WriteContext(ctx, "ns", "short", json.RawMessage(`1`), time.Second)
	require.NoError(t, err)
	_, err = b.WriteContext(ctx, "ns", "forever", json.RawMessage(`2`), 0)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	live, err := b.ListContexts(ctx, "ns", false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "forever", live[0].Key)

	all, err := b.ListContexts(ctx, "ns", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed, err := b.PurgeExpired(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err = b.ListContexts(ctx, "ns", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestContextKeysWithTempPrefix(t *testing.T) {
	b, clock := newTestBackend(t)
	ctx := context.Background()

	_, err := b.WriteContext(ctx, "ns", ".tmp-notes", json.RawMessage(`"draft"`), time.Minute)
	require.NoError(t, err)

	entries, err := b.ListContexts(ctx, "ns", false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".tmp-notes", entries[0].Key)

	clock.Advance(2 * time.Minute)
	removed, err := b.PurgeExpired(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = b.ReadContext(ctx, "ns", ".tmp-notes")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteContext(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.WriteContext(ctx, "ns", "a/b", json.RawMessage(`true`), 0)
	require.NoError(t, err)

	existed, err := b.DeleteContext(ctx, "ns", "a/b")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = b.DeleteContext(ctx, "ns", "a/b")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestListNamespaces(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for _, ns := range []string{"work", "personal/notes", "default"} {
		_, err := b.WriteContext(ctx, ns, "k", json.RawMessage(`1`), 0)
		require.NoError(t, err)
	}

	namespaces, err := b.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "personal/notes", "work"}, namespaces)
}

func TestLockSet_ReleasesKeys(t *testing.T) {
	ls := newLockSet(filepath.Join(t.TempDir(), "locks"))
	lockCount := func() int {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return len(ls.locks)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := ls.acquire(fmt.Sprintf("session-%d", i%4))
			if !assert.NoError(t, err) {
				return
			}
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, lockCount())

	release, err := ls.acquire("context-default")
	require.NoError(t, err)
	assert.Equal(t, 1, lockCount())
	release()
	assert.Equal(t, 0, lockCount())
}

func TestCancelledContext(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.CreateSession(ctx, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
