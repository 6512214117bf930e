package memory

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable time source
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Set(year int, month time.Month, day, hour, min, sec int) {
	c.now = time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// backendFactories builds each backend under a fresh temp dir
var backendFactories = map[string]func(t *testing.T) Backend{
	BackendJSONL: func(t *testing.T) Backend {
		return NewFileBackend(filepath.Join(t.TempDir(), "events"))
	},
	BackendSQLite: func(t *testing.T) Backend {
		b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "events.db"))
		require.NoError(t, err)
		return b
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			t.Cleanup(func() { backend.Close() })
			fn(t, backend)
		})
	}
}

func newTestStore(backend Backend, clock *testClock) *EventStore {
	return NewEventStore(backend, WithClock(clock.Now), WithLocation(time.UTC))
}

func contents(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Content
	}
	return out
}

func appendAll(t *testing.T, store *EventStore, clock *testClock, msgs ...string) {
	t.Helper()
	for i, msg := range msgs {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, store.Append(role, msg))
		clock.Advance(time.Second)
	}
}

func TestEventStore_TwoDayScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		store := newTestStore(backend, clock)

		clock.Set(2024, 6, 1, 10, 0, 0)
		appendAll(t, store, clock, "d1-1", "d1-2", "d1-3")
		clock.Set(2024, 6, 2, 9, 0, 0)
		appendAll(t, store, clock, "d2-1", "d2-2")

		got, err := store.LoadRecent(3, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"d1-3", "d2-1", "d2-2"}, contents(got))

		got, err = store.LoadRecent(4, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"d1-2", "d1-3", "d2-1", "d2-2"}, contents(got))

		got, err = store.LoadRecent(100, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"d1-1", "d1-2", "d1-3", "d2-1", "d2-2"}, contents(got))

		// Only today's partition is inside a one-day window
		got, err = store.LoadRecent(100, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"d2-1", "d2-2"}, contents(got))
	})
}

func TestEventStore_RecordFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		clock.Set(2024, 6, 1, 10, 0, 0)
		store := NewEventStore(backend, WithClock(clock.Now), WithLocation(time.UTC), WithSessionTag("s-1"))

		require.NoError(t, store.Append(RoleAssistant, "hello"))

		got, err := store.LoadRecent(1, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, RoleAssistant, got[0].Role)
		assert.Equal(t, "s-1", got[0].SessionID)
		assert.True(t, got[0].Timestamp.Equal(clock.Now()))
	})
}

func TestEventStore_EmptyArguments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		clock.Set(2024, 6, 1, 10, 0, 0)
		store := newTestStore(backend, clock)
		appendAll(t, store, clock, "a", "b")

		for _, days := range []int{-1, 0, 1, 7} {
			got, err := store.LoadRecent(0, days)
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.NotNil(t, got)
		}
		for _, limit := range []int{-5, 1, 10} {
			got, err := store.LoadRecent(limit, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
		}
	})
}

// countingBackend records how often storage was touched
type countingBackend struct {
	Backend
	calls int
}

func (b *countingBackend) Keys() ([]string, error) {
	b.calls++
	return b.Backend.Keys()
}

func (b *countingBackend) Lines(key string) ([][]byte, error) {
	b.calls++
	return b.Backend.Lines(key)
}

func TestEventStore_ZeroLimitDoesNotTouchStorage(t *testing.T) {
	backend := &countingBackend{Backend: NewFileBackend(t.TempDir())}
	store := NewEventStore(backend)

	_, err := store.LoadRecent(0, 7)
	require.NoError(t, err)
	assert.Zero(t, backend.calls)
}

func TestEventStore_MidnightBoundary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		store := newTestStore(backend, clock)

		clock.Set(2024, 6, 1, 23, 59, 58)
		appendAll(t, store, clock, "before-1", "before-2")
		// Now 2024-06-02 00:00:00
		appendAll(t, store, clock, "after-1", "after-2")

		partitions, err := store.RecentPartitions(2)
		require.NoError(t, err)
		assert.Equal(t, []Partition{{Key: "2024-06-01"}, {Key: "2024-06-02"}}, partitions)

		got, err := store.LoadRecent(3, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"before-2", "after-1", "after-2"}, contents(got))
	})
}

func TestEventStore_LocalDatePartitions(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	clock := &testClock{}
	// 20:00 UTC on 06-01 is already 06-02 in UTC+9
	clock.Set(2024, 6, 1, 20, 0, 0)
	backend := NewFileBackend(t.TempDir())
	store := NewEventStore(backend, WithClock(clock.Now), WithLocation(loc))

	require.NoError(t, store.Append(RoleUser, "late"))

	keys, err := backend.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-02"}, keys)

	got, err := store.LoadRecent(1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	// The timestamp itself stays UTC
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
}

func TestEventStore_SameSecondKeepsWriteOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		clock.Set(2024, 6, 1, 10, 0, 0)
		store := newTestStore(backend, clock)

		for _, msg := range []string{"z", "y", "x", "w"} {
			require.NoError(t, store.Append(RoleUser, msg))
		}

		got, err := store.LoadRecent(10, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "y", "x", "w"}, contents(got))
	})
}

func TestEventStore_RecentPartitionsSkipsMissingDays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		store := newTestStore(backend, clock)

		for _, day := range []int{1, 3, 6} {
			clock.Set(2024, 6, day, 12, 0, 0)
			appendAll(t, store, clock, fmt.Sprintf("day-%d", day))
		}
		clock.Set(2024, 6, 7, 12, 0, 0)

		partitions, err := store.RecentPartitions(5)
		require.NoError(t, err)
		assert.Equal(t, []Partition{{Key: "2024-06-03"}, {Key: "2024-06-06"}}, partitions)

		partitions, err = store.RecentPartitions(30)
		require.NoError(t, err)
		assert.Len(t, partitions, 3)

		partitions, err = store.RecentPartitions(0)
		require.NoError(t, err)
		assert.Empty(t, partitions)

		got, err := store.LoadRecent(10, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"day-3", "day-6"}, contents(got))
	})
}

func TestEventStore_UnboundedArguments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		store := newTestStore(backend, clock)

		clock.Set(1999, 12, 31, 23, 0, 0)
		appendAll(t, store, clock, "old")
		clock.Set(2024, 6, 1, 10, 0, 0)
		appendAll(t, store, clock, "new")

		got, err := store.LoadRecent(math.MaxInt, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, contents(got))

		done := make(chan []Record, 1)
		go func() {
			records, _ := store.LoadRecent(10, math.MaxInt32)
			done <- records
		}()
		select {
		case records := <-done:
			assert.Equal(t, []string{"old", "new"}, contents(records))
		case <-time.After(5 * time.Second):
			t.Fatal("LoadRecent with a very long window did not return")
		}

		partitions, err := store.RecentPartitions(math.MaxInt)
		require.NoError(t, err)
		assert.Equal(t, []Partition{{Key: "1999-12-31"}, {Key: "2024-06-01"}}, partitions)
	})
}

func TestEventStore_RecentPartitionsIgnoresFutureDays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		store := newTestStore(backend, clock)

		clock.Set(2024, 6, 3, 10, 0, 0)
		appendAll(t, store, clock, "later")
		clock.Set(2024, 6, 1, 10, 0, 0)
		appendAll(t, store, clock, "today")

		partitions, err := store.RecentPartitions(30)
		require.NoError(t, err)
		assert.Equal(t, []Partition{{Key: "2024-06-01"}}, partitions)
	})
}

func TestEventStore_SkipsInvalidLines(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		clock.Set(2024, 6, 1, 10, 0, 0)
		store := newTestStore(backend, clock)

		require.NoError(t, store.Append(RoleUser, "first"))
		bad := []string{
			`garbage`,
			`{"ts":"2024-06-01T10:00:00Z","role":"tool","content":"tool output"}`,
			`{"ts":"2024-06-01T10:00:00Z","role":"user","content":7}`,
			`{"ts":"2024-06-01T10:00:00Z","role":"assistant","conte`,
		}
		for _, line := range bad {
			require.NoError(t, backend.Append("2024-06-01", []byte(line)))
		}
		require.NoError(t, store.Append(RoleAssistant, "second"))

		got, err := store.LoadRecent(10, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, contents(got))

		// Skipped lines don't count towards the limit
		got, err = store.LoadRecent(2, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, contents(got))
	})
}

func TestFileBackend_TrailingPartialLine(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{}
	clock.Set(2024, 6, 1, 10, 0, 0)
	store := newTestStore(NewFileBackend(dir), clock)

	require.NoError(t, store.Append(RoleUser, "complete"))

	// Simulate a crash in the middle of a write
	path := filepath.Join(dir, "2024-06-01.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":"2024-06-01T10:00:01Z","role":"user","content":"cut sh`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := store.LoadRecent(10, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, contents(got))

	// The next append must not be glued to the partial line
	require.NoError(t, store.Append(RoleAssistant, "after crash"))
	got, err = store.LoadRecent(10, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"complete", "after crash"}, contents(got))
}

func TestFileBackend_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-06-01.txt"), []byte("x\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "2024-06-02.jsonl"), 0755))

	keys, err := NewFileBackend(dir).Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileBackend_MissingDirectory(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "not", "yet"))

	keys, err := backend.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	lines, err := backend.Lines("2024-06-01")
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, backend.Append("2024-06-01", []byte(`{}`)))
	keys, err = backend.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01"}, keys)
}

func TestEventStore_AppendStorageFailure(t *testing.T) {
	// A regular file where the directory should be
	blocker := filepath.Join(t.TempDir(), "events")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	store := NewEventStore(NewFileBackend(blocker))
	err := store.Append(RoleUser, "hi")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	_, err = store.LoadRecent(5, 1)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestEventStore_ClearToday(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		clock := &testClock{}
		store := newTestStore(backend, clock)

		clock.Set(2024, 6, 2, 10, 0, 0)
		appendAll(t, store, clock, "today-1", "today-2")

		require.NoError(t, store.ClearToday())
		got, err := store.LoadRecent(10, 7)
		require.NoError(t, err)
		assert.Empty(t, got)

		// Clearing again is a no-op
		require.NoError(t, store.ClearToday())

		clock.Set(2024, 6, 1, 10, 0, 0)
		appendAll(t, store, clock, "yesterday")
		clock.Set(2024, 6, 2, 11, 0, 0)
		appendAll(t, store, clock, "today-3")

		require.NoError(t, store.ClearToday())
		got, err = store.LoadRecent(10, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"yesterday"}, contents(got))
	})
}

// TestEventStore_LoadRecentMatchesModel checks random histories against a
// plain slice model of what was written
func TestEventStore_LoadRecentMatchesModel(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		rng := rand.New(rand.NewSource(42))
		clock := &testClock{}
		store := newTestStore(backend, clock)

		type written struct {
			day     int
			content string
		}
		var model []written

		start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
		for day := 0; day < 10; day++ {
			if rng.Intn(3) == 0 {
				continue // leave some days empty
			}
			clock.now = start.AddDate(0, 0, day)
			n := rng.Intn(6) + 1
			for i := 0; i < n; i++ {
				content := fmt.Sprintf("d%d-m%d", day, i)
				require.NoError(t, store.Append(RoleUser, content))
				model = append(model, written{day: day, content: content})
				clock.Advance(time.Duration(rng.Intn(3)) * time.Second)
			}
		}
		clock.now = start.AddDate(0, 0, 9).Add(12 * time.Hour)

		for trial := 0; trial < 50; trial++ {
			limit := rng.Intn(25)
			days := rng.Intn(12)

			var want []string
			for _, w := range model {
				if days > 0 && w.day > 9-days {
					want = append(want, w.content)
				}
			}
			if limit < len(want) {
				want = want[len(want)-limit:]
			}
			if limit == 0 {
				want = nil
			}

			got, err := store.LoadRecent(limit, days)
			require.NoError(t, err)
			assert.Equal(t, len(want), len(got), "limit=%d days=%d", limit, days)
			if len(want) > 0 {
				assert.Equal(t, want, contents(got), "limit=%d days=%d", limit, days)
			}
		}
	})
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	b, err := OpenBackend("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "events"), b.Location())

	b, err = OpenBackend("SQLite", dir)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, filepath.Join(dir, "events.db"), b.Location())

	_, err = OpenBackend("redis", dir)
	assert.Error(t, err)
}
