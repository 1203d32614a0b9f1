package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/dashboard/internal/loader"
)

var conds = config.ConditionsConfig{Baseline: []string{"baseline"}, Stress: []string{"stress"}}

const longCSV = "subject,feature,condition,value\nS1,HR,baseline,10\nS1,HR,stress,15\n"

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func writeSource(t *testing.T, id, body string) config.Source {
	t.Helper()
	p := filepath.Join(t.TempDir(), id+".csv")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.Source{ID: id, Path: p, Layout: config.LayoutAuto}
}

func mustGet(t *testing.T, st *Store, src config.Source) *loader.Result {
	t.Helper()
	res, err := st.Get(context.Background(), src)
	if err != nil {
		t.Fatalf("Get(%s): %v", src.ID, err)
	}
	return res
}

func TestGet_LoadsThenHits(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := writeSource(t, "a", longCSV)

	first := mustGet(t, st, src)
	if first.Err != nil {
		t.Fatalf("Result.Err: %v", first.Err)
	}
	if len(first.Measurements) != 2 {
		t.Errorf("measurements = %d, want 2", len(first.Measurements))
	}
	second := mustGet(t, st, src)
	if first != second {
		t.Error("second Get should return the cached result")
	}
	hits, misses, loads := st.Stats()
	if hits != 1 || misses != 1 || loads != 1 {
		t.Errorf("stats = %d/%d/%d, want 1/1/1", hits, misses, loads)
	}
}

func TestGet_ReloadsOnModification(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := writeSource(t, "a", longCSV)
	first := mustGet(t, st, src)

	if err := os.WriteFile(src.Path, []byte(longCSV+"S2,HR,baseline,20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(src.Path, later, later); err != nil {
		t.Fatal(err)
	}

	second := mustGet(t, st, src)
	if second == first {
		t.Fatal("modified file should be reloaded")
	}
	if len(second.Measurements) != 3 {
		t.Errorf("measurements = %d, want 3", len(second.Measurements))
	}
}

func TestGet_ReloadsOnSourceChange(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := writeSource(t, "a", longCSV)
	first := mustGet(t, st, src)

	src.Layout = config.LayoutLong
	if second := mustGet(t, st, src); second == first {
		t.Error("changed source definition should reload")
	}
}

func TestGet_MissingFileNotCached(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := config.Source{ID: "gone", Path: filepath.Join(t.TempDir(), "later.csv")}

	res := mustGet(t, st, src)
	if !errors.Is(res.Err, loader.ErrMissingInput) {
		t.Fatalf("Result.Err = %v, want ErrMissingInput", res.Err)
	}

	if err := os.WriteFile(src.Path, []byte(longCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	res = mustGet(t, st, src)
	if res.Err != nil || len(res.Measurements) != 2 {
		t.Errorf("after create: err=%v measurements=%d", res.Err, len(res.Measurements))
	}
}

func TestGet_UnsupportedSource(t *testing.T) {
	st := New(5*time.Minute, conds)
	if _, err := st.Get(context.Background(), config.Source{ID: "x", Path: "data.xlsx"}); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestInvalidate(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := writeSource(t, "a", longCSV)
	first := mustGet(t, st, src)

	if !st.Invalidate("a") {
		t.Error("Invalidate: want true for cached id")
	}
	if st.Invalidate("a") {
		t.Error("Invalidate: want false once removed")
	}
	if second := mustGet(t, st, src); second == first {
		t.Error("Get after Invalidate should reload")
	}
}

func TestList_ExcludesIdle(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, conds)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	mustGet(t, st, writeSource(t, "old", longCSV))

	st.now = fixedClock(base)
	mustGet(t, st, writeSource(t, "new", longCSV))

	entries := st.List()
	if len(entries) != 1 {
		t.Fatalf("List: got %d entries, want 1", len(entries))
	}
	if entries[0].Source.ID != "new" {
		t.Errorf("List[0]: got %q, want new", entries[0].Source.ID)
	}
	if st.Count() != 2 {
		t.Errorf("Count: got %d, want 2", st.Count())
	}
}

func TestEvict_RemovesIdle(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, conds)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	mustGet(t, st, writeSource(t, "old1", longCSV))
	mustGet(t, st, writeSource(t, "old2", longCSV))

	st.now = fixedClock(base)
	mustGet(t, st, writeSource(t, "live", longCSV))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestEvict_ZeroTTLKeepsAll(t *testing.T) {
	st := New(0, conds)
	st.now = fixedClock(time.Now().Add(-24 * time.Hour))
	mustGet(t, st, writeSource(t, "a", longCSV))

	if removed := st.Evict(time.Now()); removed != 0 {
		t.Errorf("Evict with zero TTL removed %d", removed)
	}
	if len(st.List()) != 1 {
		t.Error("List should include entry when TTL is zero")
	}
}

func TestConcurrentGets(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := writeSource(t, "a", longCSV)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = st.Get(context.Background(), src)
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
	}
	wg.Wait()

	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestWatchFiles_InvalidatesOnWrite(t *testing.T) {
	st := New(5*time.Minute, conds)
	src := writeSource(t, "a", longCSV)
	mustGet(t, st, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 16)
	go st.WatchFiles(ctx, []config.Source{src}, func(id string) { changed <- id }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(src.Path, []byte(longCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-changed:
		if id != "a" {
			t.Errorf("onChange id = %q, want a", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
	if _, ok := st.Peek("a"); ok {
		t.Error("entry should be invalidated after change")
	}
}
