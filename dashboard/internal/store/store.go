package store

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/dashboard/internal/loader"
)

// Entry is a loaded table together with the source it was loaded from and
// the time it was last requested.
type Entry struct {
	Source   config.Source
	Result   *loader.Result
	LastUsed time.Time
}

// LoaderFunc builds a loader for one source.
type LoaderFunc func(config.Source) (loader.Loader, error)

// Store is a thread-safe memoizing cache of loaded tables, keyed by source
// id. An entry is reused while the source definition and the file's path,
// modification time and size are unchanged; otherwise the file is loaded
// again. A background goroutine (Run) evicts entries that have not been
// requested within the idle TTL.
type Store struct {
	mu        sync.RWMutex
	data      map[string]*Entry
	ttl       time.Duration
	newLoader LoaderFunc
	now       func() time.Time // injectable for deterministic tests
	stat      func(string) (fs.FileInfo, error)

	hits   atomic.Uint64
	misses atomic.Uint64
	loads  atomic.Uint64
}

// New creates a Store with the given idle TTL. A zero TTL disables eviction.
// Tables are loaded with loader.New using conds.
func New(ttl time.Duration, conds config.ConditionsConfig) *Store {
	return NewWithLoader(ttl, func(src config.Source) (loader.Loader, error) {
		return loader.New(src, conds)
	})
}

// NewWithLoader creates a Store that builds loaders with fn.
func NewWithLoader(ttl time.Duration, fn LoaderFunc) *Store {
	return &Store{
		data:      make(map[string]*Entry),
		ttl:       ttl,
		newLoader: fn,
		now:       time.Now,
		stat:      os.Stat,
	}
}

// Get returns the table for src, loading it when there is no fresh cached
// copy. File and schema problems are reported through Result.Err; the
// returned error is set only for an unsupported source or a cancelled ctx.
func (s *Store) Get(ctx context.Context, src config.Source) (*loader.Result, error) {
	info, statErr := s.stat(src.Path)

	s.mu.Lock()
	e, ok := s.data[src.ID]
	if ok && statErr == nil && fresh(e, src, info) {
		e.LastUsed = s.now()
		res := e.Result
		s.mu.Unlock()
		s.hits.Add(1)
		return res, nil
	}
	s.mu.Unlock()
	s.misses.Add(1)

	l, err := s.newLoader(src)
	if err != nil {
		return nil, err
	}
	res, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.loads.Add(1)

	s.mu.Lock()
	s.data[src.ID] = &Entry{Source: src, Result: res, LastUsed: s.now()}
	s.mu.Unlock()

	slog.Debug("store: table loaded", "source", src.ID, "measurements", len(res.Measurements), "err", res.Err)
	return res, nil
}

// fresh reports whether the cached entry still matches the source definition
// and the file on disk.
func fresh(e *Entry, src config.Source, info fs.FileInfo) bool {
	if e.Result == nil || e.Result.Err != nil {
		return false
	}
	if !reflect.DeepEqual(e.Source, src) {
		return false
	}
	return e.Result.ModTime.Equal(info.ModTime()) && e.Result.Size == info.Size()
}

// Peek returns the cached entry for id without loading or touching it.
func (s *Store) Peek(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	return e, ok
}

// Invalidate drops the cached entry for id. It reports whether one existed.
func (s *Store) Invalidate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[id]
	delete(s.data, id)
	return ok
}

// List returns the entries requested within the TTL, sorted by source id.
// Idle entries that have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.live(e, s.now()) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source.ID < out[j].Source.ID })
	return out
}

// Count returns the total number of entries currently held, including idle ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Stats returns the cache hit, miss and completed-load counts.
func (s *Store) Stats() (hits, misses, loads uint64) {
	return s.hits.Load(), s.misses.Load(), s.loads.Load()
}

func (s *Store) live(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.LastUsed.After(now.Add(-s.ttl))
}

// Evict removes entries not requested since now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.data {
		if !s.live(e, now) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the TTL interval
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle tables", "count", n)
			}
		}
	}
}
