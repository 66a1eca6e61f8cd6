package aggregate

import (
	"sort"
	"sync"
	"time"

	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// Mart is the in-memory aggregate store: dimension key -> entry. Writers
// merge per key under a per-entry lock so concurrent batches touching
// disjoint keys never serialize against each other; readers always receive
// deep copies and never observe a half-merged entry.
type Mart struct {
	mu      sync.RWMutex
	entries map[string]*martEntry
}

type martEntry struct {
	mu    sync.Mutex
	entry domain.MartEntry
}

// NewMart creates an empty mart.
func NewMart() *Mart {
	return &Mart{
		entries: make(map[string]*martEntry),
	}
}

// Get returns a copy of one entry by key.
func (m *Mart) Get(key string) (domain.MartEntry, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return domain.MartEntry{}, errors.ErrEntryNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entry.Clone(), nil
}

// Scan returns copies of all entries matching the filter, sorted by key.
// A nil filter matches everything.
func (m *Mart) Scan(filter func(domain.MartEntry) bool) []domain.MartEntry {
	m.mu.RLock()
	all := make([]*martEntry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	m.mu.RUnlock()

	out := make([]domain.MartEntry, 0, len(all))
	for _, e := range all {
		e.mu.Lock()
		clone := e.entry.Clone()
		e.mu.Unlock()
		if filter == nil || filter(clone) {
			out = append(out, clone)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of entries.
func (m *Mart) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Merge folds a batch-local partial entry into the stored entry for its key,
// creating the entry if the key is new. Returns true when a new entry was
// created. Merging resets the entry's staleness counter.
func (m *Mart) Merge(partial domain.MartEntry) bool {
	m.mu.Lock()
	e, ok := m.entries[partial.Key]
	if !ok {
		e = &martEntry{}
		m.entries[partial.Key] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	created := e.entry.Key == ""
	if created {
		e.entry = partial.Clone()
	} else {
		for name, acc := range partial.Metrics {
			stored := e.entry.Metrics[name]
			stored.Merge(acc)
			e.entry.Metrics[name] = stored
		}
		e.entry.RecordCount += partial.RecordCount
	}
	e.entry.UpdatedAt = time.Now().UTC()
	e.entry.BatchesStale = 0
	return created
}

// AdvanceStaleness increments the staleness counter of every entry that the
// just-finished batch did not touch, and returns the number of entries at or
// beyond the threshold. Stale entries are reported, never evicted.
func (m *Mart) AdvanceStaleness(touched map[string]bool, threshold int) int {
	m.mu.RLock()
	all := make([]*martEntry, 0, len(m.entries))
	keys := make([]string, 0, len(m.entries))
	for key, e := range m.entries {
		all = append(all, e)
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	stale := 0
	for i, e := range all {
		e.mu.Lock()
		if !touched[keys[i]] {
			e.entry.BatchesStale++
		}
		if threshold > 0 && e.entry.BatchesStale >= threshold {
			stale++
		}
		e.mu.Unlock()
	}
	return stale
}

// Snapshot returns a consistent point-in-time copy of every entry, sorted by
// key for stable serialization.
func (m *Mart) Snapshot() []domain.MartEntry {
	return m.Scan(nil)
}

// Restore replaces the mart contents from a persisted snapshot.
func (m *Mart) Restore(entries []domain.MartEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*martEntry, len(entries))
	for _, entry := range entries {
		m.entries[entry.Key] = &martEntry{entry: entry.Clone()}
	}
}
