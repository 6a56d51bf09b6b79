package router

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrAmbiguousMapping is returned when a prefix is registered twice.
	ErrAmbiguousMapping = errors.New("router: ambiguous handler mapping")
	// ErrEmptyPrefix is returned for an empty prefix.
	ErrEmptyPrefix = errors.New("router: empty prefix")
)

// Router maps request paths to handlers by longest matching prefix.
//
// Lookups are lock-free: every mutation publishes a new sorted table.
type Router[H any] struct {
	mu    sync.Mutex // serialises writers
	table atomic.Pointer[[]entry[H]]
}

type entry[H any] struct {
	prefix  string
	handler H
}

// New creates an empty router
func New[H any]() *Router[H] {
	r := &Router[H]{}
	r.table.Store(&[]entry[H]{})
	return r
}

// Add registers handler under prefix.
func (r *Router[H]) Add(prefix string, handler H) error {
	if prefix == "" {
		return ErrEmptyPrefix
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.table.Load()
	for _, e := range old {
		if e.prefix == prefix {
			return fmt.Errorf("%w: %q", ErrAmbiguousMapping, prefix)
		}
	}

	next := make([]entry[H], len(old), len(old)+1)
	copy(next, old)
	next = append(next, entry[H]{prefix: prefix, handler: handler})
	slices.SortFunc(next, compareEntries[H])
	r.table.Store(&next)
	return nil
}

// MustAdd is Add that panics on error, for static route tables.
func (r *Router[H]) MustAdd(prefix string, handler H) {
	if err := r.Add(prefix, handler); err != nil {
		panic(err)
	}
}

// Remove unregisters prefix and reports whether it was present.
func (r *Router[H]) Remove(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.table.Load()
	i := slices.IndexFunc(old, func(e entry[H]) bool { return e.prefix == prefix })
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(old), i, i+1)
	r.table.Store(&next)
	return true
}

// Resolve returns the handler of the longest prefix of path.
func (r *Router[H]) Resolve(path string) (prefix string, handler H, ok bool) {
	for _, e := range *r.table.Load() {
		if strings.HasPrefix(path, e.prefix) {
			return e.prefix, e.handler, true
		}
	}
	return "", handler, false
}

// Prefixes returns registered prefixes in scan order.
func (r *Router[H]) Prefixes() []string {
	table := *r.table.Load()
	out := make([]string, len(table))
	for i, e := range table {
		out[i] = e.prefix
	}
	return out
}

// Len returns the number of registered prefixes.
func (r *Router[H]) Len() int {
	return len(*r.table.Load())
}

// compareEntries orders by descending length, then lexicographically
func compareEntries[H any](a, b entry[H]) int {
	if len(a.prefix) != len(b.prefix) {
		return len(b.prefix) - len(a.prefix)
	}
	return strings.Compare(a.prefix, b.prefix)
}
