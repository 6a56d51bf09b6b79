package pools

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Unbounded disables the capacity limit of a Pool.
const Unbounded = -1

var (
	// ErrForeignInstance is the panic value when releasing an object the
	// pool never created.
	ErrForeignInstance = errors.New("pools: instance does not belong to this pool")
	// ErrDoubleRelease is the panic value when releasing an object that is already idle.
	ErrDoubleRelease = errors.New("pools: instance released twice")
)

// Pool is a bounded object pool. Objects are created lazily; once capacity
// objects exist Acquire reports false instead of blocking.
type Pool[T comparable] struct {
	capacity int
	newFunc  func() T

	mu    sync.Mutex
	idle  *queue.Queue
	owned map[T]bool // true while idle

	created atomic.Int64

	// Statistics
	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

// NewPool creates a pool holding at most capacity objects, or any number
// when capacity is Unbounded.
func NewPool[T comparable](capacity int, newFunc func() T) *Pool[T] {
	if capacity < 0 {
		capacity = Unbounded
	}
	return &Pool[T]{
		capacity: capacity,
		newFunc:  newFunc,
		idle:     queue.New(),
		owned:    make(map[T]bool),
	}
}

// Acquire returns an idle object, or a new one while under capacity.
// The second result is false when the pool is exhausted.
func (p *Pool[T]) Acquire() (T, bool) {
	p.mu.Lock()
	if p.idle.Length() > 0 {
		obj := p.idle.Remove().(T)
		p.owned[obj] = false
		p.mu.Unlock()
		p.gets.Add(1)
		return obj, true
	}
	p.mu.Unlock()

	if !p.reserve() {
		p.misses.Add(1)
		var zero T
		return zero, false
	}

	obj := p.newFunc()
	p.mu.Lock()
	p.owned[obj] = false
	p.mu.Unlock()
	p.gets.Add(1)
	return obj, true
}

// reserve claims a creation ticket below capacity
func (p *Pool[T]) reserve() bool {
	if p.capacity == Unbounded {
		p.created.Add(1)
		return true
	}
	for {
		n := p.created.Load()
		if n >= int64(p.capacity) {
			return false
		}
		if p.created.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns obj to the idle set. Releasing an object this pool did
// not create, or one that is already idle, is a programming error and panics.
func (p *Pool[T]) Release(obj T) {
	p.mu.Lock()
	idle, ok := p.owned[obj]
	switch {
	case !ok:
		p.mu.Unlock()
		panic(fmt.Errorf("%w: %T", ErrForeignInstance, obj))
	case idle:
		p.mu.Unlock()
		panic(fmt.Errorf("%w: %T", ErrDoubleRelease, obj))
	}
	p.owned[obj] = true
	p.idle.Add(obj)
	p.mu.Unlock()
	p.puts.Add(1)
}

// Capacity returns the configured capacity, Unbounded for none.
func (p *Pool[T]) Capacity() int {
	return p.capacity
}

// Stats returns pool statistics
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	idle := p.idle.Length()
	p.mu.Unlock()

	created := int(p.created.Load())
	return PoolStats{
		Capacity: p.capacity,
		Created:  created,
		Idle:     idle,
		InUse:    created - idle,
		Gets:     p.gets.Load(),
		Puts:     p.puts.Load(),
		Misses:   p.misses.Load(),
	}
}

// PoolStats contains bounded pool statistics
type PoolStats struct {
	Capacity int    `json:"capacity"`
	Created  int    `json:"created"`
	Idle     int    `json:"idle"`
	InUse    int    `json:"in_use"`
	Gets     uint64 `json:"gets"`
	Puts     uint64 `json:"puts"`
	Misses   uint64 `json:"misses"`
}

// HitRate returns the share of Acquire calls that were served.
func (s PoolStats) HitRate() float64 {
	total := s.Gets + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Gets) / float64(total)
}
