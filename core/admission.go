package core

import (
	"io"
	"sync"
	"sync/atomic"
)

// Admission caps the number of live connections. A ceiling of -1 disables it.
type Admission struct {
	max int

	mu    sync.Mutex
	conns map[io.Closer]struct{}

	admitted atomic.Uint64
	rejected atomic.Uint64
}

// NewAdmission creates a controller admitting at most max connections
func NewAdmission(max int) *Admission {
	return &Admission{
		max:   max,
		conns: make(map[io.Closer]struct{}),
	}
}

// Admit tracks c unless the ceiling has been reached. A rejected
// connection is not tracked and must be turned away by the caller.
func (a *Admission) Admit(c io.Closer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.max > -1 && len(a.conns) >= a.max {
		a.rejected.Add(1)
		return false
	}
	a.conns[c] = struct{}{}
	a.admitted.Add(1)
	return true
}

// Release untracks c on teardown
func (a *Admission) Release(c io.Closer) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
}

// Active returns the number of tracked connections
func (a *Admission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// CloseAll closes every tracked connection
func (a *Admission) CloseAll() {
	a.mu.Lock()
	conns := make([]io.Closer, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Stats returns admission statistics
func (a *Admission) Stats() AdmissionStats {
	return AdmissionStats{
		Max:      a.max,
		Active:   a.Active(),
		Admitted: a.admitted.Load(),
		Rejected: a.rejected.Load(),
	}
}

// AdmissionStats contains admission statistics
type AdmissionStats struct {
	Max      int    `json:"max"`
	Active   int    `json:"active"`
	Admitted uint64 `json:"admitted"`
	Rejected uint64 `json:"rejected"`
}
