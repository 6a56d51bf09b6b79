package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"gopkg.in/go-playground/assert.v1"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newCloser(closed *atomic.Int32) *closerFunc {
	f := closerFunc(func() error {
		closed.Add(1)
		return nil
	})
	return &f
}

func TestAdmissionCeiling(t *testing.T) {
	a := NewAdmission(1)
	var closed atomic.Int32
	first, second := newCloser(&closed), newCloser(&closed)

	assert.Equal(t, a.Admit(first), true)
	assert.Equal(t, a.Admit(second), false)
	assert.Equal(t, a.Active(), 1)

	a.Release(first)
	assert.Equal(t, a.Active(), 0)
	assert.Equal(t, a.Admit(second), true)

	stats := a.Stats()
	assert.Equal(t, stats.Admitted, uint64(2))
	assert.Equal(t, stats.Rejected, uint64(1))
	assert.Equal(t, stats.Max, 1)
}

func TestAdmissionUnlimited(t *testing.T) {
	a := NewAdmission(-1)
	var closed atomic.Int32
	for i := 0; i < 100; i++ {
		if !a.Admit(newCloser(&closed)) {
			t.Fatalf("Admission %d refused without a ceiling", i)
		}
	}
	assert.Equal(t, a.Active(), 100)
}

func TestAdmissionZero(t *testing.T) {
	a := NewAdmission(0)
	var closed atomic.Int32
	assert.Equal(t, a.Admit(newCloser(&closed)), false)
}

func TestAdmissionCloseAll(t *testing.T) {
	a := NewAdmission(-1)
	var closed atomic.Int32
	for i := 0; i < 10; i++ {
		a.Admit(newCloser(&closed))
	}
	a.CloseAll()
	assert.Equal(t, closed.Load(), int32(10))
}

func TestAdmissionConcurrent(t *testing.T) {
	const max = 8
	a := NewAdmission(max)
	var closed atomic.Int32
	var admitted atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.Admit(newCloser(&closed)) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, admitted.Load(), int32(max))
	assert.Equal(t, a.Stats().Rejected, uint64(64-max))
}
