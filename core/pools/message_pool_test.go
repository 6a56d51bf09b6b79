package pools

import (
	"testing"

	"gopkg.in/go-playground/assert.v1"
)

func TestMessagePool_SharedCapacity(t *testing.T) {
	mp := NewMessagePool(1)

	req, ok := mp.AcquireRequest()
	assert.Equal(t, ok, true)
	res, ok := mp.AcquireResponse()
	assert.Equal(t, ok, true)

	if _, ok := mp.AcquireRequest(); ok {
		t.Error("Expected request pool to be exhausted")
	}
	if _, ok := mp.AcquireResponse(); ok {
		t.Error("Expected response pool to be exhausted")
	}

	mp.ReleaseRequest(req)
	mp.ReleaseResponse(res)

	reqs, ress := mp.Stats()
	assert.Equal(t, reqs.Idle, 1)
	assert.Equal(t, ress.Idle, 1)

	again, ok := mp.AcquireResponse()
	assert.Equal(t, ok, true)
	if again != res {
		t.Error("Expected the response instance to be reused")
	}
	if !again.IsFinished() {
		t.Error("Expected an idle response to report finished")
	}
}

func TestMessagePool_Unbounded(t *testing.T) {
	mp := NewMessagePool(Unbounded)

	for i := 0; i < 100; i++ {
		if _, ok := mp.AcquireRequest(); !ok {
			t.Fatal("Expected unbounded request pool")
		}
	}
}
