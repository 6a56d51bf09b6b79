package pools

import (
	"github.com/searchktools/fast-dispatch/core/http"
)

// MessagePool owns the request and response pools of an engine. Both are
// sized to the connection limit.
type MessagePool struct {
	requests  *Pool[*http.Request]
	responses *Pool[*http.Response]
}

// NewMessagePool creates a message pool; capacity Unbounded disables the limit.
func NewMessagePool(capacity int) *MessagePool {
	mp := &MessagePool{
		requests: NewPool(capacity, http.NewRequest),
	}
	mp.responses = NewPool(capacity, func() *http.Response {
		return http.NewResponse(mp)
	})
	return mp
}

// AcquireRequest returns a pooled request, or false when none is available.
func (mp *MessagePool) AcquireRequest() (*http.Request, bool) {
	return mp.requests.Acquire()
}

// AcquireResponse returns a pooled response, or false when none is available.
func (mp *MessagePool) AcquireResponse() (*http.Response, bool) {
	return mp.responses.Acquire()
}

func (mp *MessagePool) ReleaseRequest(req *http.Request) {
	mp.requests.Release(req)
}

func (mp *MessagePool) ReleaseResponse(res *http.Response) {
	mp.responses.Release(res)
}

// Stats returns request and response pool statistics
func (mp *MessagePool) Stats() (requests, responses PoolStats) {
	return mp.requests.Stats(), mp.responses.Stats()
}
