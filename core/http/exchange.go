package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/searchktools/fast-dispatch/core/codec"
)

// Exchange is a handler's handle on one request/response pair.
//
// A handle pins the generation it was created for. Once that exchange is
// freed and its objects are recycled, every method on the handle turns into
// a no-op that reports ErrAlreadyFinished or ErrInvalidState, so deferred
// work that completes late cannot disturb a newer exchange.
type Exchange struct {
	req  *Request
	res  *Response
	conn Conn
	gen  uint64
	ctx  context.Context
}

// Request returns the inbound request. Its contents are only meaningful
// until the exchange is freed.
func (ex *Exchange) Request() *Request { return ex.req }

// Conn returns the connection the exchange arrived on.
func (ex *Exchange) Conn() Conn { return ex.conn }

// Context is cancelled when the exchange is freed or its connection goes away.
func (ex *Exchange) Context() context.Context { return ex.ctx }

// Handler returns the handler bound to the exchange, nil for unrouted requests.
func (ex *Exchange) Handler() Handler {
	r := ex.res
	if !r.lock(ex.gen) {
		return nil
	}
	defer r.mu.Unlock()
	return r.handler
}

// Status returns the response status, 0 for a recycled exchange.
func (ex *Exchange) Status() int {
	r := ex.res
	if !r.lock(ex.gen) {
		return 0
	}
	defer r.mu.Unlock()
	return r.status
}

// SetStatus sets the response status. It has no effect once the head has
// been sent.
func (ex *Exchange) SetStatus(code int) {
	r := ex.res
	if !r.lock(ex.gen) {
		return
	}
	defer r.mu.Unlock()
	if !r.started && r.writable() {
		r.status = code
	}
}

// Header returns the first value of a response header.
func (ex *Exchange) Header(key string) string {
	r := ex.res
	if !r.lock(ex.gen) {
		return ""
	}
	defer r.mu.Unlock()
	return r.header.Get(key)
}

// SetHeader replaces a response header.
func (ex *Exchange) SetHeader(key, value string) {
	ex.editHeader(func(h stdhttp.Header) { h.Set(key, value) })
}

// AddHeader appends a response header value.
func (ex *Exchange) AddHeader(key, value string) {
	ex.editHeader(func(h stdhttp.Header) { h.Add(key, value) })
}

// DelHeader removes a response header.
func (ex *Exchange) DelHeader(key string) {
	ex.editHeader(func(h stdhttp.Header) { h.Del(key) })
}

func (ex *Exchange) editHeader(fn func(stdhttp.Header)) {
	r := ex.res
	if !r.lock(ex.gen) {
		return
	}
	defer r.mu.Unlock()
	if !r.started && r.writable() {
		fn(r.header)
	}
}

// SetContentType sets the Content-Type header.
func (ex *Exchange) SetContentType(ct string) {
	ex.SetHeader("Content-Type", ct)
}

// SetCookie adds a Set-Cookie header to the response.
func (ex *Exchange) SetCookie(c *stdhttp.Cookie) {
	r := ex.res
	if !r.lock(ex.gen) {
		return
	}
	defer r.mu.Unlock()
	if !r.started && r.writable() {
		r.cookies = append(r.cookies, c)
	}
}

// SetChunked switches the response between buffered (Content-Length) and
// chunked transfer. It must be called before the first write.
func (ex *Exchange) SetChunked(chunked bool) {
	r := ex.res
	if !r.lock(ex.gen) {
		return
	}
	defer r.mu.Unlock()
	if !r.started && r.writable() && r.body.Len() == 0 {
		r.chunked = chunked
	}
}

// Write appends to the response body. In chunked mode each call goes out
// as one chunk immediately.
func (ex *Exchange) Write(p []byte) (int, error) {
	return ex.res.write(ex.gen, p)
}

// WriteString is Write for strings.
func (ex *Exchange) WriteString(s string) (int, error) {
	return ex.res.write(ex.gen, []byte(s))
}

// Written returns the number of body bytes sent to the client so far.
func (ex *Exchange) Written() int64 {
	r := ex.res
	if !r.lock(ex.gen) {
		return 0
	}
	defer r.mu.Unlock()
	return r.written
}

// String writes a plain-text body with the given status.
func (ex *Exchange) String(code int, s string) error {
	ex.SetStatus(code)
	ex.SetContentType("text/plain; charset=utf-8")
	_, err := ex.WriteString(s)
	return err
}

// Bytes writes a raw body with the given status and content type.
func (ex *Exchange) Bytes(code int, contentType string, data []byte) error {
	ex.SetStatus(code)
	ex.SetContentType(contentType)
	_, err := ex.Write(data)
	return err
}

// JSON writes v encoded as JSON with the given status.
func (ex *Exchange) JSON(code int, v any) error {
	return ex.Encode(code, codec.JSON, v)
}

// Encode writes v with the given codec and status.
func (ex *Exchange) Encode(code int, c codec.Codec, v any) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	return ex.Bytes(code, c.ContentType(), data)
}

// Redirect sets a 302 with the given location. The exchange is not finished.
func (ex *Exchange) Redirect(location string) {
	ex.SetStatus(stdhttp.StatusFound)
	ex.SetHeader("Location", location)
}

// Suspend tells the dispatcher not to finish the exchange when the handler
// returns. Completion is then up to the handler.
func (ex *Exchange) Suspend() error {
	return ex.res.suspend(ex.gen)
}

// IsSuspended reports whether the exchange has been suspended and not yet freed.
func (ex *Exchange) IsSuspended() bool {
	r := ex.res
	if !r.lock(ex.gen) {
		return false
	}
	defer r.mu.Unlock()
	return r.suspended.Load()
}

// Finish sends the response and frees the exchange. A second call returns
// ErrAlreadyFinished without writing anything.
func (ex *Exchange) Finish() error {
	return ex.res.finish(ex)
}

// IsFinished reports whether the exchange is finishing, finished or recycled.
func (ex *Exchange) IsFinished() bool {
	r := ex.res
	if !r.lock(ex.gen) {
		return true
	}
	defer r.mu.Unlock()
	return !r.writable()
}

// Free releases the exchange without writing a response. It is the runtime's
// cleanup path for aborted and evicted exchanges and is safe to call from
// several completion paths at once.
func (ex *Exchange) Free() {
	ex.res.free(ex, false)
}

// Elapsed returns the time since the request was received.
func (ex *Exchange) Elapsed() time.Duration {
	return time.Since(ex.req.received)
}

// Go suspends the exchange and runs task on the engine's executor. When the
// task returns, completion is posted back to the connection loop: an error
// is handled like a handler failure, otherwise an unfinished response is
// finished.
func (ex *Exchange) Go(task func(ctx context.Context) error) error {
	r := ex.res
	if !r.lock(ex.gen) {
		return ErrAlreadyFinished
	}
	env := r.env
	r.mu.Unlock()

	if err := ex.Suspend(); err != nil {
		return err
	}

	complete := func(ex *Exchange, err error) {
		ex.Finish()
	}
	if env != nil && env.Complete != nil {
		complete = env.Complete
	}

	run := func() {
		err := Recover(func() error { return task(ex.ctx) })
		ex.conn.Post(func() { complete(ex, err) })
	}
	if env == nil || env.Executor == nil {
		go run()
		return nil
	}
	if !env.Executor.Submit(run) {
		return ErrExecutorClosed
	}
	return nil
}

// Resume runs fn on the connection loop. It reports false if the
// connection has already gone away.
func (ex *Exchange) Resume(fn func(ex *Exchange)) bool {
	return ex.conn.Post(func() { fn(ex) })
}
