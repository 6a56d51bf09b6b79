package http

import (
	"bytes"
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/go-playground/assert.v1"
)

// fakeConn records writes and runs posted functions inline.
type fakeConn struct {
	slot   Slot
	mu     sync.Mutex
	out    bytes.Buffer
	writes int
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeConn() *fakeConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeConn{ctx: ctx, cancel: cancel}
}

func (c *fakeConn) ID() string               { return "test" }
func (c *fakeConn) Slot() *Slot              { return &c.slot }
func (c *fakeConn) Context() context.Context { return c.ctx }
func (c *fakeConn) IsOpen() bool             { return !c.closed.Load() }
func (c *fakeConn) RemoteAddr() net.Addr     { return &net.TCPAddr{} }

func (c *fakeConn) Write(p []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(p)
	c.writes++
	return nil
}

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
	}
	return nil
}

func (c *fakeConn) Post(fn func()) bool {
	if c.closed.Load() {
		return false
	}
	fn()
	return true
}

func (c *fakeConn) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// countingPool counts releases instead of pooling.
type countingPool struct {
	requests  atomic.Int32
	responses atomic.Int32
}

func (p *countingPool) ReleaseRequest(*Request)   { p.requests.Add(1) }
func (p *countingPool) ReleaseResponse(*Response) { p.responses.Add(1) }

// recordingHandler counts lifecycle callbacks in order.
type recordingHandler struct {
	mu     sync.Mutex
	events []string
	onReq  func(ex *Exchange) error
}

func (h *recordingHandler) record(s string) {
	h.mu.Lock()
	h.events = append(h.events, s)
	h.mu.Unlock()
}

func (h *recordingHandler) OnRequest(ex *Exchange) error {
	h.record("request")
	if h.onReq != nil {
		return h.onReq(ex)
	}
	return nil
}
func (h *recordingHandler) OnException(ex *Exchange, err error) { h.record("exception") }
func (h *recordingHandler) OnAbort(ex *Exchange)                { h.record("abort") }
func (h *recordingHandler) OnComplete(ex *Exchange)             { h.record("complete") }

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func testMessage(method, target string) *Message {
	path, query, _ := strings.Cut(target, "?")
	return &Message{
		Method:     method,
		Target:     target,
		Path:       path,
		RawQuery:   query,
		Proto:      "HTTP/1.1",
		Header:     stdhttp.Header{"Accept": {"text/plain"}},
		KeepAlive:  true,
		ReceivedAt: time.Now(),
	}
}

func bind(c *fakeConn, res *Response, h Handler, env *Env) *Exchange {
	ex := Init(c, NewRequest(), res, testMessage("GET", "/api/items?id=3"), "/api", h, env)
	c.Slot().Bind(ex)
	return ex
}

func TestExchangeBufferedFinish(t *testing.T) {
	c := newFakeConn()
	pool := &countingPool{}
	ex := bind(c, NewResponse(pool), nil, nil)

	ex.SetStatus(201)
	ex.SetHeader("X-Test", "1")
	ex.SetCookie(&stdhttp.Cookie{Name: "sid", Value: "abc"})
	ex.WriteString("hello ")
	ex.WriteString("world")

	if c.writeCount() != 0 {
		t.Fatal("Expected buffered writes to stay off the wire until Finish")
	}
	if err := ex.Finish(); err != nil {
		t.Fatalf("Finish error: %v", err)
	}

	out := c.output()
	if !strings.HasPrefix(out, "HTTP/1.1 201 Created\r\n") {
		t.Errorf("Unexpected status line in %q", out)
	}
	for _, want := range []string{"Content-Length: 11\r\n", "X-Test: 1\r\n", "Set-Cookie: sid=abc\r\n", "\r\n\r\nhello world"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
	assert.Equal(t, c.writeCount(), 1)
	assert.Equal(t, ex.IsFinished(), true)
	assert.Equal(t, pool.requests.Load(), int32(1))
	assert.Equal(t, pool.responses.Load(), int32(1))
	if c.Slot().Current() != nil {
		t.Error("Expected slot to be empty after finish")
	}
}

func TestExchangeDoubleFinish(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(&countingPool{}), nil, nil)

	if err := ex.Finish(); err != nil {
		t.Fatalf("First Finish error: %v", err)
	}
	writes := c.writeCount()

	if err := ex.Finish(); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished, got %v", err)
	}
	if c.writeCount() != writes {
		t.Error("Expected second Finish not to write")
	}
}

func TestExchangeWriteAfterFinish(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(nil), nil, nil)
	ex.Finish()

	if _, err := ex.WriteString("late"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestExchangeChunked(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(nil), nil, nil)
	ex.SetChunked(true)

	ex.WriteString("hello")
	if c.writeCount() != 2 {
		t.Fatalf("Expected head and first chunk on the wire, got %d writes", c.writeCount())
	}
	ex.SetStatus(500) // too late, head is out
	ex.WriteString(" world")
	ex.Finish()

	out := c.output()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("Unexpected status line in %q", out)
	}
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("Expected chunked header in %q", out)
	}
	if strings.Contains(out, "Content-Length") {
		t.Errorf("Expected no Content-Length in %q", out)
	}
	if !strings.HasSuffix(out, "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n") {
		t.Errorf("Unexpected chunk framing in %q", out)
	}
	assert.Equal(t, ex.Written(), int64(11))
}

func TestExchangeChunkedEmpty(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(nil), nil, nil)
	ex.SetChunked(true)
	ex.Finish()

	if !strings.HasSuffix(c.output(), "\r\n\r\n0\r\n\r\n") {
		t.Errorf("Expected head followed by terminator, got %q", c.output())
	}
}

func TestExchangeHeadOmitsBody(t *testing.T) {
	c := newFakeConn()
	ex := Init(c, NewRequest(), NewResponse(nil), testMessage("HEAD", "/x"), "/", nil, nil)
	c.Slot().Bind(ex)

	ex.WriteString("body")
	ex.Finish()

	out := c.output()
	if !strings.Contains(out, "Content-Length: 4\r\n") || strings.HasSuffix(out, "body") {
		t.Errorf("Expected headers only with Content-Length 4, got %q", out)
	}
}

func TestExchangeCloseWithoutKeepAlive(t *testing.T) {
	c := newFakeConn()
	msg := testMessage("GET", "/x")
	msg.KeepAlive = false
	ex := Init(c, NewRequest(), NewResponse(nil), msg, "/", nil, nil)
	c.Slot().Bind(ex)

	ex.Finish()

	if c.IsOpen() {
		t.Error("Expected connection to be closed after a non keep-alive response")
	}
	if !strings.Contains(c.output(), "Connection: close\r\n") {
		t.Errorf("Expected Connection: close in %q", c.output())
	}
}

func TestExchangeFreeRunsOnce(t *testing.T) {
	c := newFakeConn()
	pool := &countingPool{}
	h := &recordingHandler{}
	ex := bind(c, NewResponse(pool), h, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.Free()
		}()
	}
	wg.Wait()

	assert.Equal(t, h.Events(), []string{"complete"})
	assert.Equal(t, pool.requests.Load(), int32(1))
	assert.Equal(t, pool.responses.Load(), int32(1))
	if ex.Context().Err() == nil {
		t.Error("Expected exchange context to be cancelled")
	}
}

func TestExchangeEvictedIsDisposed(t *testing.T) {
	c := newFakeConn()
	pool := &countingPool{}
	h1, h2 := &recordingHandler{}, &recordingHandler{}

	first := bind(c, NewResponse(pool), h1, nil)
	first.Suspend()
	second := Init(c, NewRequest(), NewResponse(pool), testMessage("GET", "/b"), "/", h2, nil)

	evicted := c.Slot().Bind(second)
	if evicted != first {
		t.Fatal("Expected the first exchange to be evicted")
	}
	evicted.Free()

	if len(h1.Events()) != 0 {
		t.Errorf("Expected no callbacks for a disposed exchange, got %v", h1.Events())
	}
	assert.Equal(t, pool.responses.Load(), int32(1))
	assert.Equal(t, pool.requests.Load(), int32(1))
	if c.Slot().Current() != second {
		t.Error("Expected the second exchange to stay in the slot")
	}

	// late completion of the evicted exchange is a no-op
	if err := first.Finish(); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished, got %v", err)
	}
	if c.writeCount() != 0 {
		t.Error("Expected no writes from a disposed exchange")
	}

	second.Finish()
	assert.Equal(t, h2.Events(), []string{"complete"})
}

func TestExchangeStaleHandleAfterReuse(t *testing.T) {
	c := newFakeConn()
	res := NewResponse(nil)

	old := bind(c, res, nil, nil)
	old.Suspend()
	old.Free()

	fresh := bind(c, res, nil, nil)
	fresh.WriteString("fresh")

	if err := old.Finish(); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected stale Finish to fail, got %v", err)
	}
	if _, err := old.WriteString("stale"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected stale Write to fail, got %v", err)
	}
	old.SetStatus(500)
	old.Free()

	assert.Equal(t, fresh.IsFinished(), false)
	assert.Equal(t, fresh.Status(), 200)
	assert.Equal(t, old.IsFinished(), true)

	fresh.Finish()
	if strings.Contains(c.output(), "stale") || !strings.HasSuffix(c.output(), "fresh") {
		t.Errorf("Expected only the fresh body, got %q", c.output())
	}
}

func TestExchangeInitResets(t *testing.T) {
	c := newFakeConn()
	res := NewResponse(nil)

	ex := bind(c, res, nil, nil)
	ex.SetStatus(404)
	ex.SetHeader("X-Old", "1")
	ex.SetChunked(true)
	ex.Request().SetAttr("k", "v")
	ex.Free() // abandoned without finishing

	ex = bind(c, res, nil, nil)
	assert.Equal(t, ex.Status(), 200)
	assert.Equal(t, ex.Header("X-Old"), "")
	assert.Equal(t, ex.IsSuspended(), false)
	assert.Equal(t, ex.IsFinished(), false)
	if _, ok := ex.Request().Attr("k"); ok {
		t.Error("Expected request attributes to be cleared")
	}

	ex.WriteString("x")
	ex.Finish()
	if !strings.Contains(c.output(), "Content-Length: 1\r\n") {
		t.Errorf("Expected buffered mode after reset, got %q", c.output())
	}
}

func TestExchangeSuspendAndGo(t *testing.T) {
	c := newFakeConn()
	h := &recordingHandler{}
	done := make(chan struct{})
	var completed error
	env := &Env{
		Complete: func(ex *Exchange, err error) {
			completed = err
			ex.Finish()
			close(done)
		},
	}
	ex := bind(c, NewResponse(nil), h, env)

	err := ex.Go(func(ctx context.Context) error {
		_, err := ex.WriteString("async")
		return err
	})
	if err != nil {
		t.Fatalf("Go error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for deferred completion")
	}

	assert.Equal(t, completed, nil)
	if !strings.HasSuffix(c.output(), "async") {
		t.Errorf("Expected async body, got %q", c.output())
	}
	assert.Equal(t, h.Events(), []string{"complete"})
}

func TestExchangeGoPanicBecomesError(t *testing.T) {
	c := newFakeConn()
	errs := make(chan error, 1)
	env := &Env{Complete: func(ex *Exchange, err error) { errs <- err; ex.Free() }}
	ex := bind(c, NewResponse(nil), nil, env)

	ex.Go(func(ctx context.Context) error { panic("kaboom") })

	select {
	case err := <-errs:
		var pe *HandlerPanicError
		if !errors.As(err, &pe) || pe.Value != "kaboom" {
			t.Errorf("Expected HandlerPanicError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for deferred completion")
	}
}

func TestExchangeSuspendAfterFinish(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(nil), nil, nil)
	ex.Finish()

	if err := ex.Suspend(); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished, got %v", err)
	}
}

func TestRequestAccessors(t *testing.T) {
	c := newFakeConn()
	msg := testMessage("POST", "/api/items/42?q=a+b&q=c")
	msg.Header.Set("Cookie", "sid=xyz; theme=dark")
	msg.Body = []byte("payload")
	ex := Init(c, NewRequest(), NewResponse(nil), msg, "/api", nil, nil)
	req := ex.Request()

	assert.Equal(t, req.Method(), "POST")
	assert.Equal(t, req.Path(), "/api/items/42")
	assert.Equal(t, req.HandlerURI(), "/api")
	assert.Equal(t, req.PathInfo(), "/items/42")
	assert.Equal(t, req.Query("q"), "a b")
	assert.Equal(t, req.QueryValues("q"), []string{"a b", "c"})
	assert.Equal(t, string(req.Body()), "payload")
	assert.Equal(t, req.Header("accept"), "text/plain")

	cookie, ok := req.Cookie("theme")
	assert.Equal(t, ok, true)
	assert.Equal(t, cookie.Value, "dark")

	// body is copied, not aliased
	msg.Body[0] = 'X'
	assert.Equal(t, string(req.Body()), "payload")
}

func TestRenderErrorFallback(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(nil), nil, nil)
	ex.SetStatus(500)

	cause := errors.New("db down")
	err := RenderError(panickingRenderer{}, ex, cause)
	if err == nil {
		t.Fatal("Expected renderer failure to be reported")
	}
	ex.Finish()

	out := c.output()
	if !strings.Contains(out, "db down was raised while processing this request.  Additionally, panic: template broken") {
		t.Errorf("Expected fallback text naming both failures, got %q", out)
	}
}

type panickingRenderer struct{}

func (panickingRenderer) OnError(*Exchange, error) error { panic("template broken") }

func TestDefaultErrorRenderer(t *testing.T) {
	c := newFakeConn()
	ex := bind(c, NewResponse(nil), nil, nil)
	ex.SetStatus(404)

	RenderError(nil, ex, nil)
	ex.Finish()

	if !strings.HasSuffix(c.output(), "Request could not be processed.  Status code: 404") {
		t.Errorf("Unexpected body %q", c.output())
	}
}

func TestCodecErrorRenderer(t *testing.T) {
	c := newFakeConn()
	msg := testMessage("GET", "/missing")
	msg.Header.Set("Accept", "application/json")
	ex := Init(c, NewRequest(), NewResponse(nil), msg, "", nil, nil)
	c.Slot().Bind(ex)
	ex.SetStatus(404)

	if err := RenderError(CodecErrorRenderer{}, ex, nil); err != nil {
		t.Fatalf("RenderError error: %v", err)
	}
	ex.Finish()

	out := c.output()
	if !strings.Contains(out, "Content-Type: application/json") || !strings.Contains(out, `"status":404`) {
		t.Errorf("Expected JSON error document, got %q", out)
	}
}
