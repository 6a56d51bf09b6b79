package http

import (
	"bytes"
	"context"
	stdhttp "net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Slot holds the exchange currently attributed to a connection. At most
// one exchange occupies it at any instant.
type Slot struct {
	cur atomic.Pointer[Exchange]
}

// Bind makes ex the current exchange and returns the evicted one, if any.
func (s *Slot) Bind(ex *Exchange) *Exchange {
	return s.cur.Swap(ex)
}

// Current returns the occupying exchange or nil.
func (s *Slot) Current() *Exchange {
	return s.cur.Load()
}

// release empties the slot only if ex still occupies it.
func (s *Slot) release(ex *Exchange) bool {
	return s.cur.CompareAndSwap(ex, nil)
}

// Releaser takes request/response pairs back. MessagePool implements it.
type Releaser interface {
	ReleaseRequest(req *Request)
	ReleaseResponse(res *Response)
}

// Response is the pooled outbound half of an exchange.
//
// Every mutation happens under mu after checking the caller's generation,
// so a handle left over from a recycled exchange cannot reach the next one.
// Transport writes are also done under mu, which is what keeps a response
// from going back to the pool while one of its writes is in flight.
type Response struct {
	pool Releaser

	mu      sync.Mutex
	gen     uint64
	conn    Conn
	req     *Request
	handler Handler
	env     *Env
	cancel  context.CancelFunc
	start   time.Time

	status    int
	header    stdhttp.Header
	cookies   []*stdhttp.Cookie
	body      bytes.Buffer
	head      bytes.Buffer
	frame     []byte
	chunked   bool
	started   bool
	finishing bool
	written   int64

	suspended atomic.Bool
	finished  atomic.Bool
}

// NewResponse allocates an idle response owned by pool.
func NewResponse(pool Releaser) *Response {
	r := &Response{
		pool:   pool,
		header: make(stdhttp.Header, 8),
		frame:  make([]byte, 0, 512),
	}
	r.finished.Store(true)
	return r
}

// init prepares the response for a new exchange and returns its handle.
// Every field is reset, whatever state the previous use ended in.
func (r *Response) init(c Conn, req *Request, h Handler, env *Env, start time.Time) *Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	parent := context.Background()
	if c != nil {
		parent = c.Context()
	}
	ctx, cancel := context.WithCancel(parent)

	r.gen++
	r.conn = c
	r.req = req
	r.handler = h
	r.env = env
	r.cancel = cancel
	r.start = start

	r.status = stdhttp.StatusOK
	clear(r.header)
	clear(r.cookies)
	r.cookies = r.cookies[:0]
	r.body.Reset()
	r.head.Reset()
	r.frame = r.frame[:0]
	r.chunked = false
	r.started = false
	r.finishing = false
	r.written = 0
	r.suspended.Store(false)
	r.finished.Store(false)

	return &Exchange{req: req, res: r, conn: c, gen: r.gen, ctx: ctx}
}

// Init binds the response to a new exchange. Used by the dispatcher.
func Init(c Conn, req *Request, res *Response, msg *Message, handlerURI string, h Handler, env *Env) *Exchange {
	req.init(c, msg, handlerURI)
	start := msg.ReceivedAt
	if start.IsZero() {
		start = time.Now()
	}
	return res.init(c, req, h, env, start)
}

// lock takes mu if gen is still the live generation.
func (r *Response) lock(gen uint64) bool {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return false
	}
	return true
}

func (r *Response) writable() bool {
	return !r.finishing && !r.finished.Load()
}

func (r *Response) omitBody() bool {
	return r.req != nil && r.req.method == stdhttp.MethodHead
}

func (r *Response) write(gen uint64, p []byte) (int, error) {
	if !r.lock(gen) {
		return 0, ErrInvalidState
	}
	defer r.mu.Unlock()

	if !r.writable() {
		return 0, ErrInvalidState
	}
	if !r.chunked {
		return r.body.Write(p)
	}

	if !r.started {
		r.buildHeadLocked(-1)
		if err := r.conn.Write(r.head.Bytes()); err != nil {
			return 0, err
		}
	}
	if len(p) == 0 || r.omitBody() {
		return len(p), nil
	}

	r.frame = strconv.AppendInt(r.frame[:0], int64(len(p)), 16)
	r.frame = append(r.frame, '\r', '\n')
	r.frame = append(r.frame, p...)
	r.frame = append(r.frame, '\r', '\n')
	if err := r.conn.Write(r.frame); err != nil {
		return 0, err
	}
	r.written += int64(len(p))
	return len(p), nil
}

// buildHeadLocked renders the status line and headers into head.
// contentLength < 0 means chunked.
func (r *Response) buildHeadLocked(contentLength int64) {
	r.head.Reset()
	r.head.WriteString("HTTP/1.1 ")
	r.head.WriteString(strconv.Itoa(r.status))
	r.head.WriteByte(' ')
	r.head.WriteString(StatusText(r.status))
	r.head.WriteString("\r\n")

	if contentLength < 0 {
		r.header.Del("Content-Length")
		r.header.Set("Transfer-Encoding", "chunked")
	} else {
		r.header.Del("Transfer-Encoding")
		r.header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}

	switch {
	case r.req == nil:
	case !r.req.keepAlive:
		r.header.Set("Connection", "close")
	case r.req.proto == "HTTP/1.0":
		r.header.Set("Connection", "keep-alive")
	}

	for _, c := range r.cookies {
		if v := c.String(); v != "" {
			r.header.Add("Set-Cookie", v)
		}
	}

	r.header.Write(&r.head)
	r.head.WriteString("\r\n")

	r.started = true
}

// finishLocked writes whatever the response still owes the client.
func (r *Response) finishLocked() error {
	if r.chunked {
		if !r.started {
			r.buildHeadLocked(-1)
		} else {
			r.head.Reset()
		}
		if !r.omitBody() {
			r.head.WriteString("0\r\n\r\n")
		}
		return r.conn.Write(r.head.Bytes())
	}

	n := int64(r.body.Len())
	r.buildHeadLocked(n)
	if !r.omitBody() {
		r.head.Write(r.body.Bytes())
	}
	if err := r.conn.Write(r.head.Bytes()); err != nil {
		return err
	}
	r.written = n
	return nil
}

func (r *Response) finish(ex *Exchange) error {
	if !r.lock(ex.gen) {
		return ErrAlreadyFinished
	}
	if !r.writable() {
		r.mu.Unlock()
		return ErrAlreadyFinished
	}
	r.finishing = true

	err := r.finishLocked()
	keepAlive := r.req != nil && r.req.keepAlive
	elapsed := time.Since(r.start)
	c, env := r.conn, r.env
	r.mu.Unlock()

	if env != nil && env.Logger != nil {
		env.Logger.Access(ex, elapsed)
	}
	r.free(ex, true)

	if (!keepAlive || err != nil) && c != nil {
		c.Close()
	}
	return err
}

// free is the one cleanup path of an exchange. The first call for a
// generation wins; later calls, and calls for a stale generation, do
// nothing. A call made while another goroutine is finishing the exchange
// leaves cleanup to the finisher.
func (r *Response) free(ex *Exchange, finisher bool) {
	r.mu.Lock()
	if r.gen != ex.gen || (r.finishing && !finisher) || !r.finished.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return
	}
	r.suspended.Store(false)
	c, h, req, env, cancel := r.conn, r.handler, r.req, r.env, r.cancel
	r.mu.Unlock()

	cancel()

	if c != nil && c.Slot().release(ex) && h != nil {
		if err := Recover(func() error { h.OnComplete(ex); return nil }); err != nil && env != nil && env.Logger != nil {
			env.Logger.Error(ex, err)
		}
	}

	// A response evicted from its slot by a newer exchange is disposed:
	// no callbacks, but both halves still go back to the pool.
	if r.pool != nil {
		r.pool.ReleaseRequest(req)
		r.pool.ReleaseResponse(r)
	}
}

func (r *Response) suspend(gen uint64) error {
	if !r.lock(gen) {
		return ErrAlreadyFinished
	}
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrAlreadyFinished
	}
	r.suspended.Store(true)
	return nil
}

// IsFinished reports whether the response has been freed or disposed.
// Idle pooled responses report true.
func (r *Response) IsFinished() bool {
	return r.finished.Load()
}

// StatusText returns the reason phrase for code.
func StatusText(code int) string {
	if text := stdhttp.StatusText(code); text != "" {
		return text
	}
	return "Status " + strconv.Itoa(code)
}
