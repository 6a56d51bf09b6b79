// Package httptest provides an in-memory connection for exercising
// handlers and exchange collaborators without a socket.
package httptest

import (
	"bufio"
	"bytes"
	"context"
	"net"
	stdhttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/fast-dispatch/core/http"
)

// Conn records everything written to it. Posted functions run inline,
// one at a time.
type Conn struct {
	id   string
	slot http.Slot

	mu     sync.Mutex
	out    bytes.Buffer
	writes int

	loop   sync.Mutex
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn creates an open connection
func NewConn(id string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{id: id, ctx: ctx, cancel: cancel}
}

func (c *Conn) ID() string               { return c.id }
func (c *Conn) Slot() *http.Slot         { return &c.slot }
func (c *Conn) Context() context.Context { return c.ctx }
func (c *Conn) IsOpen() bool             { return !c.closed.Load() }
func (c *Conn) RemoteAddr() net.Addr     { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000} }

func (c *Conn) Write(p []byte) error {
	if c.closed.Load() {
		return http.ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Write(p)
	c.writes++
	return nil
}

func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
	}
	return nil
}

func (c *Conn) Post(fn func()) bool {
	if c.closed.Load() {
		return false
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	fn()
	return true
}

// Output returns everything written so far.
func (c *Conn) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// Writes returns the number of transport writes.
func (c *Conn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Response parses the first response written to the connection.
func (c *Conn) Response() (*stdhttp.Response, string, error) {
	res, err := stdhttp.ReadResponse(bufio.NewReader(strings.NewReader(c.Output())), nil)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(res.Body)
	return res, body.String(), err
}

// NewMessage builds a decoded GET message for target.
func NewMessage(method, target string) *http.Message {
	path, query, _ := strings.Cut(target, "?")
	return &http.Message{
		Method:     method,
		Target:     target,
		Path:       path,
		RawQuery:   query,
		Proto:      "HTTP/1.1",
		Header:     make(stdhttp.Header),
		KeepAlive:  true,
		ReceivedAt: time.Now(),
	}
}

// NewExchange binds fresh, unpooled request and response objects to c and
// places the exchange in c's slot.
func NewExchange(c *Conn, msg *http.Message, prefix string, h http.Handler, env *http.Env) *http.Exchange {
	ex := http.Init(c, http.NewRequest(), http.NewResponse(nil), msg, prefix, h, env)
	c.Slot().Bind(ex)
	return ex
}
