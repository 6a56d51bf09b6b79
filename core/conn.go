package core

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/core/http"
)

// Event kinds delivered to a connection's loop
const (
	evMessage = iota
	evTask
	evInactive
	evFault
)

type event struct {
	kind int
	msg  *http.Message
	fn   func()
	err  error
}

// connection is one accepted socket. A reader goroutine decodes messages
// and a serial loop processes them, posted tasks, and the terminal
// inactive or fault event, strictly in order.
type connection struct {
	id   string
	nc   net.Conn
	eng  *Engine
	slot http.Slot
	dec  *http.Decoder

	ctx    context.Context
	cancel context.CancelFunc

	// mailbox
	mu     sync.Mutex
	events *queue.Queue
	closed bool
	signal chan struct{}
	ack    chan struct{}
	done   chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newConnection(e *Engine, nc net.Conn) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:     uuid.NewString(),
		nc:     nc,
		eng:    e,
		ctx:    ctx,
		cancel: cancel,
		events: queue.New(),
		signal: make(chan struct{}, 1),
		ack:    make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.dec = http.NewDecoder(nc, e.cfg.MaxMessageSize)
	c.dec.OnStart(func() {
		c.setReadDeadline(e.cfg.ReadTimeout)
	})
	return c
}

func (c *connection) ID() string               { return c.id }
func (c *connection) Slot() *http.Slot         { return &c.slot }
func (c *connection) Context() context.Context { return c.ctx }
func (c *connection) RemoteAddr() net.Addr     { return c.nc.RemoteAddr() }

func (c *connection) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Write writes p completely
func (c *connection) Write(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if !c.IsOpen() {
		return http.ErrConnClosed
	}
	if d := c.eng.cfg.WriteTimeout; d > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(d))
	}
	_, err := c.nc.Write(p)
	return err
}

// Close closes the socket and stops the loop. Safe to call repeatedly.
func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		err = c.nc.Close()
	})
	return err
}

func (c *connection) Post(fn func()) bool {
	return c.post(event{kind: evTask, fn: fn})
}

func (c *connection) post(ev event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.events.Add(ev)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

func (c *connection) next() (event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.events.Length() == 0 {
		return event{}, false
	}
	return c.events.Remove().(event), true
}

func (c *connection) setReadDeadline(d time.Duration) {
	if d > 0 {
		c.nc.SetReadDeadline(time.Now().Add(d))
	} else {
		c.nc.SetReadDeadline(time.Time{})
	}
}

// read decodes messages until the peer goes away or a fault occurs. It
// waits for each message to be dispatched before decoding the next one.
func (c *connection) read() {
	for {
		c.setReadDeadline(c.eng.cfg.IdleTimeout)

		msg, err := c.dec.Decode()
		if err != nil {
			// An exchange still working in the background keeps the
			// connection alive past the idle timeout.
			if errors.Is(err, http.ErrIdle) && c.slot.Current() != nil && c.IsOpen() {
				continue
			}
			if isInactive(err) {
				c.post(event{kind: evInactive})
			} else {
				c.post(event{kind: evFault, err: err})
			}
			return
		}

		if c.eng.authorize != nil && !c.eng.authorize(msg) {
			msg.Unauthorized = true
		}
		if !c.post(event{kind: evMessage, msg: msg}) {
			return
		}

		select {
		case <-c.ack:
		case <-c.done:
			return
		}
	}
}

func isInactive(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, http.ErrIdle)
}

// serve runs the connection loop
func (c *connection) serve() {
	defer c.teardown()

	d := c.eng.dispatcher
	for {
		select {
		case <-c.signal:
		case <-c.done:
			d.Inactive(c)
			return
		}

		for {
			ev, ok := c.next()
			if !ok {
				break
			}
			switch ev.kind {
			case evMessage:
				d.Dispatch(c, ev.msg)
				select {
				case c.ack <- struct{}{}:
				default:
				}
			case evTask:
				ev.fn()
			case evInactive:
				d.Inactive(c)
				c.Close()
				return
			case evFault:
				d.Fault(c, ev.err)
				c.Close()
				return
			}
		}
	}
}

func (c *connection) teardown() {
	c.Close()
	c.eng.admission.Release(c)
	c.eng.log.Debug("connection closed",
		zap.String("conn", c.id),
		zap.Stringer("remote", c.nc.RemoteAddr()))
	c.eng.wg.Done()
}
