package core

import (
	"errors"
	"io"
	"net"
	stdhttp "net/http"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/core/http"
	"github.com/searchktools/fast-dispatch/core/pools"
	"github.com/searchktools/fast-dispatch/core/router"
)

// route is what a prefix maps to: a pooled handler or a static one
type route struct {
	handler http.Handler
	static  http.StaticHandler
}

// Dispatcher turns decoded messages into exchanges and drives them
// through their lifecycle. All methods run on a connection's loop.
type Dispatcher struct {
	routes   *router.Router[route]
	messages *pools.MessagePool
	env      *http.Env
	log      *zap.Logger

	stats struct {
		dispatched    atomic.Uint64
		static        atomic.Uint64
		rejected      atomic.Uint64
		notFound      atomic.Uint64
		unauthorized  atomic.Uint64
		handlerFaults atomic.Uint64
		faults        atomic.Uint64
		aborted       atomic.Uint64
	}
}

// NewDispatcher creates a dispatcher drawing exchanges from messages.
// env.Complete is set to the dispatcher's completion path when empty.
func NewDispatcher(messages *pools.MessagePool, env *http.Env, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		routes:   router.New[route](),
		messages: messages,
		env:      env,
		log:      log,
	}
	if env.Logger == nil {
		env.Logger = http.NullRequestLogger{}
	}
	if env.Complete == nil {
		env.Complete = d.complete
	}
	return d
}

// Dispatch runs one message
func (d *Dispatcher) Dispatch(c http.Conn, msg *http.Message) {
	prefix, rt, found := d.routes.Resolve(msg.Path)
	if found && rt.static != nil {
		d.stats.static.Add(1)
		rt.static.ServeStatic(c, msg)
		return
	}

	req, ok := d.messages.AcquireRequest()
	if !ok {
		d.reject(c)
		return
	}
	res, ok := d.messages.AcquireResponse()
	if !ok {
		d.messages.ReleaseRequest(req)
		d.reject(c)
		return
	}
	d.stats.dispatched.Add(1)

	ex := http.Init(c, req, res, msg, prefix, rt.handler, d.env)
	if prev := c.Slot().Bind(ex); prev != nil {
		prev.Free()
	}

	switch {
	case !found:
		d.stats.notFound.Add(1)
		d.fail(ex, stdhttp.StatusNotFound, nil)
	case msg.Unauthorized:
		d.stats.unauthorized.Add(1)
		d.fail(ex, stdhttp.StatusUnauthorized, nil)
	default:
		err := http.Recover(func() error { return rt.handler.OnRequest(ex) })
		if err != nil {
			d.handlerFault(ex, err)
			return
		}
		if !ex.IsSuspended() && !ex.IsFinished() {
			ex.Finish()
		}
	}
}

// reject answers a message that could not get pooled objects
func (d *Dispatcher) reject(c http.Conn) {
	d.stats.rejected.Add(1)
	d.log.Warn("message rejected",
		zap.String("conn", c.ID()),
		zap.Error(http.ErrServerTooBusy))
	writeError(connWriter{c}, stdhttp.StatusServiceUnavailable, msgPoolExhausted)
	c.Close()
}

func (d *Dispatcher) fail(ex *http.Exchange, status int, cause error) {
	ex.SetStatus(status)
	if err := http.RenderError(d.env.Errors, ex, cause); err != nil {
		d.log.Warn("error renderer failed", zap.String("conn", ex.Conn().ID()), zap.Error(err))
	}
	ex.Finish()
}

// handlerFault answers a handler error or panic with a 500. The exchange
// is finished even if it had been suspended.
func (d *Dispatcher) handlerFault(ex *http.Exchange, err error) {
	d.stats.handlerFaults.Add(1)

	fields := []zap.Field{zap.String("conn", ex.Conn().ID()), zap.Error(err)}
	var pe *http.HandlerPanicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.Stack))
	}

	if ex.IsFinished() {
		d.log.Error("handler failed after finishing", fields...)
		return
	}
	d.log.Error("handler failed", append(fields, zap.String("handler", ex.Request().HandlerURI()))...)

	ex.SetStatus(stdhttp.StatusInternalServerError)
	if rerr := http.RenderError(d.env.Errors, ex, err); rerr != nil {
		d.log.Warn("error renderer failed", zap.String("conn", ex.Conn().ID()), zap.Error(rerr))
	}
	d.onException(ex, err)
	d.env.Logger.Error(ex, err)
	ex.Finish()
}

// complete is where deferred work started with Exchange.Go lands
func (d *Dispatcher) complete(ex *http.Exchange, err error) {
	if err != nil {
		d.handlerFault(ex, err)
		return
	}
	if !ex.IsFinished() {
		ex.Finish()
	}
}

// Inactive handles the connection going away
func (d *Dispatcher) Inactive(c http.Conn) {
	ex := c.Slot().Current()
	if ex == nil {
		return
	}
	if !ex.IsFinished() {
		d.stats.aborted.Add(1)
		if h := ex.Handler(); h != nil {
			if err := http.Recover(func() error { h.OnAbort(ex); return nil }); err != nil {
				d.log.Error("abort callback failed", zap.String("conn", c.ID()), zap.Error(err))
			}
		}
	}
	ex.Free()
}

// Fault handles a transport error. The caller closes the connection.
func (d *Dispatcher) Fault(c http.Conn, err error) {
	d.stats.faults.Add(1)
	status, reset := classifyFault(err)

	ex := c.Slot().Current()
	if ex == nil || ex.IsFinished() {
		if reset {
			d.log.Debug("connection reset", zap.String("conn", c.ID()), zap.Error(err))
			return
		}
		d.log.Warn("transport fault", zap.String("conn", c.ID()), zap.Int("status", status), zap.Error(err))
		msg := msgInternalError
		if status == stdhttp.StatusBadRequest {
			msg = msgBadRequest
		}
		writeError(connWriter{c}, status, msg)
		return
	}

	d.log.Warn("transport fault", zap.String("conn", c.ID()), zap.Int("status", status), zap.Error(err))
	d.onException(ex, err)
	d.env.Logger.Error(ex, err)
	if reset {
		ex.Free()
		return
	}
	d.fail(ex, status, err)
}

// classifyFault maps a transport error to a status; reset reports a
// fault that is only logged.
func classifyFault(err error) (status int, reset bool) {
	var ne net.Error
	switch {
	case errors.Is(err, http.ErrFrameTooLong), errors.Is(err, http.ErrMalformed):
		return stdhttp.StatusBadRequest, false
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.As(err, &ne) && ne.Timeout():
		return 0, true
	}
	return stdhttp.StatusInternalServerError, false
}

func (d *Dispatcher) onException(ex *http.Exchange, err error) {
	h := ex.Handler()
	if h == nil {
		return
	}
	if perr := http.Recover(func() error { h.OnException(ex, err); return nil }); perr != nil {
		d.log.Error("exception callback failed", zap.String("conn", ex.Conn().ID()), zap.Error(perr))
	}
}

// Stats returns dispatch counters
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Dispatched:    d.stats.dispatched.Load(),
		Static:        d.stats.static.Load(),
		Rejected:      d.stats.rejected.Load(),
		NotFound:      d.stats.notFound.Load(),
		Unauthorized:  d.stats.unauthorized.Load(),
		HandlerFaults: d.stats.handlerFaults.Load(),
		Faults:        d.stats.faults.Load(),
		Aborted:       d.stats.aborted.Load(),
	}
}

// DispatchStats contains dispatcher counters
type DispatchStats struct {
	Dispatched    uint64 `json:"dispatched"`
	Static        uint64 `json:"static"`
	Rejected      uint64 `json:"rejected"`
	NotFound      uint64 `json:"not_found"`
	Unauthorized  uint64 `json:"unauthorized"`
	HandlerFaults uint64 `json:"handler_faults"`
	Faults        uint64 `json:"faults"`
	Aborted       uint64 `json:"aborted"`
}
