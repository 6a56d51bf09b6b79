package core

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/config"
	"github.com/searchktools/fast-dispatch/core/http"
	"github.com/searchktools/fast-dispatch/core/pools"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("core: server closed")

// Engine accepts connections and runs every decoded message through the
// dispatcher. Routes may be changed while serving.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	dispatcher *Dispatcher
	messages   *pools.MessagePool
	workers    *pools.WorkerPool
	admission  *Admission
	authorize  http.Authorizer
	env        http.Env

	mu     sync.Mutex
	ln     net.Listener
	closed atomic.Bool
	wg     sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the runtime logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithErrorRenderer sets the renderer of 4xx/5xx bodies
func WithErrorRenderer(r http.ErrorRenderer) Option {
	return func(e *Engine) { e.env.Errors = r }
}

// WithRequestLogger sets the access and error log sink
func WithRequestLogger(l http.RequestLogger) Option {
	return func(e *Engine) { e.env.Logger = l }
}

// WithAuthorizer installs a check run on every decoded message; messages
// it refuses are answered with 401 without reaching their handler.
func WithAuthorizer(a http.Authorizer) Option {
	return func(e *Engine) { e.authorize = a }
}

// NewEngine creates a new engine instance. A nil cfg means config.Default().
func NewEngine(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg: cfg,
		log: zap.NewNop(),
		env: http.Env{
			Errors: http.DefaultErrorRenderer{},
			Logger: http.NullRequestLogger{},
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	capacity := cfg.MaxConnections
	if capacity < 0 {
		capacity = pools.Unbounded
	}
	e.messages = pools.NewMessagePool(capacity)
	e.workers = pools.NewWorkerPool(cfg.Workers, pools.WithWorkerLogger(e.log.Named("worker")))
	e.env.Executor = e.workers
	e.admission = NewAdmission(cfg.MaxConnections)
	e.dispatcher = NewDispatcher(e.messages, &e.env, e.log.Named("dispatch"))

	return e
}

// Handle maps prefix to h
func (e *Engine) Handle(prefix string, h http.Handler) error {
	return e.dispatcher.routes.Add(prefix, route{handler: h})
}

// HandleFunc maps prefix to fn
func (e *Engine) HandleFunc(prefix string, fn func(ex *http.Exchange) error) error {
	return e.Handle(prefix, http.HandlerFunc(fn))
}

// HandleStatic maps prefix to a handler served off the connection
// without a pooled exchange
func (e *Engine) HandleStatic(prefix string, h http.StaticHandler) error {
	return e.dispatcher.routes.Add(prefix, route{static: h})
}

// Remove unmaps prefix
func (e *Engine) Remove(prefix string) bool {
	return e.dispatcher.routes.Remove(prefix)
}

// Routes returns the mapped prefixes in resolution order
func (e *Engine) Routes() []string {
	return e.dispatcher.routes.Prefixes()
}

// Run listens on addr and serves until Shutdown
func (e *Engine) Run(addr string) error {
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (e *Engine) Serve(ln net.Listener) error {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	e.ln = ln
	e.mu.Unlock()

	e.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", e.cfg.MaxConnections),
		zap.Int("max_message_size", e.cfg.MaxMessageSize))

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if e.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(2*delay, 5*time.Millisecond), time.Second)
				e.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0
		e.ServeConn(nc)
	}
}

// ServeConn admits nc and starts serving it
func (e *Engine) ServeConn(nc net.Conn) {
	tuneConn(nc)
	c := newConnection(e, nc)

	// Admission and wg.Add happen under e.mu so Shutdown's CloseAll and
	// Wait see every connection admitted before closed was set.
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		c.cancel()
		nc.Close()
		return
	}
	admitted := e.admission.Admit(c)
	if admitted {
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if !admitted {
		c.cancel()
		e.log.Warn("connection rejected",
			zap.Stringer("remote", nc.RemoteAddr()),
			zap.Error(http.ErrServerTooBusy))
		if d := e.cfg.WriteTimeout; d > 0 {
			nc.SetWriteDeadline(time.Now().Add(d))
		}
		writeError(nc, stdhttp.StatusServiceUnavailable, msgServerTooBusy)
		nc.Close()
		return
	}

	e.log.Debug("connection accepted",
		zap.String("conn", c.id),
		zap.Stringer("remote", nc.RemoteAddr()))
	go c.read()
	go c.serve()
}

// Addr returns the listener address, or nil before Serve
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Shutdown stops accepting, closes every connection and waits for their
// loops and the worker pool to finish, or for ctx to be done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return nil
	}
	ln := e.ln
	e.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	e.admission.CloseAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.workers.Close()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
