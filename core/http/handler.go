package http

import (
	"context"
	"net"
	"time"
)

// Handler receives exchanges routed to it and the lifecycle callbacks of
// those exchanges. OnException and OnAbort fire before the exchange is
// freed; OnComplete fires during the free of the exchange that still owns
// its connection.
type Handler interface {
	OnRequest(ex *Exchange) error
	OnException(ex *Exchange, err error)
	OnAbort(ex *Exchange)
	OnComplete(ex *Exchange)
}

// HandlerBase supplies no-op callbacks for embedding.
type HandlerBase struct{}

func (HandlerBase) OnException(*Exchange, error) {}
func (HandlerBase) OnAbort(*Exchange)            {}
func (HandlerBase) OnComplete(*Exchange)         {}

// HandlerFunc adapts a function into a Handler with no-op callbacks.
type HandlerFunc func(ex *Exchange) error

func (f HandlerFunc) OnRequest(ex *Exchange) error { return f(ex) }
func (HandlerFunc) OnException(*Exchange, error)   {}
func (HandlerFunc) OnAbort(*Exchange)              {}
func (HandlerFunc) OnComplete(*Exchange)           {}

// StaticHandler serves a message directly off the connection, bypassing
// the pooled exchange machinery.
type StaticHandler interface {
	ServeStatic(c Conn, msg *Message)
}

// ErrorRenderer produces the body of an error response. The status is set
// before it is called. cause is nil for 404 and 401.
type ErrorRenderer interface {
	OnError(ex *Exchange, cause error) error
}

// RequestLogger records finished exchanges and failures.
type RequestLogger interface {
	Access(ex *Exchange, elapsed time.Duration)
	Error(ex *Exchange, err error)
}

// Conn is the transport connection as seen by an exchange.
type Conn interface {
	ID() string
	Slot() *Slot
	// Write writes p completely; writes are serialised per connection.
	Write(p []byte) error
	Close() error
	IsOpen() bool
	// Post schedules fn on the connection's serial loop. It reports false
	// once the connection has gone away.
	Post(fn func()) bool
	// Context is cancelled when the connection goes away.
	Context() context.Context
	RemoteAddr() net.Addr
}

// Executor runs deferred handler work off the connection loop.
type Executor interface {
	Submit(task func()) bool
}

// Env carries the collaborators an exchange needs beyond its connection.
type Env struct {
	Errors   ErrorRenderer
	Logger   RequestLogger
	Executor Executor
	// Complete runs on the connection loop when a task started with
	// Exchange.Go returns.
	Complete func(ex *Exchange, err error)
}

// NullRequestLogger discards everything.
type NullRequestLogger struct{}

func (NullRequestLogger) Access(*Exchange, time.Duration) {}
func (NullRequestLogger) Error(*Exchange, error)          {}
