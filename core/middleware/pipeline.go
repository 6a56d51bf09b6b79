package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searchktools/fast-dispatch/core/http"
)

// RequestIDKey is the request attribute holding the request id
const RequestIDKey = "request_id"

// Stage runs before the handler. Returning false stops the chain; the
// stage then owns the response.
type Stage func(ex *http.Exchange) bool

// Pipeline is an ordered list of stages placed in front of a handler
type Pipeline struct {
	stages []Stage
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		stages: make([]Stage, 0, 8),
	}
}

// Use appends stages to the pipeline
func (p *Pipeline) Use(stages ...Stage) *Pipeline {
	p.stages = append(p.stages, stages...)
	return p
}

// Len returns the number of stages
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Execute runs the stages and then final, unless a stage stopped the chain
func (p *Pipeline) Execute(ex *http.Exchange, final http.Handler) error {
	for _, s := range p.stages {
		if !s(ex) {
			return nil
		}
	}
	return final.OnRequest(ex)
}

// Then wraps h so every exchange routed to it passes the pipeline first.
// Later Use calls do not affect the returned handler.
func (p *Pipeline) Then(h http.Handler) http.Handler {
	stages := make([]Stage, len(p.stages))
	copy(stages, p.stages)
	return &chain{pipeline: Pipeline{stages: stages}, next: h}
}

type chain struct {
	pipeline Pipeline
	next     http.Handler
}

func (c *chain) OnRequest(ex *http.Exchange) error {
	return c.pipeline.Execute(ex, c.next)
}

func (c *chain) OnException(ex *http.Exchange, err error) { c.next.OnException(ex, err) }
func (c *chain) OnAbort(ex *http.Exchange)                { c.next.OnAbort(ex) }
func (c *chain) OnComplete(ex *http.Exchange)             { c.next.OnComplete(ex) }

// Common middleware implementations

// RequestID propagates an incoming X-Request-ID or assigns a new one
func RequestID() Stage {
	return func(ex *http.Exchange) bool {
		id := ex.Request().Header("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ex.Request().SetAttr(RequestIDKey, id)
		ex.SetHeader("X-Request-ID", id)
		return true
	}
}

// CORS adds CORS headers and answers preflight requests itself
func CORS(origin string) Stage {
	if origin == "" {
		origin = "*"
	}
	return func(ex *http.Exchange) bool {
		ex.SetHeader("Access-Control-Allow-Origin", origin)
		ex.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ex.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ex.Request().Method() == "OPTIONS" {
			ex.SetStatus(204)
			return false
		}
		return true
	}
}

// RateLimiter admits requestsPerSecond exchanges per one-second window and
// answers the rest with 429
func RateLimiter(requestsPerSecond int) Stage {
	var (
		tokens     = requestsPerSecond
		lastRefill = time.Now()
		mu         sync.Mutex
	)

	return func(ex *http.Exchange) bool {
		mu.Lock()

		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			return true
		}
		retry := time.Second - now.Sub(lastRefill)
		mu.Unlock()

		ex.SetHeader("Retry-After", strconv.Itoa(int(retry/time.Second)+1))
		ex.JSON(429, map[string]any{
			"error": "Too Many Requests",
		})
		return false
	}
}
