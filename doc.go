/*
Package fastdispatch is a request-dispatch runtime for HTTP/1.x services.

It accepts connections, decodes requests, routes each one by longest path
prefix to a handler, and drives a pooled request/response pair through its
lifecycle: initialisation, optional suspension while work runs elsewhere,
a single finish, and release back to a bounded pool.

# Quick Start

	package main

	import (
		"log"

		"github.com/searchktools/fast-dispatch/app"
		"github.com/searchktools/fast-dispatch/config"
		"github.com/searchktools/fast-dispatch/core/http"
	)

	func main() {
		application, err := app.New(config.New())
		if err != nil {
			log.Fatal(err)
		}

		engine := application.Engine()
		engine.HandleFunc("/hello", func(ex *http.Exchange) error {
			return ex.String(200, "Hello, World!")
		})

		if err := application.Run(); err != nil {
			log.Fatal(err)
		}
	}

# Modules

  - app: lifecycle, logging setup, graceful shutdown
  - config: flags, JSON/YAML files and FASTDISPATCH_* environment
  - core: engine, connections, admission control, dispatcher
  - core/http: messages, decoder, exchanges and handler interfaces
  - core/pools: bounded object pool, message pool, worker pool
  - core/router: longest-prefix router
  - core/codec: JSON and protobuf body codecs
  - core/logging: zap runtime logger and access loggers
  - core/middleware: request-id, CORS and rate-limit stages
  - core/observability: per-handler latency and error monitor
  - core/sse: Server-Sent Events broker and streaming handler

# Exchanges

A handler receives an *http.Exchange. If OnRequest returns without
suspending, the dispatcher finishes the response. A handler that needs to
wait calls Exchange.Go, which suspends the exchange, runs the task on the
worker pool and finishes the response on the connection's loop when the
task returns. A connection that goes away first triggers OnAbort, and the
late Finish becomes a no-op.

Concurrency limits come from config.Config.MaxConnections. It caps admitted
connections and sizes the request and response pools; requests beyond it
are answered with 503 and the connection is closed.
*/
package fastdispatch
