package sse

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/searchktools/fast-dispatch/core/http"
)

// Handler streams a broker's events to each client that requests its
// prefix. The client id comes from the client_id query parameter or is
// generated.
type Handler struct {
	http.HandlerBase
	broker    *Broker
	keepalive time.Duration
}

// NewHandler creates a handler for b. A keepalive of 0 disables keepalive
// comments.
func NewHandler(b *Broker, keepalive time.Duration) *Handler {
	return &Handler{broker: b, keepalive: keepalive}
}

func (h *Handler) OnRequest(ex *http.Exchange) error {
	id := ex.Request().Query("client_id")
	if id == "" {
		id = uuid.NewString()
	}

	client, err := h.broker.Subscribe(id)
	if err != nil {
		return ex.String(503, err.Error())
	}

	ex.SetHeader("Content-Type", "text/event-stream")
	ex.SetHeader("Cache-Control", "no-cache")
	ex.SetHeader("X-Accel-Buffering", "no")
	ex.SetChunked(true)

	err = ex.Go(func(ctx context.Context) error {
		defer h.broker.Unsubscribe(client)
		return h.pump(ctx, ex, client)
	})
	if err != nil {
		h.broker.Unsubscribe(client)
	}
	return err
}

// pump writes events until the client is closed or the exchange goes away
func (h *Handler) pump(ctx context.Context, ex *http.Exchange, client *Client) error {
	connected := &Event{Event: "connected", Data: "client_id:" + client.ID}
	if _, err := ex.Write(connected.Format()); err != nil {
		return err
	}

	var tick <-chan time.Time
	if h.keepalive > 0 {
		ticker := time.NewTicker(h.keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.done:
			return nil
		case event := <-client.events:
			if _, err := ex.Write(event.Format()); err != nil {
				return err
			}
		case <-tick:
			if _, err := ex.Write(keepaliveFrame); err != nil {
				return err
			}
		}
	}
}
