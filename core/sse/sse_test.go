package sse

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/go-playground/assert.v1"

	"github.com/searchktools/fast-dispatch/core/http/httptest"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestFormatEvent - Test SSE event formatting
func TestFormatEvent(t *testing.T) {
	event := &Event{
		ID:    "123",
		Event: "message",
		Data:  "Hello,\nWorld!",
		Retry: 5000,
	}

	assert.Equal(t, string(event.Format()), "id: 123\nevent: message\nretry: 5000\ndata: Hello,\ndata: World!\n\n")
	assert.Equal(t, string((&Event{}).Format()), "\n")
}

// TestBrokerSubscribe - max clients and replacement by id
func TestBrokerSubscribe(t *testing.T) {
	b := NewBroker("t", 1, 4)

	first, err := b.Subscribe("a")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if _, err := b.Subscribe("b"); !errors.Is(err, ErrTooManyClients) {
		t.Errorf("Expected ErrTooManyClients, got %v", err)
	}

	second, err := b.Subscribe("a")
	if err != nil {
		t.Fatalf("Resubscribe error: %v", err)
	}
	assert.Equal(t, first.IsClosed(), true)
	assert.Equal(t, b.ClientCount(), 1)

	// unsubscribing the replaced client must not remove the new one
	b.Unsubscribe(first)
	assert.Equal(t, b.ClientCount(), 1)
	b.Unsubscribe(second)
	assert.Equal(t, b.ClientCount(), 0)
}

// TestBrokerPublish - delivery and drops
func TestBrokerPublish(t *testing.T) {
	b := NewBroker("ns", 10, 1)
	c, _ := b.Subscribe("a")

	ev := b.Publish("update", "one")
	assert.Equal(t, ev.ID, "ns-1")
	b.Publish("update", "two") // buffer of one is full

	got := <-c.events
	assert.Equal(t, got.Data, "one")

	stats := b.Stats()
	assert.Equal(t, stats.Published, uint64(2))
	assert.Equal(t, stats.Delivered, uint64(1))
	assert.Equal(t, stats.Dropped, uint64(1))

	if err := b.SendTo("nobody", "x", "y"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("Expected ErrUnknownClient, got %v", err)
	}
	if err := b.SendTo("a", "direct", "hi"); err != nil {
		t.Errorf("SendTo error: %v", err)
	}
}

// TestHandlerStreams - events reach the client as chunks until disconnect
func TestHandlerStreams(t *testing.T) {
	b := NewBroker("live", 10, 8)
	h := NewHandler(b, 0)

	c := httptest.NewConn("sse")
	ex := httptest.NewExchange(c, httptest.NewMessage("GET", "/events?client_id=a"), "/events", h, nil)
	if err := h.OnRequest(ex); err != nil {
		t.Fatalf("OnRequest error: %v", err)
	}
	assert.Equal(t, b.ClientCount(), 1)

	b.Publish("update", "hello")
	waitFor(t, func() bool { return strings.Contains(c.Output(), "data: hello") })

	out := c.Output()
	for _, want := range []string{"Transfer-Encoding: chunked", "Content-Type: text/event-stream", "event: connected"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}

	b.Disconnect("a")
	waitFor(t, func() bool { return strings.HasSuffix(c.Output(), "0\r\n\r\n") })
	assert.Equal(t, ex.IsFinished(), true)
	assert.Equal(t, b.ClientCount(), 0)
}

// TestHandlerFull - a full broker answers 503
func TestHandlerFull(t *testing.T) {
	b := NewBroker("live", 1, 8)
	b.Subscribe("taken")
	h := NewHandler(b, 0)

	c := httptest.NewConn("sse")
	ex := httptest.NewExchange(c, httptest.NewMessage("GET", "/events?client_id=b"), "/events", h, nil)
	h.OnRequest(ex)
	ex.Finish()

	res, _, err := c.Response()
	if err != nil {
		t.Fatalf("Response parse error: %v", err)
	}
	assert.Equal(t, res.StatusCode, 503)
}
