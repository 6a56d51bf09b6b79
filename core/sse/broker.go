package sse

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	// ErrTooManyClients is returned by Subscribe when the broker is full
	ErrTooManyClients = errors.New("sse: max clients reached")
	// ErrUnknownClient is returned by SendTo for an id with no subscriber
	ErrUnknownClient = errors.New("sse: client not found")
)

// Client is one subscriber. Events that do not fit its buffer are dropped.
type Client struct {
	ID        string
	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		events: make(chan *Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Close ends the client's stream
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send queues an event without blocking
func (c *Client) Send(event *Event) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

// Broker fans published events out to subscribed clients
type Broker struct {
	namespace  string
	maxClients int
	bufferSize int

	mu      sync.RWMutex
	clients map[string]*Client

	eventID atomic.Uint64
	stats   struct {
		subscribed atomic.Uint64
		published  atomic.Uint64
		delivered  atomic.Uint64
		dropped    atomic.Uint64
	}
}

// NewBroker creates a broker. Event ids are namespace-N.
func NewBroker(namespace string, maxClients, bufferSize int) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Broker{
		namespace:  namespace,
		maxClients: maxClients,
		bufferSize: bufferSize,
		clients:    make(map[string]*Client),
	}
}

// Subscribe registers a client under id, replacing and closing any
// previous client with the same id
func (b *Broker) Subscribe(id string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, exists := b.clients[id]
	if !exists && len(b.clients) >= b.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, b.maxClients)
	}
	if exists {
		prev.Close()
	}

	c := newClient(id, b.bufferSize)
	b.clients[id] = c
	b.stats.subscribed.Add(1)
	return c, nil
}

// Unsubscribe removes and closes c
func (b *Broker) Unsubscribe(c *Client) {
	b.mu.Lock()
	if b.clients[c.ID] == c {
		delete(b.clients, c.ID)
	}
	b.mu.Unlock()
	c.Close()
}

// Disconnect closes the client registered under id
func (b *Broker) Disconnect(id string) bool {
	b.mu.RLock()
	c, ok := b.clients[id]
	b.mu.RUnlock()
	if ok {
		b.Unsubscribe(c)
	}
	return ok
}

func (b *Broker) newEvent(eventType, data string) *Event {
	id := b.eventID.Add(1)
	return &Event{
		ID:    b.namespace + "-" + strconv.FormatUint(id, 10),
		Event: eventType,
		Data:  data,
	}
}

// Publish sends an event to every client
func (b *Broker) Publish(eventType, data string) *Event {
	event := b.newEvent(eventType, data)
	b.stats.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		b.deliver(c, event)
	}
	return event
}

// SendTo sends an event to one client
func (b *Broker) SendTo(clientID, eventType, data string) error {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}

	b.stats.published.Add(1)
	b.deliver(c, b.newEvent(eventType, data))
	return nil
}

func (b *Broker) deliver(c *Client, event *Event) {
	if c.Send(event) {
		b.stats.delivered.Add(1)
	} else {
		b.stats.dropped.Add(1)
	}
}

// ClientCount returns the number of subscribed clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stats returns broker statistics
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Namespace:  b.namespace,
		Clients:    b.ClientCount(),
		Subscribed: b.stats.subscribed.Load(),
		Published:  b.stats.published.Load(),
		Delivered:  b.stats.delivered.Load(),
		Dropped:    b.stats.dropped.Load(),
	}
}

// BrokerStats contains broker statistics
type BrokerStats struct {
	Namespace  string `json:"namespace"`
	Clients    int    `json:"clients"`
	Subscribed uint64 `json:"subscribed"`
	Published  uint64 `json:"published"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
}
