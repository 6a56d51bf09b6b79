package http

import (
	stdhttp "net/http"
	"time"
)

// Message is one fully decoded inbound request as produced by the Decoder.
// It belongs to the transport; the dispatcher copies what it needs into a
// pooled Request.
type Message struct {
	Method   string
	Target   string // request-target as received
	Path     string
	RawQuery string
	Proto    string
	Header   stdhttp.Header
	Body     []byte

	KeepAlive bool
	// Unauthorized is set upstream of dispatch by an authentication hook.
	Unauthorized bool

	ReceivedAt time.Time
}

// Authorizer decides whether a message may reach its handler.
type Authorizer func(msg *Message) bool
