package http

import (
	"net"
	stdhttp "net/http"
	"net/url"
	"strings"
	"time"
)

// Request is the pooled, per-exchange view of an inbound message.
// All fields are reset in place on reuse; nothing is reallocated.
type Request struct {
	method     string
	uri        string
	path       string
	rawQuery   string
	proto      string
	handlerURI string
	remoteAddr net.Addr
	keepAlive  bool
	received   time.Time

	header stdhttp.Header
	query  url.Values
	attrs  map[string]any
	body   []byte
}

// NewRequest allocates an empty request. Used as a pool factory.
func NewRequest() *Request {
	return &Request{
		header: make(stdhttp.Header, 16),
		query:  make(url.Values, 4),
		attrs:  make(map[string]any, 4),
		body:   make([]byte, 0, 1024),
	}
}

// init copies msg into the request and binds it to the matched prefix.
func (r *Request) init(c Conn, msg *Message, handlerURI string) {
	r.reset()

	r.method = msg.Method
	r.uri = msg.Target
	r.path = msg.Path
	r.rawQuery = msg.RawQuery
	r.proto = msg.Proto
	r.handlerURI = handlerURI
	r.keepAlive = msg.KeepAlive
	r.received = msg.ReceivedAt
	if c != nil {
		r.remoteAddr = c.RemoteAddr()
	}

	for k, vv := range msg.Header {
		r.header[k] = append(r.header[k][:0], vv...)
	}
	parseQuery(r.query, msg.RawQuery)
	r.body = append(r.body[:0], msg.Body...)
}

// reset clears the request without freeing memory
func (r *Request) reset() {
	r.method = ""
	r.uri = ""
	r.path = ""
	r.rawQuery = ""
	r.proto = ""
	r.handlerURI = ""
	r.remoteAddr = nil
	r.keepAlive = false
	r.received = time.Time{}

	clear(r.header)
	clear(r.query)
	clear(r.attrs)
	r.body = r.body[:0]
}

func parseQuery(dst url.Values, raw string) {
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		dst[k] = append(dst[k], v)
	}
}

func (r *Request) Method() string { return r.method }

// URI returns the request-target as received.
func (r *Request) URI() string { return r.uri }

func (r *Request) Path() string { return r.path }

func (r *Request) RawQuery() string { return r.rawQuery }

func (r *Request) Proto() string { return r.proto }

// HandlerURI returns the router prefix that selected the handler.
func (r *Request) HandlerURI() string { return r.handlerURI }

// PathInfo returns the part of the path after the handler prefix.
func (r *Request) PathInfo() string {
	return strings.TrimPrefix(r.path, r.handlerURI)
}

func (r *Request) RemoteAddr() net.Addr { return r.remoteAddr }

func (r *Request) KeepAlive() bool { return r.keepAlive }

// ReceivedAt returns when the first byte of the message was decoded.
func (r *Request) ReceivedAt() time.Time { return r.received }

// Header returns the first value of the named header.
func (r *Request) Header(key string) string { return r.header.Get(key) }

// Headers exposes the full header set. It must not be retained.
func (r *Request) Headers() stdhttp.Header { return r.header }

// Query returns the first value of the named query parameter.
func (r *Request) Query(key string) string { return r.query.Get(key) }

// QueryValues returns all values of the named query parameter.
func (r *Request) QueryValues(key string) []string { return r.query[key] }

// Body returns the request body. It must not be retained past the exchange.
func (r *Request) Body() []byte { return r.body }

// Cookie returns the named cookie sent by the client.
func (r *Request) Cookie(name string) (*stdhttp.Cookie, bool) {
	for _, line := range r.header["Cookie"] {
		cookies, err := stdhttp.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == name {
				return c, true
			}
		}
	}
	return nil, false
}

// Attr returns a request-scoped attribute.
func (r *Request) Attr(key string) (any, bool) {
	v, ok := r.attrs[key]
	return v, ok
}

// SetAttr stores a request-scoped attribute.
func (r *Request) SetAttr(key string, v any) {
	r.attrs[key] = v
}
