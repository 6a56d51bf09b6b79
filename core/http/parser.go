package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	stdhttp "net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxMessageSize bounds head plus body of one message.
const DefaultMaxMessageSize = 1 << 20

// lineBufferSize is also the longest accepted single line.
const lineBufferSize = 8192

// maxBlankLines is how many stray CRLFs may precede a request line.
const maxBlankLines = 4

// Decoder frames HTTP/1.x requests off a byte stream.
type Decoder struct {
	br      *bufio.Reader
	maxSize int
	onStart func()
}

// NewDecoder creates a decoder reading from r. A maxSize <= 0 disables the limit.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = math.MaxInt
	}
	return &Decoder{
		br:      bufio.NewReaderSize(r, lineBufferSize),
		maxSize: maxSize,
	}
}

// OnStart registers fn to run once the first byte of each message is available.
func (d *Decoder) OnStart(fn func()) {
	d.onStart = fn
}

// Decode reads the next message.
//
// io.EOF is returned when the peer closed cleanly between messages, ErrIdle
// when the read deadline expired before a message began. Truncation inside a
// message yields io.ErrUnexpectedEOF.
func (d *Decoder) Decode() (*Message, error) {
	if _, err := d.br.Peek(1); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: %w", ErrIdle, err)
		}
		return nil, err
	}
	if d.onStart != nil {
		d.onStart()
	}

	budget := d.maxSize
	msg := &Message{
		Header:     make(stdhttp.Header),
		ReceivedAt: time.Now(),
	}

	line, err := d.readLine(&budget)
	for blanks := 0; err == nil && len(line) == 0 && blanks < maxBlankLines; blanks++ {
		line, err = d.readLine(&budget)
	}
	if err != nil {
		return nil, err
	}
	if err := parseRequestLine(msg, line); err != nil {
		return nil, err
	}

	if err := d.readHeaders(msg, &budget); err != nil {
		return nil, err
	}

	if err := d.readBody(msg, &budget); err != nil {
		return nil, err
	}

	connection := msg.Header["Connection"]
	switch msg.Proto {
	case "HTTP/1.1":
		msg.KeepAlive = !httpguts.HeaderValuesContainsToken(connection, "close")
	default:
		msg.KeepAlive = httpguts.HeaderValuesContainsToken(connection, "keep-alive")
	}

	return msg, nil
}

// readLine returns one line without its terminator, charging it to budget.
func (d *Decoder) readLine(budget *int) (string, error) {
	line, err := d.br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrFrameTooLong, lineBufferSize)
		}
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	*budget -= len(line)
	if *budget < 0 {
		return "", ErrFrameTooLong
	}
	line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
	return string(line), nil
}

// parseRequestLine parses METHOD SP TARGET SP PROTO
func parseRequestLine(msg *Message, line string) error {
	sp1 := strings.IndexByte(line, ' ')
	if sp1 <= 0 {
		return malformed("request line %q", line)
	}
	sp2 := strings.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return malformed("request line %q", line)
	}
	sp2 += sp1 + 1

	msg.Method = line[:sp1]
	msg.Target = line[sp1+1 : sp2]
	msg.Proto = line[sp2+1:]

	if !httpguts.ValidHeaderFieldName(msg.Method) {
		return malformed("method %q", msg.Method)
	}
	if msg.Proto != "HTTP/1.1" && msg.Proto != "HTTP/1.0" {
		return malformed("protocol %q", msg.Proto)
	}

	switch {
	case msg.Target == "*":
		msg.Path = "*"
	case strings.HasPrefix(msg.Target, "/"):
		msg.Path, msg.RawQuery, _ = strings.Cut(msg.Target, "?")
	default:
		u, err := url.ParseRequestURI(msg.Target)
		if err != nil {
			return malformed("target %q", msg.Target)
		}
		msg.Path = u.EscapedPath()
		if msg.Path == "" {
			msg.Path = "/"
		}
		msg.RawQuery = u.RawQuery
	}
	return nil
}

func (d *Decoder) readHeaders(msg *Message, budget *int) error {
	for {
		line, err := d.readLine(budget)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return malformed("folded header line")
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok || !httpguts.ValidHeaderFieldName(key) {
			return malformed("header line %q", line)
		}
		value = textproto.TrimString(value)
		if !httpguts.ValidHeaderFieldValue(value) {
			return malformed("header value for %q", key)
		}
		msg.Header.Add(textproto.CanonicalMIMEHeaderKey(key), value)
	}
}

func (d *Decoder) readBody(msg *Message, budget *int) error {
	if te := msg.Header.Get("Transfer-Encoding"); te != "" {
		if !strings.EqualFold(te, "chunked") {
			return malformed("transfer-encoding %q", te)
		}
		body, err := io.ReadAll(io.LimitReader(httputil.NewChunkedReader(d.br), int64(*budget)+1))
		if err != nil {
			return chunkError(err)
		}
		if len(body) > *budget {
			return ErrFrameTooLong
		}
		*budget -= len(body)
		msg.Body = body

		// trailer section
		for {
			line, err := d.readLine(budget)
			if err != nil {
				return err
			}
			if line == "" {
				return nil
			}
		}
	}

	cl := msg.Header.Get("Content-Length")
	if cl == "" {
		return nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n < 0 {
		return malformed("content-length %q", cl)
	}
	if n > int64(*budget) {
		return ErrFrameTooLong
	}
	if n == 0 {
		return nil
	}
	msg.Body = make([]byte, n)
	if _, err := io.ReadFull(d.br, msg.Body); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	*budget -= int(n)
	return nil
}

func chunkError(err error) error {
	var ne net.Error
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &ne) {
		return err
	}
	return malformed("chunked body: %v", err)
}
