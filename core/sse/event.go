package sse

import (
	"strconv"
	"strings"
)

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// Format renders the event in text/event-stream framing. Multi-line data
// becomes one data field per line.
func (e *Event) Format() []byte {
	buf := make([]byte, 0, 32+len(e.Data))

	if e.ID != "" {
		buf = append(buf, "id: "...)
		buf = append(buf, e.ID...)
		buf = append(buf, '\n')
	}
	if e.Event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, e.Event...)
		buf = append(buf, '\n')
	}
	if e.Retry > 0 {
		buf = append(buf, "retry: "...)
		buf = strconv.AppendInt(buf, int64(e.Retry), 10)
		buf = append(buf, '\n')
	}
	if e.Data != "" {
		for line := range strings.SplitSeq(e.Data, "\n") {
			buf = append(buf, "data: "...)
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
	}

	buf = append(buf, '\n')
	return buf
}

// keepaliveFrame is a comment line; clients ignore it
var keepaliveFrame = []byte(": keepalive\n\n")
