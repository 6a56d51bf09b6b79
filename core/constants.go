package core

import (
	"io"
	"strconv"

	"github.com/searchktools/fast-dispatch/core/http"
)

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
)

// Bodies of synthetic responses written outside any exchange
const (
	msgServerTooBusy = "503 Service Unavailable - Server Too Busy"
	msgPoolExhausted = "Maximum concurrent connections reached"
	msgBadRequest    = "400 Bad Request"
	msgInternalError = "500 Internal Server Error"
)

// writeError writes a complete, connection-closing response straight to w
func writeError(w io.Writer, code int, message string) error {
	b := make([]byte, 0, 128+len(message))
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, http.StatusText(code)...)
	b = append(b, "\r\n"+HeaderContentType+": text/plain; charset=utf-8\r\n"...)
	b = append(b, HeaderContentLength+": "...)
	b = strconv.AppendInt(b, int64(len(message)), 10)
	b = append(b, "\r\n"+HeaderConnection+": close\r\n\r\n"...)
	b = append(b, message...)
	_, err := w.Write(b)
	return err
}

// connWriter adapts http.Conn to io.Writer
type connWriter struct{ c http.Conn }

func (w connWriter) Write(p []byte) (int, error) {
	if err := w.c.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
