package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/core/http"
)

// ZapRequestLogger writes access and error records as structured zap entries.
type ZapRequestLogger struct {
	access *zap.Logger
	errors *zap.Logger
}

// NewZapRequestLogger derives "access" and "error" loggers from base.
func NewZapRequestLogger(base *zap.Logger) *ZapRequestLogger {
	return &ZapRequestLogger{
		access: base.Named("access"),
		errors: base.Named("error"),
	}
}

func exchangeFields(ex *http.Exchange) []zap.Field {
	req := ex.Request()
	fields := []zap.Field{
		zap.String("method", req.Method()),
		zap.String("path", req.Path()),
		zap.String("handler", req.HandlerURI()),
		zap.Int("status", ex.Status()),
		zap.Int64("bytes", ex.Written()),
	}
	if c := ex.Conn(); c != nil {
		fields = append(fields, zap.String("conn", c.ID()))
	}
	return fields
}

func (l *ZapRequestLogger) Access(ex *http.Exchange, elapsed time.Duration) {
	l.access.Info("request", append(exchangeFields(ex), zap.Float64("duration_ms", float64(elapsed)/float64(time.Millisecond)))...)
}

func (l *ZapRequestLogger) Error(ex *http.Exchange, err error) {
	l.errors.Error("request failed", append(exchangeFields(ex), zap.Error(err))...)
}

// ConsoleRequestLogger prints one colour-coded line per request.
type ConsoleRequestLogger struct {
	log *log.Logger
}

// NewConsoleRequestLogger writes to w, or stdout when w is nil.
func NewConsoleRequestLogger(w io.Writer) *ConsoleRequestLogger {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleRequestLogger{log: log.New(w, "", log.LstdFlags)}
}

func (l *ConsoleRequestLogger) Access(ex *http.Exchange, elapsed time.Duration) {
	req := ex.Request()
	status := ex.Status()
	line := fmt.Sprintf("%s %s %d %s", req.Method(), req.URI(), status, elapsed.Round(time.Microsecond))
	l.log.Print(statusColor(status).Sprint(line))
}

func (l *ConsoleRequestLogger) Error(ex *http.Exchange, err error) {
	req := ex.Request()
	l.log.Print(color.New(color.FgRed, color.Bold).Sprintf("%s %s failed: %v", req.Method(), req.URI(), err))
}

func statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return color.New(color.FgRed, color.Bold)
	case status >= 400:
		return color.New(color.FgRed)
	case status >= 300:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}

// Multi fans records out to several loggers.
type Multi []http.RequestLogger

func (m Multi) Access(ex *http.Exchange, elapsed time.Duration) {
	for _, l := range m {
		l.Access(ex, elapsed)
	}
}

func (m Multi) Error(ex *http.Exchange, err error) {
	for _, l := range m {
		l.Error(ex, err)
	}
}

// ForName returns the request logger selected by configuration.
func ForName(name string, base *zap.Logger) (http.RequestLogger, error) {
	switch name {
	case "", "none":
		return http.NullRequestLogger{}, nil
	case "zap":
		return NewZapRequestLogger(base), nil
	case "console":
		return NewConsoleRequestLogger(nil), nil
	default:
		return nil, fmt.Errorf("logging: unknown access log %q", name)
	}
}
