package http

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Error definitions
var (
	// ErrAlreadyFinished is returned by a second Finish on the same exchange,
	// and by any lifecycle call made through a handle whose exchange has
	// already been recycled.
	ErrAlreadyFinished = errors.New("http: response already finished")
	// ErrInvalidState is returned when writing to a response that is finishing or finished.
	ErrInvalidState = errors.New("http: response is not writable")
	// ErrServerTooBusy marks a request or connection rejected for lack of capacity.
	ErrServerTooBusy = errors.New("http: server too busy")
	// ErrFrameTooLong is returned by the decoder when a message exceeds the size limit.
	ErrFrameTooLong = errors.New("http: message too long")
	// ErrMalformed is returned by the decoder for unparsable input.
	ErrMalformed = errors.New("http: malformed request")
	// ErrIdle is returned by the decoder when the idle deadline passes before
	// the first byte of a message arrives.
	ErrIdle = errors.New("http: connection idle")
	// ErrConnClosed is returned when writing to a closed connection.
	ErrConnClosed = errors.New("http: connection closed")
	// ErrExecutorClosed is returned by Exchange.Go after the executor shut down.
	ErrExecutorClosed = errors.New("http: executor closed")
)

// HandlerPanicError carries a panic recovered from a handler or renderer.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover runs fn and converts a panic into a *HandlerPanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}
