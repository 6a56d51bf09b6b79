package http

import (
	"fmt"
	"strconv"

	"github.com/searchktools/fast-dispatch/core/codec"
)

// DefaultErrorRenderer writes a short plain-text explanation.
type DefaultErrorRenderer struct{}

func (DefaultErrorRenderer) OnError(ex *Exchange, cause error) error {
	ex.SetContentType("text/plain; charset=utf-8")
	_, err := ex.WriteString(errorText(ex.Status(), cause))
	return err
}

func errorText(status int, cause error) string {
	if cause != nil {
		return fmt.Sprintf("%v was raised while processing this request.  See logs for more details.", cause)
	}
	return "Request could not be processed.  Status code: " + strconv.Itoa(status)
}

// CodecErrorRenderer encodes the error as a structured document in the
// format the client's Accept header asks for.
type CodecErrorRenderer struct{}

func (CodecErrorRenderer) OnError(ex *Exchange, cause error) error {
	status := ex.Status()
	doc := map[string]any{
		"status": status,
		"error":  StatusText(status),
		"path":   ex.Request().Path(),
	}
	if cause != nil {
		doc["message"] = cause.Error()
	}

	c := codec.ForAccept(ex.Request().Header("Accept"))
	data, err := c.Encode(doc)
	if err != nil {
		return err
	}
	ex.SetContentType(c.ContentType())
	_, err = ex.Write(data)
	return err
}

// RenderError runs the renderer, recovering a panic into an error. When the
// renderer fails, a fallback text naming both failures is written instead.
func RenderError(r ErrorRenderer, ex *Exchange, cause error) error {
	if r == nil {
		r = DefaultErrorRenderer{}
	}
	err := Recover(func() error { return r.OnError(ex, cause) })
	if err == nil {
		return nil
	}

	ex.SetContentType("text/plain; charset=utf-8")
	if cause != nil {
		ex.WriteString(fmt.Sprintf("%v was raised while processing this request.  Additionally, %v was raised while handling this exception.", cause, err))
	} else {
		ex.WriteString(fmt.Sprintf("Request could not be processed.  Status code: %d.  Additionally, %v was raised while rendering the error.", ex.Status(), err))
	}
	return err
}
