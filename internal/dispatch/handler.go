package dispatch

import (
	"fmt"
	"reflect"
)

var contextType = reflect.TypeOf((*Context)(nil))

// Handler wraps a user-supplied function of arity 0..16 (per §4.9)
// whose parameters are each either *Context or an Extractable type.
// Extraction runs in declared parameter order; the first failure
// short-circuits the call.
type Handler struct {
	fn     reflect.Value
	params []reflect.Type
}

// NewHandler validates fn's signature and wraps it. fn must be a
// func; every parameter must be *Context or a type whose zero value
// implements Extractable; the return value, if any, must be a
// combination of (string) and/or (error) — string is treated as a
// reply to send back through the bot, consistent with §4.9's "text ->
// reply via send".
func NewHandler(fn any) (*Handler, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("dispatch: handler must be a function, got %s", t.Kind())
	}
	if t.NumIn() > 16 {
		return nil, fmt.Errorf("dispatch: handler has %d parameters, max is 16", t.NumIn())
	}
	params := make([]reflect.Type, t.NumIn())
	for i := range params {
		p := t.In(i)
		params[i] = p
		if p == contextType {
			continue
		}
		if _, ok := newExtractable(p); !ok {
			return nil, fmt.Errorf("dispatch: handler parameter %d (%s) is neither *Context nor Extractable", i, p)
		}
	}
	for i := 0; i < t.NumOut(); i++ {
		out := t.Out(i)
		if out.Kind() != reflect.String && !out.Implements(errorType) {
			return nil, fmt.Errorf("dispatch: handler return %d (%s) must be string or error", i, out)
		}
	}
	return &Handler{fn: v, params: params}, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// run extracts every parameter and invokes fn. reply is the handler's
// string return value (empty if none); err is either an extraction
// failure (possibly ErrEventSkipped) or the handler's own error
// return.
func (h *Handler) run(ctx *Context) (reply string, err error) {
	args := make([]reflect.Value, len(h.params))
	for i, pt := range h.params {
		if pt == contextType {
			args[i] = reflect.ValueOf(ctx)
			continue
		}
		ex, _ := newExtractable(pt)
		v, extractErr := ex.Extract(ctx)
		if extractErr != nil {
			return "", extractErr
		}
		args[i] = reflect.ValueOf(v)
	}

	out := h.fn.Call(args)
	for _, o := range out {
		switch val := o.Interface().(type) {
		case string:
			reply = val
		case error:
			if val != nil {
				err = val
			}
		case nil:
			// a nil error return typed as the error interface
		}
	}
	return reply, err
}
