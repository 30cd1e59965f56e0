// Package apicaller implements the per-bot API request/response
// correlator: an echo-matched caller for duplex (WebSocket)
// connections and a synchronous caller for HTTP.
package apicaller

import (
	"context"
	"encoding/json"
	"fmt"
)

// ErrorKind classifies API call failures per the protocol's error
// taxonomy, independent of the transport that produced them.
type ErrorKind int

const (
	KindNotConnected ErrorKind = iota
	KindTimeout
	KindProtocolError
	KindSerialization
	KindTransportIO
	KindMissingSession
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindTimeout:
		return "timeout"
	case KindProtocolError:
		return "protocol_error"
	case KindSerialization:
		return "serialization"
	case KindTransportIO:
		return "transport_io"
	case KindMissingSession:
		return "missing_session"
	default:
		return "unknown"
	}
}

// CallError is the error type returned by Caller.Call.
type CallError struct {
	Kind    ErrorKind
	Retcode int64
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("apicaller: %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("apicaller: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("apicaller: %s", e.Kind)
}

func (e *CallError) Unwrap() error { return e.Err }

func notConnected() error    { return &CallError{Kind: KindNotConnected} }
func timeoutErr() error      { return &CallError{Kind: KindTimeout} }
func missingSession() error  { return &CallError{Kind: KindMissingSession} }
func transportIO(err error) error {
	return &CallError{Kind: KindTransportIO, Err: err}
}
func serialization(err error) error {
	return &CallError{Kind: KindSerialization, Err: err}
}
func protocolError(retcode int64, message string) error {
	return &CallError{Kind: KindProtocolError, Retcode: retcode, Message: message}
}

// Caller is the common interface exposed to the dispatcher and to
// handler-facing bot wrappers: fire an action with JSON params and
// get back the raw JSON response (or error) for the matching echo.
type Caller interface {
	Call(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error)
}

// envelope is the outbound API request shape.
type envelope struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   string          `json:"echo"`
}

// inboundResponse is the subset of an inbound API response the
// caller inspects to resolve the pending call; all other fields are
// passed through to the waiter verbatim via Raw.
type inboundResponse struct {
	Echo    string          `json:"echo"`
	Status  string          `json:"status"`
	Retcode int64           `json:"retcode"`
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"-"`
}

// EchoField reports whether raw carries a non-empty "echo" field,
// which per the wire contract means it is an API response rather
// than an inbound event and should be routed to Resolve instead of
// the event parser.
func EchoField(raw []byte) (echo string, ok bool) {
	var probe struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	return probe.Echo, probe.Echo != ""
}
