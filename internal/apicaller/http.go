package apicaller

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alloyrt/alloy/internal/conn"
)

// httpEnvelope omits the echo field: the HTTP response body itself
// is the API response per the synchronous-caller contract.
type httpEnvelope struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// HTTPCaller is the synchronous caller for HTTP-server and
// HTTP-client connections: one POST per call, the response body is
// the result.
type HTTPCaller struct {
	handle *conn.Handle
}

// NewHTTPCaller builds a caller that posts through handle's CallAPI.
func NewHTTPCaller(handle *conn.Handle) *HTTPCaller {
	return &HTTPCaller{handle: handle}
}

func (c *HTTPCaller) Call(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(httpEnvelope{Action: action, Params: params})
	if err != nil {
		return nil, serialization(err)
	}

	resp, err := c.handle.CallAPI(ctx, body)
	if err != nil {
		switch {
		case errors.Is(err, conn.ErrNotSupported):
			return nil, missingSession()
		case errors.Is(err, conn.ErrClosed):
			return nil, notConnected()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, timeoutErr()
		default:
			return nil, transportIO(err)
		}
	}

	var probe struct {
		Retcode int64  `json:"retcode"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp, &probe); err == nil {
		if probe.Status == "failed" || probe.Retcode != 0 {
			return nil, protocolError(probe.Retcode, probe.Message)
		}
	}
	return resp, nil
}
