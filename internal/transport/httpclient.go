package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alloyrt/alloy/internal/capability"
	"github.com/alloyrt/alloy/internal/conn"
	"github.com/alloyrt/alloy/internal/httpkit"
)

// httpClientTimeout is the total request timeout for the HTTP API caller's client, per §5.
const httpClientTimeout = 30 * time.Second

// httpClientRetryAttempts/httpClientRetryBackoff tolerate the bot
// process restarting mid-deploy without failing the in-flight call.
const (
	httpClientRetryAttempts = 2
	httpClientRetryBackoff  = 500 * time.Millisecond
)

func init() {
	capability.RegisterHTTPStartClient(httpStartClient)
}

// httpStartClient implements capability.HTTPStartClientFunc (C4): a
// pure outbound pseudo-connection whose "send" is a POST to api_url.
// It never receives events.
func httpStartClient(ctx context.Context, cfg capability.HTTPClientConfig, handler conn.Handler) (*conn.Handle, error) {
	client := httpkit.NewClient(
		httpkit.WithTimeout(httpClientTimeout),
		httpkit.WithRetry(httpClientRetryAttempts, httpClientRetryBackoff),
	)

	h := conn.NewHandle(cfg.BotID, conn.KindHTTPClient, nil, func(ctx context.Context, body []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("http-client: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http-client: request: %w", err)
		}
		defer httpkit.DrainAndClose(resp.Body, 1024)

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("http-client: read response: %w", err)
		}
		return data, nil
	})

	handler.CreateBot(cfg.BotID, h)
	return h, nil
}
