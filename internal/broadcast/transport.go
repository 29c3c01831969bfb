package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	nexuserrors "nexus/internal/errors"
	"nexus/internal/httpclient"
	"nexus/internal/logging"
)

const errorBodyLimit = 64 * 1024

// StreamClient opens one multiplexed response stream per broadcast request.
type StreamClient interface {
	// Open issues the outbound request and returns the raw response body.
	// The caller owns the body and must close it.
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// HTTPStreamClient posts broadcast requests to the streaming endpoint over
// HTTP and hands the SSE body back for parsing.
type HTTPStreamClient struct {
	endpoint   string
	httpClient *http.Client
	logger     logging.Logger
}

// NewHTTPStreamClient builds a stream client for the given endpoint URL.
// A zero timeout disables the client-side deadline so long-lived streams are
// not cut off; the transport's own connection handling still applies.
func NewHTTPStreamClient(endpoint string, timeout time.Duration, logger logging.Logger) *HTTPStreamClient {
	logger = logging.OrNop(logger)
	client := httpclient.New(timeout, logger)
	if timeout <= 0 {
		client.Timeout = 0
	}
	return &HTTPStreamClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: client,
		logger:     logger,
	}
}

func (c *HTTPStreamClient) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("Opening broadcast stream: POST %s broadcast=%s panels=%d",
		c.endpoint, req.BroadcastID, len(req.Panels))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open broadcast stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := httpclient.ReadAllWithLimit(resp.Body, errorBodyLimit)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		c.logger.Debug("Broadcast stream rejected: status=%d body=%s", resp.StatusCode, respBody)
		return nil, nexuserrors.FromHTTPStatus(resp.StatusCode, respBody)
	}

	return resp.Body, nil
}
