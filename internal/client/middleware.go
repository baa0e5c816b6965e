package client

import (
	"log/slog"
	"net/http"
	"time"
)

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 2 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithLogger logs every HTTP round trip with its timing. Slow requests are
// logged at WARN, failures at ERROR and everything else at DEBUG.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient.Transport = &loggingTransport{next: base, logger: logger}
	}
}

type loggingTransport struct {
	next   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	attrs := []any{
		"method", req.Method,
		"url", req.URL.Redacted(),
		"duration_ms", duration.Milliseconds(),
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, "request_bytes", req.ContentLength)
	}

	switch {
	case err != nil:
		attrs = append(attrs, "error", err.Error())
		t.logger.Error("request failed", attrs...)
	case resp.StatusCode >= http.StatusBadRequest:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Warn("request rejected", attrs...)
	case duration > slowRequestThreshold:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Warn("slow request", attrs...)
	default:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Debug("request completed", attrs...)
	}
	return resp, err
}
