// Package metrics writes scalar measurements to an InfluxDB endpoint using
// the v1 line protocol. Writes are fire-and-forget: failures are logged and
// never propagated to the caller.
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultURL targets a local unauthenticated InfluxDB instance.
const DefaultURL = "http://localhost:8086/write?db=myt"

// Sink posts measurements to a single InfluxDB write endpoint.
type Sink struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewSink returns a Sink for the given write URL. An empty url selects
// DefaultURL.
func NewSink(url string, logger *zap.Logger) *Sink {
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{url: url, client: &http.Client{}, log: logger}
}

// Write posts one measurement. Callers invoke it once per derived scalar,
// only when the fetch's freshness flag was true and the metrics feature is
// enabled.
func (s *Sink) Write(ctx context.Context, measurement string, value interface{}) {
	payload := fmt.Sprintf("%s value=%v", measurement, value)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(payload))
	if err != nil {
		s.log.Warn("metrics write skipped", zap.String("measurement", measurement), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("metrics write failed", zap.String("measurement", measurement), zap.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		s.log.Warn("metrics write rejected", zap.String("measurement", measurement), zap.Int("status", resp.StatusCode))
	}
}
