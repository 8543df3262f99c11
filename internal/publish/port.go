// Package publish implements the outbound half of the publication
// protocol (spec.md §6): two logical fields per message, a topic and a
// {service, data} payload, POSTed to the external proxy as a single JSON
// document. Reusing the teacher's doHTTPReplicate shape — marshal, POST
// with a bounded context, treat any non-2xx as failure.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Frame is the wire shape posted to the proxy.
type Frame struct {
	Topic     string      `json:"topic"`
	Service   string      `json:"service"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
}

// Port posts publication frames to a configured proxy URL. A zero-value
// ProxyURL makes every Publish a documented no-op — useful for single-
// replica tests that do not run a proxy.
type Port struct {
	ProxyURL   string
	httpClient *http.Client
}

// New creates a Port targeting proxyURL. An empty proxyURL disables the
// port (spec.md treats the proxy as an external collaborator reachable
// only when configured).
func New(proxyURL string) *Port {
	return &Port{ProxyURL: proxyURL, httpClient: &http.Client{Timeout: 2 * time.Second}}
}

// Publish sends {topic, service, data} to the proxy. Failures are logged
// and swallowed — publishing is an observable side channel, never the
// path that decides whether a client request succeeded (spec.md §4.1/§7.2).
func (p *Port) Publish(topic, service string, data interface{}) {
	if p.ProxyURL == "" {
		return
	}
	frame := Frame{Topic: topic, Service: service, Data: data, RequestID: uuid.NewString()}
	body, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to encode publication frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ProxyURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to build publication request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("proxy unreachable, dropping publication")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("topic", topic).Msg("proxy rejected publication")
	}
}
