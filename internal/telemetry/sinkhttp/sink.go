// Package sinkhttp posts batched telemetry to the collector's HTTP
// endpoints.
package sinkhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vroomapp/vroom/services/feed-engine/internal/domain"
	"github.com/vroomapp/vroom/services/feed-engine/internal/telemetry"
)

type Sink struct {
	base      string
	authToken string
	client    *http.Client
}

type Option func(*Sink)

func WithAuthToken(token string) Option {
	return func(s *Sink) { s.authToken = token }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

func New(baseURL string, opts ...Option) *Sink {
	s := &Sink{
		base:   baseURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) SendImpressions(ctx context.Context, imps []domain.Impression) error {
	return s.post(ctx, "/v1/impressions", map[string]any{"impressions": imps})
}

func (s *Sink) SendEngagements(ctx context.Context, sigs []domain.EngagementSignal) error {
	return s.post(ctx, "/v1/engagements", map[string]any{"engagements": sigs})
}

func (s *Sink) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", telemetry.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", telemetry.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.ErrNetwork(err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Schema rejection and friends: retrying will not help.
		return fmt.Errorf("%w: status %d", telemetry.ErrPermanent, resp.StatusCode)
	default:
		return domain.ErrNetwork(fmt.Sprintf("sink returned status %d", resp.StatusCode))
	}
}
