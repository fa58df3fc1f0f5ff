// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package recommend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// HTTPModel calls an external scoring service over HTTP. The service
// receives a Request as JSON and answers with a Candidate array.
type HTTPModel struct {
	url    string
	client *http.Client
}

// NewHTTPModel creates a model client for the given endpoint. A nil
// client falls back to http.DefaultClient; the scorer applies its own
// per-call timeout through the context.
func NewHTTPModel(url string, client *http.Client) (*HTTPModel, error) {
	if url == "" {
		return nil, fmt.Errorf("model url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPModel{url: url, client: client}, nil
}

// Score posts the scoring request and decodes the candidate list.
func (m *HTTPModel) Score(ctx context.Context, req *Request) ([]Candidate, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal scoring request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call scoring service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for error context.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, snippet)
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	return candidates, nil
}
