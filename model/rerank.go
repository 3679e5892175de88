package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CrossEncoderClient scores (query, document) pairs against an external
// cross-encoder service. The service takes the query plus the candidate
// documents and returns one relevance score per document, in input order.
type CrossEncoderClient struct {
	client *http.Client
	url    string
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func NewCrossEncoderClient(url string, timeout time.Duration) *CrossEncoderClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CrossEncoderClient{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

func (c *CrossEncoderClient) ScoreAll(ctx context.Context, query string, documents []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(rr.Scores) != len(documents) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(rr.Scores), len(documents))
	}
	return rr.Scores, nil
}
