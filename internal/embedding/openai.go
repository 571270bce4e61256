package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// OpenAIClient is an OpenAI-compatible embeddings client.
//
// The vector length is learned lazily: the first successful call fixes
// Dimensions to the length the endpoint actually returned.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	dims    atomic.Int64
}

func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-ada-002"
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *OpenAIClient) Dimensions() int { return int(c.dims.Load()) }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, errors.New("embedding: api key is required")
	}

	body, err := json.Marshal(map[string]any{
		"input": text,
		"model": c.model,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding: %s", resp.Status)
	}

	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding: empty response")
	}

	v := decoded.Data[0].Embedding
	c.dims.CompareAndSwap(0, int64(len(v)))
	return v, nil
}
