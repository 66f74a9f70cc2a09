// Package inference talks to the external model-serving service that
// hosts the NER tagger, the title translation models, and the sentence
// embedder. All heavy models run out of process; this client is thin.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrModelUnavailable is returned when the service has no model for the
// requested task/language pair. Callers degrade gracefully.
var ErrModelUnavailable = errors.New("inference: model unavailable")

// Client talks to the model-serving HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient creates a reusable HTTP client. An empty endpoint yields a
// disabled client whose calls return ErrModelUnavailable.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.endpoint != "" }

// NERSpan is one raw entity span from the tagger.
type NERSpan struct {
	Label string  `json:"label"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// NERResponse is the tagger output for one document.
type NERResponse struct {
	Spans []NERSpan `json:"spans"`
	Model string    `json:"model"`
}

// ExtractEntities tags named entities in text with the given model.
func (c *Client) ExtractEntities(ctx context.Context, text, model string) (*NERResponse, error) {
	if !c.Enabled() {
		return nil, ErrModelUnavailable
	}
	payload := map[string]any{"text": text, "model": model}
	var resp NERResponse
	if err := c.post(ctx, "/ner", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Translate translates text between two ISO-639 languages.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if !c.Enabled() {
		return "", ErrModelUnavailable
	}
	payload := map[string]any{
		"text":   text,
		"source": sourceLang,
		"target": targetLang,
	}
	var resp struct {
		Translation string `json:"translation"`
	}
	if err := c.post(ctx, "/translate", payload, &resp); err != nil {
		return "", err
	}
	if resp.Translation == "" {
		return "", ErrModelUnavailable
	}
	return resp.Translation, nil
}

// Embed encodes texts into dense vectors with the given model.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	if !c.Enabled() {
		return nil, ErrModelUnavailable
	}
	payload := map[string]any{"texts": texts, "model": model}
	var resp struct {
		Vectors [][]float64 `json:"vectors"`
	}
	if err := c.post(ctx, "/embed", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("inference: got %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotImplemented {
		return ErrModelUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
