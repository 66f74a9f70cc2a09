// Package alerts dispatches flagged hotspot clusters to external
// transports. The dispatcher is a plug-in surface: the pipeline hands
// over opaque payloads and the transport formats them.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"flashpipe/internal/logger"
)

// Payload is the alert data for one flagged cluster.
type Payload struct {
	FlashpointID string   `json:"flashpoint_id"`
	ClusterID    int      `json:"cluster_id"`
	Summary      string   `json:"summary"`
	ArticleCount int      `json:"article_count"`
	HotspotScore float64  `json:"hotspot_score"`
	TopDomains   []string `json:"top_domains"`
}

// Dispatcher delivers flagged clusters for a run.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string, flagged []Payload) error
}

// NopDispatcher drops alerts; used when no transport is configured.
type NopDispatcher struct{}

// Dispatch implements Dispatcher.
func (NopDispatcher) Dispatch(ctx context.Context, runID string, flagged []Payload) error {
	if len(flagged) > 0 {
		logger.Info("alerts suppressed (no transport configured)", "run_id", runID, "count", len(flagged))
	}
	return nil
}

const dispatchTimeout = 10 * time.Second

// WebhookDispatcher POSTs one JSON document per run to a webhook.
type WebhookDispatcher struct {
	URL  string
	http *http.Client
}

// NewWebhookDispatcher creates a webhook transport.
func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		URL:  url,
		http: &http.Client{Timeout: dispatchTimeout},
	}
}

// Dispatch implements Dispatcher.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, runID string, flagged []Payload) error {
	if len(flagged) == 0 {
		return nil
	}
	body := map[string]any{
		"type":     "hotspot_alert",
		"run_id":   runID,
		"clusters": flagged,
	}
	if err := postJSON(ctx, d.http, d.URL, body); err != nil {
		return fmt.Errorf("webhook dispatch: %w", err)
	}
	logger.Info("webhook alert sent", "run_id", runID, "clusters", len(flagged))
	return nil
}

// SlackDispatcher formats flagged clusters as Slack blocks and posts
// them to an incoming webhook.
type SlackDispatcher struct {
	WebhookURL string
	http       *http.Client
}

// NewSlackDispatcher creates a Slack transport.
func NewSlackDispatcher(webhookURL string) *SlackDispatcher {
	return &SlackDispatcher{
		WebhookURL: webhookURL,
		http:       &http.Client{Timeout: dispatchTimeout},
	}
}

// Dispatch implements Dispatcher.
func (d *SlackDispatcher) Dispatch(ctx context.Context, runID string, flagged []Payload) error {
	for _, p := range flagged {
		summary := p.Summary
		if len(summary) > 500 {
			summary = summary[:500]
		}
		message := map[string]any{
			"blocks": []map[string]any{
				{
					"type": "header",
					"text": map[string]any{
						"type": "plain_text",
						"text": fmt.Sprintf("Hotspot alert: cluster #%d", p.ClusterID),
					},
				},
				{
					"type": "section",
					"fields": []map[string]any{
						{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.2f", p.HotspotScore)},
						{"type": "mrkdwn", "text": fmt.Sprintf("*Articles:* %d", p.ArticleCount)},
						{"type": "mrkdwn", "text": fmt.Sprintf("*Flashpoint:* %s", p.FlashpointID)},
					},
				},
				{
					"type": "section",
					"text": map[string]any{
						"type": "mrkdwn",
						"text": "*Summary:*\n" + summary,
					},
				},
			},
		}
		if err := postJSON(ctx, d.http, d.WebhookURL, message); err != nil {
			return fmt.Errorf("slack dispatch cluster %d: %w", p.ClusterID, err)
		}
	}
	logger.Info("slack alerts sent", "run_id", runID, "clusters", len(flagged))
	return nil
}

// MultiDispatcher fans out to several transports; the first error wins
// but all transports are attempted.
type MultiDispatcher []Dispatcher

// Dispatch implements Dispatcher.
func (m MultiDispatcher) Dispatch(ctx context.Context, runID string, flagged []Payload) error {
	var firstErr error
	for _, d := range m {
		if err := d.Dispatch(ctx, runID, flagged); err != nil {
			logger.Error("alert transport failed", err, "run_id", runID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
