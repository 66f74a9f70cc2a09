package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func samplePayloads() []Payload {
	return []Payload{
		{
			FlashpointID: "7d9f1f3e-0000-0000-0000-000000000001",
			ClusterID:    1,
			Summary:      "Escalation reported along the contested border.",
			ArticleCount: 12,
			HotspotScore: 0.82,
			TopDomains:   []string{"example.com", "news.example.org"},
		},
		{
			FlashpointID: "7d9f1f3e-0000-0000-0000-000000000002",
			ClusterID:    3,
			Summary:      "Aid corridors re-opened after negotiations.",
			ArticleCount: 5,
			HotspotScore: 0.61,
		},
	}
}

func TestWebhookDispatcherPostsOneDocument(t *testing.T) {
	var received map[string]any
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL)
	if err := d.Dispatch(context.Background(), "run_x", samplePayloads()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("webhook called %d times, want 1", calls)
	}
	if received["type"] != "hotspot_alert" || received["run_id"] != "run_x" {
		t.Errorf("envelope = %v", received)
	}
	clusters, ok := received["clusters"].([]any)
	if !ok || len(clusters) != 2 {
		t.Errorf("clusters = %v", received["clusters"])
	}
}

func TestWebhookDispatcherSkipsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty flag set")
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL)
	if err := d.Dispatch(context.Background(), "run_x", nil); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
}

func TestWebhookDispatcherErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL)
	if err := d.Dispatch(context.Background(), "run_x", samplePayloads()); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestSlackDispatcherPostsPerCluster(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var msg map[string]any
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if _, ok := msg["blocks"]; !ok {
			t.Error("slack message missing blocks")
		}
	}))
	defer server.Close()

	d := NewSlackDispatcher(server.URL)
	if err := d.Dispatch(context.Background(), "run_x", samplePayloads()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("slack called %d times, want one per cluster", calls)
	}
}

func TestMultiDispatcherAttemptsAll(t *testing.T) {
	okCalls := 0
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls++
	}))
	defer okServer.Close()
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()

	multi := MultiDispatcher{
		NewWebhookDispatcher(badServer.URL),
		NewWebhookDispatcher(okServer.URL),
	}
	err := multi.Dispatch(context.Background(), "run_x", samplePayloads())
	if err == nil {
		t.Error("expected first transport's error to surface")
	}
	if okCalls != 1 {
		t.Error("second transport must still be attempted")
	}
}
