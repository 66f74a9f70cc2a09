package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Tier != "A" {
		t.Errorf("default tier = %q, want A", cfg.App.Tier)
	}
	if cfg.App.BatchLimit != 10000 {
		t.Errorf("default batch limit = %d, want 10000", cfg.App.BatchLimit)
	}
	if cfg.Fetch.MaxConcurrent != 50 || cfg.Fetch.PerDomain != 3 {
		t.Errorf("fetch defaults = %d/%d, want 50/3", cfg.Fetch.MaxConcurrent, cfg.Fetch.PerDomain)
	}
	if cfg.Fetch.TimeoutSeconds != 30 {
		t.Errorf("fetch timeout = %d, want 30", cfg.Fetch.TimeoutSeconds)
	}
	if cfg.Extract.MinContentLength != 250 {
		t.Errorf("min content length = %d, want 250", cfg.Extract.MinContentLength)
	}
	if cfg.Dedupe.MinhashThreshold != 0.8 {
		t.Errorf("minhash threshold = %v, want 0.8", cfg.Dedupe.MinhashThreshold)
	}
	if cfg.Embedding.Dimension != 384 || cfg.Embedding.BatchSize != 64 {
		t.Errorf("embedding defaults = %d/%d, want 384/64", cfg.Embedding.Dimension, cfg.Embedding.BatchSize)
	}
	if cfg.Cluster.KNNK != 10 || cfg.Cluster.CosineThreshold != 0.65 {
		t.Errorf("cluster defaults = %d/%v, want 10/0.65", cfg.Cluster.KNNK, cfg.Cluster.CosineThreshold)
	}
	if cfg.Summarize.LocalWorkers != 8 {
		t.Errorf("local workers = %d, want 8", cfg.Summarize.LocalWorkers)
	}
	if cfg.Fetch.BrowserEnabled {
		t.Error("browser fallback must default off")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("PIPELINE_TIER", "C")
	t.Setenv("MAX_CONCURRENT_FETCHES", "10")
	t.Setenv("MINHASH_THRESHOLD", "0.9")
	t.Setenv("CLUSTER_KNN_K", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Tier != "C" {
		t.Errorf("tier = %q, want C", cfg.App.Tier)
	}
	if cfg.Fetch.MaxConcurrent != 10 {
		t.Errorf("max concurrent = %d, want 10", cfg.Fetch.MaxConcurrent)
	}
	if cfg.Dedupe.MinhashThreshold != 0.9 {
		t.Errorf("minhash threshold = %v, want 0.9", cfg.Dedupe.MinhashThreshold)
	}
	if cfg.Cluster.KNNK != 5 {
		t.Errorf("knn k = %d, want 5", cfg.Cluster.KNNK)
	}
}

func TestInvalidTierRejected(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("PIPELINE_TIER", "D")
	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid tier")
	}
}

func TestInvalidThresholdRejected(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("MINHASH_THRESHOLD", "1.5")
	if _, err := Load(""); err == nil {
		t.Error("expected error for out-of-range threshold")
	}
}
