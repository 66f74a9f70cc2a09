package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flashpipe/internal/inference"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float64{3, 4})
	norm := math.Sqrt(v[0]*v[0] + v[1]*v[1])
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", norm)
	}

	zero := Normalize([]float64{0, 0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Error("zero vector must pass through unchanged")
		}
	}
}

func TestEmbedBatchNormalizesAndBatches(t *testing.T) {
	const dim = 4
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		batchSizes = append(batchSizes, len(req.Texts))

		vectors := make([][]float64, len(req.Texts))
		for i := range vectors {
			vectors[i] = []float64{2, 0, 0, 0} // unnormalized on purpose
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	}))
	defer server.Close()

	client := inference.NewClient(server.URL, "", time.Second)
	e := New(client, "test-model", dim, 3)

	texts := make([]string, 7)
	for i := range texts {
		texts[i] = "text"
	}
	got, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("got %d vectors, want 7", len(got))
	}
	for _, v := range got {
		var sum float64
		for _, x := range v {
			sum += x * x
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-6 {
			t.Errorf("vector not unit-L2: norm^2 = %v", sum)
		}
	}
	// 7 texts at batch size 3 → 3, 3, 1.
	if len(batchSizes) != 3 || batchSizes[0] != 3 || batchSizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [3 3 1]", batchSizes)
	}
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"vectors": [][]float64{{1, 2}}})
	}))
	defer server.Close()

	client := inference.NewClient(server.URL, "", time.Second)
	e := New(client, "test-model", 384, 64)
	if _, err := e.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestEmbedInput(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	got := EmbedInput("Title", string(long))
	if len(got) > 1010 {
		t.Errorf("embed input length %d, want content capped near 1000", len(got))
	}
	if EmbedInput("", "body") != "body" || EmbedInput("title", "") != "title" {
		t.Error("empty-side handling wrong")
	}
}
