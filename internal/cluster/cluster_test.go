package cluster

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
)

// unit returns an L2-normalized copy of v.
func unit(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// orderedIDs returns n uuids in ascending string order.
func orderedIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", i))
	}
	return ids
}

func TestClusterEmpty(t *testing.T) {
	if got := Cluster(nil, nil, 10, 0.65); got != nil {
		t.Errorf("expected no assignments for zero entries, got %d", len(got))
	}
}

func TestClusterSingleton(t *testing.T) {
	ids := orderedIDs(1)
	got := Cluster(ids, [][]float64{unit([]float64{1, 0, 0})}, 10, 0.65)
	if len(got) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(got))
	}
	if got[0].ClusterID != 1 {
		t.Errorf("singleton cluster id = %d, want 1", got[0].ClusterID)
	}
	if got[0].Similarity != 1.0 {
		t.Errorf("singleton similarity = %v, want 1.0", got[0].Similarity)
	}
}

func TestClusterTwoGroups(t *testing.T) {
	ids := orderedIDs(5)
	vectors := [][]float64{
		unit([]float64{1, 0, 0.05}),
		unit([]float64{1, 0.02, 0}),
		unit([]float64{0.99, 0.01, 0.03}),
		unit([]float64{0, 1, 0.02}),
		unit([]float64{0.01, 1, 0}),
	}

	got := Cluster(ids, vectors, 10, 0.65)
	if len(got) != 5 {
		t.Fatalf("expected 5 assignments, got %d", len(got))
	}

	byEntry := make(map[uuid.UUID]Assignment)
	for _, a := range got {
		byEntry[a.EntryID] = a
	}

	// Larger group (first three) takes dense rank 1.
	for _, id := range ids[:3] {
		if byEntry[id].ClusterID != 1 {
			t.Errorf("entry %s cluster = %d, want 1", id, byEntry[id].ClusterID)
		}
	}
	for _, id := range ids[3:] {
		if byEntry[id].ClusterID != 2 {
			t.Errorf("entry %s cluster = %d, want 2", id, byEntry[id].ClusterID)
		}
	}
	if byEntry[ids[0]].ClusterUUID == byEntry[ids[3]].ClusterUUID {
		t.Error("distinct components share a cluster uuid")
	}
}

func TestClusterDenseRankNoGaps(t *testing.T) {
	ids := orderedIDs(6)
	// Three well-separated pairs.
	vectors := [][]float64{
		unit([]float64{1, 0, 0}), unit([]float64{0.99, 0.01, 0}),
		unit([]float64{0, 1, 0}), unit([]float64{0.01, 0.99, 0}),
		unit([]float64{0, 0, 1}), unit([]float64{0, 0.01, 0.99}),
	}
	got := Cluster(ids, vectors, 10, 0.65)

	sizes := make(map[int]int)
	for _, a := range got {
		sizes[a.ClusterID]++
	}
	for id := 1; id <= len(sizes); id++ {
		if sizes[id] == 0 {
			t.Errorf("cluster id %d missing: ids must be 1..N dense", id)
		}
	}

	// Equal sizes: tie broken by smallest member id ascending.
	first := make(map[int]uuid.UUID)
	for _, a := range got {
		if cur, ok := first[a.ClusterID]; !ok || a.EntryID.String() < cur.String() {
			first[a.ClusterID] = a.EntryID
		}
	}
	for id := 1; id < len(sizes); id++ {
		if first[id].String() > first[id+1].String() {
			t.Errorf("tie-break violated: cluster %d smallest member %s > cluster %d smallest member %s",
				id, first[id], id+1, first[id+1])
		}
	}
}

func TestClusterSizesNonIncreasing(t *testing.T) {
	ids := orderedIDs(7)
	vectors := [][]float64{
		// Component of 4.
		unit([]float64{1, 0, 0}), unit([]float64{0.99, 0.02, 0}),
		unit([]float64{0.98, 0.01, 0.01}), unit([]float64{0.99, 0, 0.02}),
		// Component of 2.
		unit([]float64{0, 1, 0}), unit([]float64{0.01, 0.99, 0}),
		// Singleton.
		unit([]float64{0, 0, 1}),
	}
	got := Cluster(ids, vectors, 10, 0.65)

	sizes := make(map[int]int)
	for _, a := range got {
		sizes[a.ClusterID]++
	}
	for id := 1; id < len(sizes); id++ {
		if sizes[id] < sizes[id+1] {
			t.Errorf("size sequence increases at cluster %d: %d < %d", id, sizes[id], sizes[id+1])
		}
	}
	if sizes[1] != 4 || sizes[3] != 1 {
		t.Errorf("unexpected size layout: %v", sizes)
	}
}

func TestAboveThresholdPairClusteredTogether(t *testing.T) {
	ids := orderedIDs(2)
	a := unit([]float64{1, 0.2, 0})
	b := unit([]float64{1, 0.25, 0.05})
	got := Cluster(ids, [][]float64{a, b}, 1, 0.65)
	if got[0].ClusterID != got[1].ClusterID {
		t.Error("pair with cosine above threshold split into separate clusters")
	}
}

func TestBelowThresholdStaysApart(t *testing.T) {
	ids := orderedIDs(2)
	got := Cluster(ids, [][]float64{
		unit([]float64{1, 0, 0}),
		unit([]float64{0, 1, 0}),
	}, 10, 0.65)
	if got[0].ClusterID == got[1].ClusterID {
		t.Error("orthogonal vectors clustered together")
	}
}
