// Package cluster groups embedded entries into connected components of
// a cosine-similarity kNN graph. Clustering is strictly partitioned by
// flashpoint: callers invoke it once per flashpoint.
package cluster

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// Assignment places one entry in a dense-ranked cluster.
type Assignment struct {
	EntryID     uuid.UUID
	ClusterUUID uuid.UUID
	ClusterID   int
	// Similarity is the dot product with the cluster centroid.
	Similarity float64
}

// unionFind is weighted union-find with path compression.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(x, y int) {
	rx, ry := uf.find(x), uf.find(y)
	if rx == ry {
		return
	}
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
}

// Cluster builds the kNN graph over unit vectors (cosine = dot
// product), connects edges at or above threshold, and dense-ranks the
// connected components: size descending, then smallest member entry id
// ascending — the secondary key makes equal-size ordering
// deterministic. Cluster ids start at 1. Zero entries produce zero
// clusters; a singleton is a valid cluster.
//
// entryIDs must be sorted ascending by the caller; the vectors slice
// is parallel to it.
func Cluster(entryIDs []uuid.UUID, vectors [][]float64, k int, threshold float64) []Assignment {
	n := len(entryIDs)
	if n == 0 {
		return nil
	}
	if k <= 0 {
		k = 10
	}

	if n == 1 {
		return []Assignment{{
			EntryID:     entryIDs[0],
			ClusterUUID: uuid.New(),
			ClusterID:   1,
			Similarity:  1.0,
		}}
	}

	// Full similarity matrix: n is per-flashpoint and modest.
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
		for j := range sims[i] {
			if i == j {
				continue
			}
			sims[i][j] = dot(vectors[i], vectors[j])
		}
	}

	uf := newUnionFind(n)
	actualK := k
	if actualK > n-1 {
		actualK = n - 1
	}

	neighbors := make([]int, n-1)
	for i := 0; i < n; i++ {
		idx := 0
		for j := 0; j < n; j++ {
			if j != i {
				neighbors[idx] = j
				idx++
			}
		}
		row := sims[i]
		sort.Slice(neighbors, func(a, b int) bool {
			if row[neighbors[a]] != row[neighbors[b]] {
				return row[neighbors[a]] > row[neighbors[b]]
			}
			return neighbors[a] < neighbors[b]
		})
		for _, j := range neighbors[:actualK] {
			if row[j] >= threshold {
				uf.union(i, j)
			}
		}
	}

	components := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	sorted := make([][]int, 0, len(components))
	for _, members := range components {
		sort.Ints(members)
		sorted = append(sorted, members)
	}
	sort.Slice(sorted, func(a, b int) bool {
		if len(sorted[a]) != len(sorted[b]) {
			return len(sorted[a]) > len(sorted[b])
		}
		// Members are index-sorted and indices follow entry-id order,
		// so element 0 is the smallest member id.
		return entryIDs[sorted[a][0]].String() < entryIDs[sorted[b][0]].String()
	})

	var assignments []Assignment
	for rank, members := range sorted {
		clusterUUID := uuid.New()
		centroid := centroidOf(vectors, members)
		for _, idx := range members {
			assignments = append(assignments, Assignment{
				EntryID:     entryIDs[idx],
				ClusterUUID: clusterUUID,
				ClusterID:   rank + 1,
				Similarity:  dot(vectors[idx], centroid),
			})
		}
	}
	return assignments
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// centroidOf is the unit-normalized mean of the member vectors.
func centroidOf(vectors [][]float64, members []int) []float64 {
	dim := len(vectors[members[0]])
	centroid := make([]float64, dim)
	for _, idx := range members {
		for d, v := range vectors[idx] {
			centroid[d] += v
		}
	}
	var norm float64
	for _, v := range centroid {
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for d := range centroid {
			centroid[d] *= inv
		}
	}
	return centroid
}
