package score

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestComputeComponentsInRange(t *testing.T) {
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	stats := ClusterStats{
		FlashpointID:  uuid.New(),
		ClusterID:     1,
		ArticleCount:  40,
		UniqueDomains: 12,
		Languages:     4,
		SeenDates: []time.Time{
			now, now.Add(-time.Hour), now.Add(-2 * time.Hour), now.Add(-30 * time.Hour),
		},
	}
	got := Compute(stats, DefaultWeights())

	for name, v := range got.Components {
		if v < 0 || v > 1 {
			t.Errorf("component %s = %v outside [0,1]", name, v)
		}
	}
	if got.Score < 0 || got.Score > 1 {
		t.Errorf("score %v outside [0,1]", got.Score)
	}
}

func TestComputeEmptyCluster(t *testing.T) {
	got := Compute(ClusterStats{ClusterID: 1}, DefaultWeights())
	if got.Score != 0 {
		t.Errorf("empty cluster score = %v, want 0", got.Score)
	}
}

func TestVolumeSaturates(t *testing.T) {
	small := Compute(ClusterStats{ArticleCount: 5}, Weights{Volume: 1})
	big := Compute(ClusterStats{ArticleCount: 100}, Weights{Volume: 1})
	huge := Compute(ClusterStats{ArticleCount: 100000}, Weights{Volume: 1})

	if small.Score >= big.Score {
		t.Error("volume component must grow with article count")
	}
	if big.Score != 1 || huge.Score != 1 {
		t.Errorf("volume must saturate at 1: big=%v huge=%v", big.Score, huge.Score)
	}
}

func TestBurstiness(t *testing.T) {
	base := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	// All articles inside one hour: maximally bursty.
	var tight []time.Time
	for i := 0; i < 6; i++ {
		tight = append(tight, base.Add(time.Duration(i)*10*time.Minute))
	}
	if got := burstiness(tight); got != 1 {
		t.Errorf("tight burstiness = %v, want 1", got)
	}

	// Spread over days: only a small share in any 6 h window.
	var spread []time.Time
	for i := 0; i < 6; i++ {
		spread = append(spread, base.Add(time.Duration(i)*24*time.Hour))
	}
	if got := burstiness(spread); got > 0.2 {
		t.Errorf("spread burstiness = %v, want <= 1/6", got)
	}

	if got := burstiness([]time.Time{base}); got != 0 {
		t.Errorf("single timestamp burstiness = %v, want 0", got)
	}
}

func TestRankFlagsTopK(t *testing.T) {
	fp := uuid.New()
	var all []ClusterStats
	for i := 1; i <= 6; i++ {
		all = append(all, ClusterStats{
			FlashpointID:  fp,
			ClusterID:     i,
			ArticleCount:  i * 10,
			UniqueDomains: i,
			Languages:     1,
		})
	}

	ranked := Rank(all, DefaultWeights(), 2)
	flagged := 0
	for _, s := range ranked {
		if s.Flagged {
			flagged++
		}
	}
	if flagged != 2 {
		t.Errorf("flagged %d clusters, want 2", flagged)
	}

	// Ordered by score descending; the biggest cluster leads.
	if ranked[0].ClusterID != 6 {
		t.Errorf("top cluster = %d, want 6", ranked[0].ClusterID)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Errorf("ranking not sorted at %d", i)
		}
	}
}

func TestRankTopKExceedsLen(t *testing.T) {
	ranked := Rank([]ClusterStats{{ClusterID: 1, ArticleCount: 3}}, DefaultWeights(), 10)
	if len(ranked) != 1 || !ranked[0].Flagged {
		t.Error("single cluster should be flagged when topK exceeds count")
	}
}
