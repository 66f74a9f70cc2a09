// Package score computes hotspot intensity scores for clusters and
// flags the top scorers of a run.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Weights control the component mix. Each component is normalized to
// [0, 1] before weighting.
type Weights struct {
	Volume    float64
	Diversity float64
	Language  float64
	Burst     float64
}

// DefaultWeights is the standard component mix.
func DefaultWeights() Weights {
	return Weights{Volume: 0.40, Diversity: 0.25, Language: 0.15, Burst: 0.20}
}

// ClusterStats is the scoring input for one cluster.
type ClusterStats struct {
	FlashpointID  uuid.UUID
	ClusterID     int
	ArticleCount  int
	UniqueDomains int
	Languages     int
	SeenDates     []time.Time
}

// HotspotScore is the scored view of a cluster.
type HotspotScore struct {
	FlashpointID uuid.UUID
	ClusterID    int
	Score        float64
	Components   map[string]float64
	Flagged      bool
}

const (
	// maxArticleCount saturates the volume component.
	maxArticleCount = 100
	// maxDomains saturates the diversity component.
	maxDomains = 20
	// maxLanguages saturates the language component.
	maxLanguages = 10
	// burstWindow is the window whose densest occupancy defines burstiness.
	burstWindow = 6 * time.Hour
)

// Compute scores one cluster.
func Compute(stats ClusterStats, w Weights) HotspotScore {
	volume := logNorm(stats.ArticleCount, maxArticleCount)
	diversity := logNorm(stats.UniqueDomains, maxDomains)
	language := logNorm(stats.Languages, maxLanguages)
	burst := burstiness(stats.SeenDates)

	score := w.Volume*volume + w.Diversity*diversity + w.Language*language + w.Burst*burst

	return HotspotScore{
		FlashpointID: stats.FlashpointID,
		ClusterID:    stats.ClusterID,
		Score:        round4(score),
		Components: map[string]float64{
			"volume":    round4(volume),
			"diversity": round4(diversity),
			"language":  round4(language),
			"burst":     round4(burst),
		},
	}
}

// Rank scores all clusters and flags the top K. Ties break on
// (flashpoint id, cluster id) so the flag set is deterministic.
func Rank(all []ClusterStats, w Weights, topK int) []HotspotScore {
	scores := make([]HotspotScore, len(all))
	for i, stats := range all {
		scores[i] = Compute(stats, w)
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].FlashpointID != scores[j].FlashpointID {
			return scores[i].FlashpointID.String() < scores[j].FlashpointID.String()
		}
		return scores[i].ClusterID < scores[j].ClusterID
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	for i := 0; i < topK; i++ {
		scores[i].Flagged = true
	}
	return scores
}

// logNorm maps a count onto [0, 1] with log scaling, saturating at max.
func logNorm(n, max int) float64 {
	if n <= 0 {
		return 0
	}
	v := math.Log2(float64(n)+1) / math.Log2(float64(max)+1)
	if v > 1 {
		return 1
	}
	return v
}

// burstiness is the fraction of seen-dates that land inside the
// densest burstWindow. A cluster whose articles all appeared within a
// few hours scores near 1; a slow trickle scores near its uniform
// share. Fewer than two timestamps give no burst signal.
func burstiness(dates []time.Time) float64 {
	if len(dates) < 2 {
		return 0
	}
	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	best := 1
	left := 0
	for right := range sorted {
		for sorted[right].Sub(sorted[left]) > burstWindow {
			left++
		}
		if n := right - left + 1; n > best {
			best = n
		}
	}
	return float64(best) / float64(len(sorted))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
