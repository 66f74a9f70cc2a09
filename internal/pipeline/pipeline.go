// Package pipeline owns the run lifecycle: stage dispatch, the
// per-entry job state machine, counters, and metrics.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"flashpipe/internal/alerts"
	"flashpipe/internal/cluster"
	"flashpipe/internal/config"
	"flashpipe/internal/core"
	"flashpipe/internal/fetch"
	"flashpipe/internal/inference"
	"flashpipe/internal/logger"
	"flashpipe/internal/persistence"
	"flashpipe/internal/score"
	"flashpipe/internal/summarize"
)

// staleRunAge is how long a run may sit in RUNNING before the safety
// sweeper declares it abandoned.
const staleRunAge = 2 * time.Hour

// ingestChunkSize bounds how many fetch results are held in memory
// before the serialized dedupe/write phase drains them.
const ingestChunkSize = 100

// Embedder is the embedding dependency of the run controller.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Runner drives one pipeline invocation end to end.
type Runner struct {
	db         *persistence.DB
	fetcher    *fetch.Fetcher
	embedder   Embedder
	summarizer *summarize.Summarizer
	dispatcher alerts.Dispatcher
	inference  *inference.Client
	cfg        *config.Config

	// compress is the pluggable content codec for compressed_content.
	compress func([]byte) (string, error)
}

// Deps wires the driven adapters into the run controller.
type Deps struct {
	DB         *persistence.DB
	Fetcher    *fetch.Fetcher
	Embedder   Embedder
	Summarizer *summarize.Summarizer
	Dispatcher alerts.Dispatcher
	Inference  *inference.Client
	Config     *config.Config
}

// NewRunner constructs the run controller.
func NewRunner(deps Deps) *Runner {
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = alerts.NopDispatcher{}
	}
	return &Runner{
		db:         deps.DB,
		fetcher:    deps.Fetcher,
		embedder:   deps.Embedder,
		summarizer: deps.Summarizer,
		dispatcher: dispatcher,
		inference:  deps.Inference,
		cfg:        deps.Config,
		compress:   gzipBase64,
	}
}

// NewRunID builds a lexicographically sortable run id encoding the UTC
// start instant.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s",
		now.UTC().Format("20060102_150405"),
		uuid.New().String()[:8])
}

// Run executes the pipeline for targetDate at the given tier.
// Per-entry failures are isolated on their job rows; a stage-global
// failure transitions the run to FAILED and returns the root cause.
func (r *Runner) Run(ctx context.Context, targetDate time.Time, tier core.Tier) error {
	runID := NewRunID(time.Now())
	log := logger.With("run_id", runID)

	// Abandoned-run sweep before anything else.
	if swept, err := r.db.Runs().SweepStale(ctx, staleRunAge); err != nil {
		return fmt.Errorf("sweep stale runs: %w", err)
	} else if swept > 0 {
		log.Warn().Int("count", swept).Msg("swept abandoned runs")
	}

	tables, err := r.db.ResolveTables(ctx, targetDate)
	if err != nil {
		return fmt.Errorf("resolve tables: %w", err)
	}
	if err := r.db.EnsureClustersTable(ctx, tables); err != nil {
		return err
	}

	if err := r.db.Runs().Create(ctx, runID, tables.TargetDate, tier); err != nil {
		return err
	}
	log.Info().Str("tier", string(tier)).Str("date", tables.TargetDate).Msg("run started")

	if err := r.runStages(ctx, runID, tables, tier); err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = string(core.ReasonCancelled)
		}
		if markErr := r.db.Runs().MarkFailed(context.WithoutCancel(ctx), runID, reason); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark run failed")
		}
		return err
	}
	return nil
}

func (r *Runner) runStages(ctx context.Context, runID string, tables persistence.Tables, tier core.Tier) error {
	timings := make(map[string]float64)
	started := time.Now()

	entries, err := r.db.Entries().SelectUnprocessed(ctx, tables, r.cfg.App.BatchLimit)
	if err != nil {
		return err
	}
	logger.Info("entries selected", "run_id", runID, "total", len(entries))

	if len(entries) == 0 {
		return r.db.Runs().MarkCompleted(ctx, runID, map[string]any{
			"total_entries": 0,
			"tier":          string(tier),
			"tables":        tables,
		})
	}

	// Claim job rows; losing a claim means another run owns the entry.
	claimed := entries[:0]
	for _, entry := range entries {
		won, err := r.db.Jobs().Claim(ctx, entry.ID, runID)
		if err != nil {
			return err
		}
		if won {
			claimed = append(claimed, entry)
		}
	}
	entries = claimed

	t0 := time.Now()
	stats, err := r.ingest(ctx, runID, tables, entries)
	if err != nil {
		return fmt.Errorf("ingest stage: %w", err)
	}
	timings["ingest_s"] = time.Since(t0).Seconds()

	if tier.HasEmbeddings() {
		t0 = time.Now()
		if err := r.embedStage(ctx, runID, stats); err != nil {
			return fmt.Errorf("embed stage: %w", err)
		}
		timings["embed_s"] = time.Since(t0).Seconds()
	}

	var flagged []alerts.Payload
	if tier.HasClustering() {
		t0 = time.Now()
		flashpoints, err := r.db.Entries().FlashpointIDsForRun(ctx, tables, runID)
		if err != nil {
			return err
		}
		clustersCreated, err := r.clusterStage(ctx, runID, tables, flashpoints)
		if err != nil {
			return fmt.Errorf("cluster stage: %w", err)
		}
		timings["cluster_s"] = time.Since(t0).Seconds()

		t0 = time.Now()
		results, err := r.summarizeStage(ctx, runID, tables, flashpoints)
		if err != nil {
			return fmt.Errorf("summarize stage: %w", err)
		}
		timings["summarize_s"] = time.Since(t0).Seconds()

		t0 = time.Now()
		flagged, err = r.scoreStage(ctx, runID, results)
		if err != nil {
			return fmt.Errorf("score stage: %w", err)
		}
		timings["score_s"] = time.Since(t0).Seconds()

		logger.Info("clustering stages done", "run_id", runID,
			"flashpoints", len(flashpoints), "clusters", clustersCreated, "flagged", len(flagged))
	}

	if len(flagged) > 0 {
		if err := r.dispatcher.Dispatch(ctx, runID, flagged); err != nil {
			// Alert delivery is best-effort; the run still completes.
			logger.Error("alert dispatch failed", err, "run_id", runID)
		}
	}

	timings["total_s"] = time.Since(started).Seconds()

	if err := r.db.Runs().UpdateCounters(ctx, runID, len(entries), stats.processed, stats.failed); err != nil {
		return err
	}
	jobStats, err := r.db.Jobs().RunStats(ctx, runID)
	if err != nil {
		return err
	}
	metrics := map[string]any{
		"total_entries": len(entries),
		"processed":     stats.processed,
		"failed":        stats.failed,
		"deduped":       stats.deduped,
		"job_stats":     jobStats,
		"tier":          string(tier),
		"timings":       timings,
		"tables": map[string]string{
			"feed_entries":  tables.FeedEntries,
			"flash_point":   tables.Flashpoints,
			"news_clusters": tables.NewsClusters,
		},
	}
	if err := r.db.Runs().MarkCompleted(ctx, runID, metrics); err != nil {
		return err
	}
	logger.Info("run completed", "run_id", runID,
		"processed", stats.processed, "failed", stats.failed, "deduped", stats.deduped)
	return nil
}

// ── Embed stage ─────────────────────────────────────────────────

func (r *Runner) embedStage(ctx context.Context, runID string, stats *ingestStats) error {
	if r.embedder == nil {
		return fmt.Errorf("tier requires embeddings but no embedder is configured")
	}
	candidates := stats.embeddable
	if len(candidates) == 0 {
		logger.Info("no entries to embed", "run_id", runID)
		return nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.embedText
	}

	start := time.Now()
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// An embedder outage is stage-global: every candidate fails.
		for _, c := range candidates {
			_ = r.db.Jobs().MarkFailed(ctx, c.entryID, runID, core.ReasonEmbedError, err.Error())
		}
		return err
	}
	embedMs := int(time.Since(start).Milliseconds())

	perEntry := 0
	if len(candidates) > 0 {
		perEntry = embedMs / len(candidates)
	}

	for i, c := range candidates {
		if err := r.db.Vectors().Upsert(ctx, c.entryID, vectors[i], r.embedder.Model()); err != nil {
			if markErr := r.db.Jobs().MarkFailed(ctx, c.entryID, runID, core.ReasonEmbedError, err.Error()); markErr != nil {
				return markErr
			}
			stats.failed++
			continue
		}
		if err := r.db.Jobs().UpdateStatus(ctx, c.entryID, runID, core.JobEmbedded,
			&persistence.JobUpdate{EmbedMs: perEntry}); err != nil {
			return err
		}
	}
	logger.Info("embeddings stored", "run_id", runID, "count", len(candidates))
	return nil
}

// ── Cluster stage ───────────────────────────────────────────────

func (r *Runner) clusterStage(ctx context.Context, runID string, tables persistence.Tables, flashpoints []uuid.UUID) (int, error) {
	total := 0
	for _, fpID := range flashpoints {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		vectors, err := r.db.Vectors().ForFlashpoint(ctx, tables, fpID, runID)
		if err != nil {
			return total, err
		}
		if len(vectors) == 0 {
			continue
		}

		entryIDs := make([]uuid.UUID, len(vectors))
		embeddings := make([][]float64, len(vectors))
		for i, v := range vectors {
			entryIDs[i] = v.EntryID
			embeddings[i] = v.Embedding
		}

		assignments := cluster.Cluster(entryIDs, embeddings,
			r.cfg.Cluster.KNNK, r.cfg.Cluster.CosineThreshold)

		members := make([]persistence.ClusterMemberRow, len(assignments))
		ids := make([]uuid.UUID, len(assignments))
		clusterSet := make(map[uuid.UUID]bool)
		for i, a := range assignments {
			members[i] = persistence.ClusterMemberRow{
				FlashpointID: fpID,
				ClusterUUID:  a.ClusterUUID,
				EntryID:      a.EntryID,
				RunID:        runID,
				Similarity:   a.Similarity,
			}
			ids[i] = a.EntryID
			clusterSet[a.ClusterUUID] = true
		}
		if err := r.db.Clusters().InsertMembers(ctx, members); err != nil {
			return total, err
		}
		if err := r.db.Jobs().BulkUpdateStatus(ctx, ids, runID, core.JobClustered); err != nil {
			return total, err
		}
		total += len(clusterSet)
	}
	return total, nil
}

// ── Summarize stage ─────────────────────────────────────────────

// flashpointResult carries a summarized cluster along with the member
// seen-dates the scorer needs.
type flashpointResult struct {
	result    summarize.Result
	seenDates []time.Time
}

func (r *Runner) summarizeStage(ctx context.Context, runID string, tables persistence.Tables, flashpoints []uuid.UUID) ([]flashpointResult, error) {
	var all []flashpointResult

	for _, fpID := range flashpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		members, err := r.db.Clusters().MembersWithArticles(ctx, tables, fpID, runID)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}

		inputs, seenDates := groupClusters(fpID, members)

		// Idempotent re-generation of this flashpoint's output rows.
		if _, err := r.db.Clusters().DeleteClusters(ctx, tables, fpID); err != nil {
			return nil, err
		}

		results, err := r.summarizer.SummarizeClusters(ctx, inputs)
		if err != nil {
			return nil, err
		}

		var memberIDs []uuid.UUID
		for i, res := range results {
			out := core.ClusterOutput{
				FlashpointID: fpID,
				ClusterID:    res.Input.ClusterID,
				Summary:      res.Summary,
				ArticleCount: len(res.Input.Articles),
				TopDomains:   res.Metadata.TopDomains,
				Languages:    res.Metadata.Languages,
				URLs:         res.Metadata.URLs,
				Images:       res.Metadata.Images,
			}
			if err := r.db.Clusters().WriteCluster(ctx, tables, out); err != nil {
				return nil, err
			}
			for _, a := range res.Input.Articles {
				memberIDs = append(memberIDs, a.EntryID)
			}
			all = append(all, flashpointResult{result: res, seenDates: seenDates[i]})
		}
		if err := r.db.Jobs().BulkUpdateStatus(ctx, memberIDs, runID, core.JobSummarized); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// groupClusters groups member rows by cluster uuid and dense-ranks the
// groups: size descending, then smallest member entry id ascending.
func groupClusters(fpID uuid.UUID, members []persistence.MemberArticle) ([]summarize.ClusterInput, [][]time.Time) {
	byCluster := make(map[uuid.UUID][]persistence.MemberArticle)
	for _, m := range members {
		byCluster[m.ClusterUUID] = append(byCluster[m.ClusterUUID], m)
	}

	type group struct {
		clusterUUID uuid.UUID
		members     []persistence.MemberArticle
		smallest    string
	}
	groups := make([]group, 0, len(byCluster))
	for cid, ms := range byCluster {
		smallest := ms[0].EntryID.String()
		for _, m := range ms[1:] {
			if s := m.EntryID.String(); s < smallest {
				smallest = s
			}
		}
		groups = append(groups, group{clusterUUID: cid, members: ms, smallest: smallest})
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].members) != len(groups[j].members) {
			return len(groups[i].members) > len(groups[j].members)
		}
		return groups[i].smallest < groups[j].smallest
	})

	inputs := make([]summarize.ClusterInput, len(groups))
	seenDates := make([][]time.Time, len(groups))
	for rank, g := range groups {
		articles := make([]summarize.Article, len(g.members))
		dates := make([]time.Time, 0, len(g.members))
		for i, m := range g.members {
			articles[i] = summarize.Article{
				EntryID:  m.EntryID,
				Title:    m.Title,
				TitleEN:  m.TitleEN,
				Content:  m.Content,
				URL:      m.URL,
				Domain:   m.Domain,
				Hostname: m.Hostname,
				Language: m.Language,
				Images:   m.Images,
			}
			if !m.SeenDate.IsZero() {
				dates = append(dates, m.SeenDate)
			}
		}
		inputs[rank] = summarize.ClusterInput{
			FlashpointID: fpID,
			ClusterUUID:  g.clusterUUID,
			ClusterID:    rank + 1,
			Articles:     articles,
		}
		seenDates[rank] = dates
	}
	return inputs, seenDates
}

// ── Score stage ─────────────────────────────────────────────────

func (r *Runner) scoreStage(ctx context.Context, runID string, results []flashpointResult) ([]alerts.Payload, error) {
	if len(results) == 0 {
		return nil, nil
	}

	stats := make([]score.ClusterStats, len(results))
	byKey := make(map[string]flashpointResult, len(results))
	for i, fr := range results {
		res := fr.result
		stats[i] = score.ClusterStats{
			FlashpointID:  res.Input.FlashpointID,
			ClusterID:     res.Input.ClusterID,
			ArticleCount:  len(res.Input.Articles),
			UniqueDomains: len(res.Metadata.TopDomains),
			Languages:     len(res.Metadata.Languages),
			SeenDates:     fr.seenDates,
		}
		byKey[scoreKey(res.Input.FlashpointID, res.Input.ClusterID)] = fr
	}

	weights := score.Weights{
		Volume:    r.cfg.Score.VolumeWeight,
		Diversity: r.cfg.Score.DiversityWeight,
		Language:  r.cfg.Score.LanguageWeight,
		Burst:     r.cfg.Score.BurstWeight,
	}
	ranked := score.Rank(stats, weights, r.cfg.Score.FlagTopK)

	var flagged []alerts.Payload
	var scoredIDs []uuid.UUID
	for _, s := range ranked {
		fr := byKey[scoreKey(s.FlashpointID, s.ClusterID)]
		for _, a := range fr.result.Input.Articles {
			scoredIDs = append(scoredIDs, a.EntryID)
		}
		if s.Flagged {
			flagged = append(flagged, alerts.Payload{
				FlashpointID: s.FlashpointID.String(),
				ClusterID:    s.ClusterID,
				Summary:      fr.result.Summary,
				ArticleCount: len(fr.result.Input.Articles),
				HotspotScore: s.Score,
				TopDomains:   fr.result.Metadata.TopDomains,
			})
		}
	}
	if err := r.db.Jobs().BulkUpdateStatus(ctx, scoredIDs, runID, core.JobScored); err != nil {
		return nil, err
	}
	return flagged, nil
}

func scoreKey(fpID uuid.UUID, clusterID int) string {
	return fmt.Sprintf("%s/%d", fpID, clusterID)
}
