package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"flashpipe/internal/core"
)

// psql builds queries with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ── Processing runs ─────────────────────────────────────────────

// RunRepo manages the processing_runs sidecar table.
type RunRepo struct {
	db *sql.DB
}

// Create opens a run row in RUNNING state.
func (r *RunRepo) Create(ctx context.Context, runID, targetDate string, tier core.Tier) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_runs (run_id, target_date, pipeline_tier, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, targetDate, string(tier), string(core.RunRunning), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create run %s: %w", runID, err)
	}
	return nil
}

// UpdateCounters stores the selection/progress counters.
func (r *RunRepo) UpdateCounters(ctx context.Context, runID string, selected, processed, failed int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET total_entries = $2, processed_entries = $3, failed_entries = $4
		WHERE run_id = $1`,
		runID, selected, processed, failed)
	if err != nil {
		return fmt.Errorf("update counters for run %s: %w", runID, err)
	}
	return nil
}

// MarkCompleted closes the run as COMPLETED with its metrics document.
func (r *RunRepo) MarkCompleted(ctx context.Context, runID string, metrics map[string]any) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET status = $2, completed_at = $3, metrics = CAST($4 AS jsonb)
		WHERE run_id = $1`,
		runID, string(core.RunCompleted), time.Now().UTC(), string(metricsJSON))
	if err != nil {
		return fmt.Errorf("mark run %s completed: %w", runID, err)
	}
	return nil
}

// MarkFailed closes the run as FAILED recording the root cause.
func (r *RunRepo) MarkFailed(ctx context.Context, runID, errorMessage string) error {
	if len(errorMessage) > 2000 {
		errorMessage = errorMessage[:2000]
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET status = $2, completed_at = $3, error_message = $4
		WHERE run_id = $1`,
		runID, string(core.RunFailed), time.Now().UTC(), errorMessage)
	if err != nil {
		return fmt.Errorf("mark run %s failed: %w", runID, err)
	}
	return nil
}

// SweepStale transitions runs stuck in RUNNING for longer than maxAge
// to FAILED. Called before a new run starts.
func (r *RunRepo) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := r.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET status = $1, completed_at = $2, error_message = 'abandoned: exceeded max run age'
		WHERE status = $3 AND started_at < $4`,
		string(core.RunFailed), time.Now().UTC(), string(core.RunRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ── Feed entries ────────────────────────────────────────────────

// EntryRepo queries the date-partitioned feed_entries tables. A
// non-null content column is the processed marker: selection and
// cross-run resume both key on it.
type EntryRepo struct {
	db *sql.DB
}

// SelectUnprocessed returns up to limit entries with a flashpoint and
// no content yet, ordered by id for deterministic dedupe tie-breaking.
func (r *EntryRepo) SelectUnprocessed(ctx context.Context, tables Tables, limit int) ([]core.FeedEntry, error) {
	if err := checkIdent(tables.FeedEntries); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10000
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, flashpoint_id, url, title, language, domain, sourcecountry, seendate
		FROM %q
		WHERE flashpoint_id IS NOT NULL AND content IS NULL
		ORDER BY id
		LIMIT $1`, tables.FeedEntries), limit)
	if err != nil {
		return nil, fmt.Errorf("select unprocessed: %w", err)
	}
	defer rows.Close()

	var entries []core.FeedEntry
	for rows.Next() {
		var e core.FeedEntry
		var url, title, language, domain, sourceCountry sql.NullString
		var seenDate sql.NullTime
		if err := rows.Scan(&e.ID, &e.FlashpointID, &url, &title, &language, &domain, &sourceCountry, &seenDate); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.URL = url.String
		e.Title = title.String
		e.Language = language.String
		e.Domain = domain.String
		e.SourceCountry = sourceCountry.String
		e.SeenDate = seenDate.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EnrichmentUpdate carries the write-back columns. Nil fields are left
// untouched; writing Content marks the entry processed.
type EnrichmentUpdate struct {
	Content           *string
	CompressedContent *string
	TitleEN           *string
	Hostname          *string
	Summary           *string
	Entities          *core.EntityMap
	GeoEntities       []core.GeoEntity
	Images            []string
}

// UpdateEnrichment writes the provided enrichment fields. JSON values
// go through an explicit CAST(... AS jsonb): the driver binds
// positionally and the shorthand cast corrupts parameter substitution.
func (r *EntryRepo) UpdateEnrichment(ctx context.Context, tables Tables, entryID uuid.UUID, update EnrichmentUpdate) error {
	if err := checkIdent(tables.FeedEntries); err != nil {
		return err
	}

	builder := psql.Update(tables.FeedEntries).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": entryID})

	if update.Content != nil {
		builder = builder.Set("content", *update.Content)
	}
	if update.CompressedContent != nil {
		builder = builder.Set("compressed_content", *update.CompressedContent)
	}
	if update.TitleEN != nil {
		builder = builder.Set("title_en", *update.TitleEN)
	}
	if update.Hostname != nil {
		builder = builder.Set("hostname", *update.Hostname)
	}
	if update.Summary != nil {
		builder = builder.Set("summary", *update.Summary)
	}
	if update.Entities != nil {
		entitiesJSON, err := json.Marshal(update.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
		builder = builder.Set("entities", sq.Expr("CAST(? AS jsonb)", string(entitiesJSON)))
	}
	if update.GeoEntities != nil {
		geoJSON, err := json.Marshal(update.GeoEntities)
		if err != nil {
			return fmt.Errorf("marshal geo entities: %w", err)
		}
		builder = builder.Set("geo_entities", sq.Expr("CAST(? AS jsonb)", string(geoJSON)))
	}
	if update.Images != nil {
		// images is text[], not jsonb.
		builder = builder.Set("images", pq.Array(update.Images))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build enrichment update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update enrichment for %s: %w", entryID, err)
	}
	return nil
}

// FlashpointIDsForRun lists distinct flashpoints with at least one
// non-duplicate, non-failed job in this run.
func (r *EntryRepo) FlashpointIDsForRun(ctx context.Context, tables Tables, runID string) ([]uuid.UUID, error) {
	if err := checkIdent(tables.FeedEntries); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT fe.flashpoint_id
		FROM %q fe
		JOIN feed_entry_jobs j ON fe.id = j.feed_entry_id
		WHERE fe.flashpoint_id IS NOT NULL
		AND j.run_id = $1
		AND j.is_duplicate = false
		AND j.status != $2
		ORDER BY fe.flashpoint_id`, tables.FeedEntries),
		runID, string(core.JobFailed))
	if err != nil {
		return nil, fmt.Errorf("flashpoints for run: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flashpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ── Jobs ────────────────────────────────────────────────────────

// JobRepo manages the feed_entry_jobs sidecar table. The
// UNIQUE(feed_entry_id, run_id) constraint is the claim invariant.
type JobRepo struct {
	db *sql.DB
}

// Claim inserts the job row, ignoring the conflict when it already
// exists. Returns whether this call won the claim.
func (r *JobRepo) Claim(ctx context.Context, entryID uuid.UUID, runID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_entry_jobs (feed_entry_id, run_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (feed_entry_id, run_id) DO NOTHING`,
		entryID, runID, string(core.JobQueued))
	if err != nil {
		return false, fmt.Errorf("claim job %s/%s: %w", entryID, runID, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// JobUpdate carries optional per-stage fields persisted with a status
// transition.
type JobUpdate struct {
	ExtractionMethod string
	ExtractionChars  int
	ContentHash      string
	IsDuplicate      bool
	DuplicateOf      uuid.UUID
	FetchMs          int
	ExtractMs        int
	EmbedMs          int
}

// UpdateStatus transitions the job and persists any stage fields.
func (r *JobRepo) UpdateStatus(ctx context.Context, entryID uuid.UUID, runID string, status core.JobStatus, update *JobUpdate) error {
	builder := psql.Update("feed_entry_jobs").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"feed_entry_id": entryID, "run_id": runID})

	if update != nil {
		if update.ExtractionMethod != "" {
			builder = builder.Set("extraction_method", update.ExtractionMethod)
		}
		if update.ExtractionChars > 0 {
			builder = builder.Set("extraction_chars", update.ExtractionChars)
		}
		if update.ContentHash != "" {
			builder = builder.Set("content_hash", update.ContentHash)
		}
		if update.IsDuplicate {
			builder = builder.Set("is_duplicate", true)
			if update.DuplicateOf != uuid.Nil {
				builder = builder.Set("duplicate_of", update.DuplicateOf)
			}
		}
		if update.FetchMs > 0 {
			builder = builder.Set("fetch_duration_ms", update.FetchMs)
		}
		if update.ExtractMs > 0 {
			builder = builder.Set("extract_duration_ms", update.ExtractMs)
		}
		if update.EmbedMs > 0 {
			builder = builder.Set("embed_duration_ms", update.EmbedMs)
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build job update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update job %s/%s: %w", entryID, runID, err)
	}
	return nil
}

// BulkUpdateStatus transitions many jobs at once.
func (r *JobRepo) BulkUpdateStatus(ctx context.Context, entryIDs []uuid.UUID, runID string, status core.JobStatus) error {
	if len(entryIDs) == 0 {
		return nil
	}
	ids := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		ids[i] = id.String()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_entry_jobs
		SET status = $1, updated_at = $2
		WHERE run_id = $3 AND feed_entry_id = ANY($4::uuid[])`,
		string(status), time.Now().UTC(), runID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("bulk update jobs: %w", err)
	}
	return nil
}

// MarkFailed records the terminal failure with its taxonomy reason.
func (r *JobRepo) MarkFailed(ctx context.Context, entryID uuid.UUID, runID string, reason core.FailureReason, errMsg string) error {
	if len(errMsg) > 2000 {
		errMsg = errMsg[:2000]
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_entry_jobs
		SET status = $3, failure_reason = $4, last_error = $5, updated_at = $6
		WHERE feed_entry_id = $1 AND run_id = $2`,
		entryID, runID, string(core.JobFailed), string(reason), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark job %s/%s failed: %w", entryID, runID, err)
	}
	return nil
}

// RunStats aggregates job status counts for a run.
func (r *JobRepo) RunStats(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM feed_entry_jobs
		WHERE run_id = $1
		GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// DeleteFailed removes FAILED job rows for a run — the supported
// reprocess mechanism.
func (r *JobRepo) DeleteFailed(ctx context.Context, runID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM feed_entry_jobs
		WHERE run_id = $1 AND status = $2`,
		runID, string(core.JobFailed))
	if err != nil {
		return 0, fmt.Errorf("delete failed jobs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ── Vectors ─────────────────────────────────────────────────────

// EntryVector pairs an entry with its stored embedding.
type EntryVector struct {
	EntryID   uuid.UUID
	Embedding []float64
}

// VectorRepo manages feed_entry_vectors (pgvector). Vectors are keyed
// by entry id alone: a later run reuses the prior vector.
type VectorRepo struct {
	db *sql.DB
}

// Upsert stores or replaces the embedding for an entry.
func (r *VectorRepo) Upsert(ctx context.Context, entryID uuid.UUID, embedding []float64, modelName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_entry_vectors (feed_entry_id, embedding, model_name)
		VALUES ($1, CAST($2 AS vector), $3)
		ON CONFLICT (feed_entry_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model_name = EXCLUDED.model_name`,
		entryID, formatVector(embedding), modelName)
	if err != nil {
		return fmt.Errorf("upsert vector for %s: %w", entryID, err)
	}
	return nil
}

// Get loads one vector, or nil when absent.
func (r *VectorRepo) Get(ctx context.Context, entryID uuid.UUID) ([]float64, error) {
	var literal string
	err := r.db.QueryRowContext(ctx, `
		SELECT embedding::text FROM feed_entry_vectors WHERE feed_entry_id = $1`,
		entryID).Scan(&literal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector for %s: %w", entryID, err)
	}
	return parseVector(literal)
}

// ForFlashpoint loads the vectors of all non-duplicate entries of a
// flashpoint in this run, ordered by entry id ascending.
func (r *VectorRepo) ForFlashpoint(ctx context.Context, tables Tables, flashpointID uuid.UUID, runID string) ([]EntryVector, error) {
	if err := checkIdent(tables.FeedEntries); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT v.feed_entry_id, v.embedding::text
		FROM feed_entry_vectors v
		JOIN %q fe ON fe.id = v.feed_entry_id
		JOIN feed_entry_jobs j ON fe.id = j.feed_entry_id
		WHERE fe.flashpoint_id = $1
		AND j.run_id = $2
		AND j.is_duplicate = false
		ORDER BY v.feed_entry_id`, tables.FeedEntries),
		flashpointID, runID)
	if err != nil {
		return nil, fmt.Errorf("vectors for flashpoint %s: %w", flashpointID, err)
	}
	defer rows.Close()

	var out []EntryVector
	for rows.Next() {
		var ev EntryVector
		var literal string
		if err := rows.Scan(&ev.EntryID, &literal); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		ev.Embedding, err = parseVector(literal)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ── Clusters ────────────────────────────────────────────────────

// ClusterMemberRow links an entry to a cluster within a run.
type ClusterMemberRow struct {
	FlashpointID uuid.UUID
	ClusterUUID  uuid.UUID
	EntryID      uuid.UUID
	RunID        string
	Similarity   float64
}

// MemberArticle is a cluster member joined with its enriched entry.
type MemberArticle struct {
	ClusterUUID uuid.UUID
	EntryID     uuid.UUID
	Title       string
	TitleEN     string
	Content     string
	URL         string
	Domain      string
	Hostname    string
	Language    string
	SeenDate    time.Time
	Images      []string
	Similarity  float64
}

// ClusterRepo manages cluster_members and the date-partitioned
// news_clusters output.
type ClusterRepo struct {
	db *sql.DB
}

// InsertMembers writes cluster membership rows, ignoring conflicts so
// a re-entered stage stays idempotent.
func (r *ClusterRepo) InsertMembers(ctx context.Context, members []ClusterMemberRow) error {
	if len(members) == 0 {
		return nil
	}
	builder := psql.Insert("cluster_members").
		Columns("flashpoint_id", "cluster_uuid", "feed_entry_id", "run_id", "similarity").
		Suffix("ON CONFLICT (feed_entry_id, run_id) DO NOTHING")
	for _, m := range members {
		builder = builder.Values(m.FlashpointID, m.ClusterUUID, m.EntryID, m.RunID, m.Similarity)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build member insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert cluster members: %w", err)
	}
	return nil
}

// MembersWithArticles loads the members of a flashpoint's clusters in
// this run together with the enriched entry fields the summarizer
// needs, ordered by cluster then similarity descending.
func (r *ClusterRepo) MembersWithArticles(ctx context.Context, tables Tables, flashpointID uuid.UUID, runID string) ([]MemberArticle, error) {
	if err := checkIdent(tables.FeedEntries); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT cm.cluster_uuid, cm.feed_entry_id, cm.similarity,
		       fe.title, fe.title_en, fe.content, fe.url, fe.domain,
		       fe.hostname, fe.language, fe.seendate, fe.images
		FROM cluster_members cm
		JOIN %q fe ON fe.id = cm.feed_entry_id
		WHERE cm.flashpoint_id = $1 AND cm.run_id = $2
		ORDER BY cm.cluster_uuid, cm.similarity DESC, cm.feed_entry_id`, tables.FeedEntries),
		flashpointID, runID)
	if err != nil {
		return nil, fmt.Errorf("members for flashpoint %s: %w", flashpointID, err)
	}
	defer rows.Close()

	var out []MemberArticle
	for rows.Next() {
		var m MemberArticle
		var title, titleEN, content, url, domain, hostname, language sql.NullString
		var seenDate sql.NullTime
		var images pq.StringArray
		if err := rows.Scan(&m.ClusterUUID, &m.EntryID, &m.Similarity,
			&title, &titleEN, &content, &url, &domain,
			&hostname, &language, &seenDate, &images); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Title = title.String
		m.TitleEN = titleEN.String
		m.Content = content.String
		m.URL = url.String
		m.Domain = domain.String
		m.Hostname = hostname.String
		m.Language = language.String
		m.SeenDate = seenDate.Time
		m.Images = images
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteClusters removes existing output rows for a flashpoint so a
// re-run regenerates them idempotently.
func (r *ClusterRepo) DeleteClusters(ctx context.Context, tables Tables, flashpointID uuid.UUID) (int, error) {
	if err := checkIdent(tables.NewsClusters); err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %q WHERE flashpoint_id = $1`, tables.NewsClusters), flashpointID)
	if err != nil {
		return 0, fmt.Errorf("delete clusters for %s: %w", flashpointID, err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// WriteCluster inserts one dense-ranked output row. JSON columns use
// explicit CAST(... AS jsonb) per the positional-binding constraint.
func (r *ClusterRepo) WriteCluster(ctx context.Context, tables Tables, out core.ClusterOutput) error {
	if err := checkIdent(tables.NewsClusters); err != nil {
		return err
	}
	domainsJSON, err := json.Marshal(emptyIfNil(out.TopDomains))
	if err != nil {
		return fmt.Errorf("marshal domains: %w", err)
	}
	languagesJSON, err := json.Marshal(emptyIfNil(out.Languages))
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	urlsJSON, err := json.Marshal(emptyIfNil(out.URLs))
	if err != nil {
		return fmt.Errorf("marshal urls: %w", err)
	}
	imagesJSON, err := json.Marshal(emptyIfNil(out.Images))
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (
			flashpoint_id, cluster_id, summary, article_count,
			top_domains, languages, urls, images
		) VALUES (
			$1, $2, $3, $4,
			CAST($5 AS jsonb), CAST($6 AS jsonb), CAST($7 AS jsonb), CAST($8 AS jsonb)
		)`, tables.NewsClusters),
		out.FlashpointID, out.ClusterID, out.Summary, out.ArticleCount,
		string(domainsJSON), string(languagesJSON), string(urlsJSON), string(imagesJSON))
	if err != nil {
		return fmt.Errorf("write cluster %d for %s: %w", out.ClusterID, out.FlashpointID, err)
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
