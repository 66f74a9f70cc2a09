package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flashpipe/internal/core"
	"flashpipe/internal/dedupe"
	"flashpipe/internal/embed"
	"flashpipe/internal/enrich"
	"flashpipe/internal/extract"
	"flashpipe/internal/fetch"
	"flashpipe/internal/logger"
	"flashpipe/internal/persistence"
)

// embedCandidate is a non-duplicate extracted entry queued for the
// embed stage.
type embedCandidate struct {
	entryID   uuid.UUID
	embedText string
}

type ingestStats struct {
	processed  int
	failed     int
	deduped    int
	embeddable []embedCandidate
}

// extracted is the in-memory outcome of the concurrent phase for one
// entry, before the serialized dedupe/write phase.
type extracted struct {
	entry    core.FeedEntry
	text     string
	method   string
	images   []string
	language string
	titleEN  string
	hostname string
	entities core.EntityMap
	geo      []core.GeoEntity
	fetchMs  int
	extract1 int
}

// ingest runs fetch → extract → enrich concurrently in entry chunks,
// then dedupes and writes each chunk serially in ascending entry-id
// order so duplicate representatives are deterministic. Entries arrive
// pre-sorted by id from selection, and chunks preserve that order.
func (r *Runner) ingest(ctx context.Context, runID string, tables persistence.Tables, entries []core.FeedEntry) (*ingestStats, error) {
	stats := &ingestStats{}
	engine := dedupe.NewEngine(
		r.cfg.Dedupe.MinhashPermutations,
		r.cfg.Dedupe.ShingleSize,
		r.cfg.Dedupe.MinhashThreshold,
	)

	for start := 0; start < len(entries); start += ingestChunkSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + ingestChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		results := make([]*extracted, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		// The fetcher's own semaphores bound network concurrency; this
		// cap only bounds goroutines per chunk.
		g.SetLimit(r.cfg.Fetch.MaxConcurrent)
		for i, entry := range chunk {
			i, entry := i, entry
			g.Go(func() error {
				res, failure := r.processOne(gctx, runID, entry)
				if failure != nil {
					if err := r.db.Jobs().MarkFailed(gctx, entry.ID, runID, failure.reason, failure.message); err != nil {
						return err
					}
					return nil
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		// Serialized phase: ascending entry-id order within the chunk.
		for _, res := range results {
			if res == nil {
				stats.failed++
				continue
			}
			if err := r.finishEntry(ctx, runID, tables, engine, res, stats); err != nil {
				return stats, err
			}
		}

		logger.Info("ingest chunk done", "run_id", runID,
			"chunk_end", end, "processed", stats.processed,
			"failed", stats.failed, "deduped", stats.deduped)
	}

	return stats, nil
}

type entryFailure struct {
	reason  core.FailureReason
	message string
}

// processOne runs the per-entry I/O pipeline: fetch, extract, enrich.
// All failures are mapped onto the taxonomy; nothing escapes as a
// bare error.
func (r *Runner) processOne(ctx context.Context, runID string, entry core.FeedEntry) (*extracted, *entryFailure) {
	if entry.URL == "" {
		return nil, &entryFailure{reason: core.ReasonNoText, message: "entry has no URL"}
	}

	if err := r.db.Jobs().UpdateStatus(ctx, entry.ID, runID, core.JobFetching, nil); err != nil {
		return nil, &entryFailure{reason: core.ReasonUnknown, message: err.Error()}
	}

	fetchStart := time.Now()
	fetchRes, err := r.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		return nil, &entryFailure{reason: fetch.ClassifyError(err), message: err.Error()}
	}
	fetchMs := int(time.Since(fetchStart).Milliseconds())

	extractStart := time.Now()
	html := string(fetchRes.Body)
	extRes, err := extract.Extract(html, entry.URL, r.cfg.Extract.MinContentLength)
	if err != nil {
		reason := core.ReasonNoText
		var extErr *extract.Error
		if errors.As(err, &extErr) {
			reason = extErr.Reason
		}
		// Remember JS/consent hosts so the browser fallback can take
		// over their remaining entries.
		if r.cfg.Fetch.BrowserEnabled && extract.BrowserWorthReason(reason) {
			r.fetcher.FlagHostForBrowser(enrich.Hostname(entry.URL))
		}
		return nil, &entryFailure{reason: reason, message: err.Error()}
	}
	extractMs := int(time.Since(extractStart).Milliseconds())

	lang, _ := enrich.DetectLanguage(extRes.Text, entry.Language)
	titleEN := enrich.TranslateTitle(ctx, r.inference, entry.Title, lang)
	hostname := enrich.Hostname(entry.URL)
	entities := enrich.ExtractEntities(ctx, r.inference, extRes.Text, r.cfg.Inference.NERModel)
	geo := enrich.ResolveGeo(entities, entry.SourceCountry)
	images := extract.Images(html, entry.URL)

	return &extracted{
		entry:    entry,
		text:     extRes.Text,
		method:   extRes.Method,
		images:   images,
		language: lang,
		titleEN:  titleEN,
		hostname: hostname,
		entities: entities,
		geo:      geo,
		fetchMs:  fetchMs,
		extract1: extractMs,
	}, nil
}

// finishEntry runs the serialized tail for one extracted entry:
// dedupe verdict, enrichment write-back (the processed marker), and
// the job transition.
func (r *Runner) finishEntry(ctx context.Context, runID string, tables persistence.Tables, engine *dedupe.Engine, res *extracted, stats *ingestStats) error {
	entry := res.entry

	if err := r.db.Jobs().UpdateStatus(ctx, entry.ID, runID, core.JobExtracted,
		&persistence.JobUpdate{
			ExtractionMethod: res.method,
			ExtractionChars:  len(res.text),
			FetchMs:          res.fetchMs,
			ExtractMs:        res.extract1,
		}); err != nil {
		return err
	}

	verdict := engine.CheckAndRegister(entry.ID.String(), res.text)

	compressed, err := r.compress([]byte(res.text))
	if err != nil {
		compressed = ""
	}

	// Enrichment is written for duplicates too: content is the
	// processed marker and must land exactly once per entry.
	update := persistence.EnrichmentUpdate{
		Content:     &res.text,
		TitleEN:     &res.titleEN,
		Hostname:    &res.hostname,
		Entities:    &res.entities,
		GeoEntities: res.geo,
		Images:      res.images,
	}
	if compressed != "" {
		update.CompressedContent = &compressed
	}
	if err := r.db.Entries().UpdateEnrichment(ctx, tables, entry.ID, update); err != nil {
		return err
	}

	if verdict.Duplicate() {
		duplicateOf := uuid.Nil
		if id, err := uuid.Parse(verdict.DuplicateOf); err == nil {
			duplicateOf = id
		}
		if err := r.db.Jobs().UpdateStatus(ctx, entry.ID, runID, core.JobSkippedDuplicate,
			&persistence.JobUpdate{
				ContentHash: verdict.ContentHash,
				IsDuplicate: true,
				DuplicateOf: duplicateOf,
			}); err != nil {
			return err
		}
		stats.deduped++
		stats.processed++
		return nil
	}

	if err := r.db.Jobs().UpdateStatus(ctx, entry.ID, runID, core.JobDeduped,
		&persistence.JobUpdate{ContentHash: verdict.ContentHash}); err != nil {
		return err
	}

	stats.processed++
	stats.embeddable = append(stats.embeddable, embedCandidate{
		entryID:   entry.ID,
		embedText: embed.EmbedInput(res.titleEN, res.text),
	})
	return nil
}

// gzipBase64 is the default compressed_content codec.
func gzipBase64(data []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("gzip content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
