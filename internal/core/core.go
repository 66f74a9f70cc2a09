// Package core defines the domain types shared across pipeline stages.
package core

import (
	"time"

	"github.com/google/uuid"
)

// Tier selects how much of the pipeline runs.
// A: fetch + extract + enrich + dedupe.
// B: adds embeddings, clustering, and local summaries.
// C: adds oracle cluster summaries and the premium pass.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// HasEmbeddings reports whether the tier computes and stores vectors.
func (t Tier) HasEmbeddings() bool { return t == TierB || t == TierC }

// HasClustering reports whether the tier runs the clustering stage.
func (t Tier) HasClustering() bool { return t == TierB || t == TierC }

// HasOracle reports whether the tier calls the external summarization oracle.
func (t Tier) HasOracle() bool { return t == TierC }

// RunStatus tracks the lifecycle of a ProcessingRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// JobStatus is the per-(run, entry) state machine.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobFetching         JobStatus = "fetching"
	JobExtracted        JobStatus = "extracted"
	JobDeduped          JobStatus = "deduped"
	JobEmbedded         JobStatus = "embedded"
	JobClustered        JobStatus = "clustered"
	JobSummarized       JobStatus = "summarized"
	JobScored           JobStatus = "scored"
	JobSkippedDuplicate JobStatus = "skipped_duplicate"
	JobFailed           JobStatus = "failed"
)

// FailureReason is the persisted taxonomy for failed jobs.
type FailureReason string

const (
	ReasonFetchError     FailureReason = "fetch_error"
	ReasonTimeout        FailureReason = "timeout"
	ReasonHTTP4xx        FailureReason = "http_4xx"
	ReasonHTTP5xx        FailureReason = "http_5xx"
	ReasonDomainBlocked  FailureReason = "domain_blocked"
	ReasonNoText         FailureReason = "no_text"
	ReasonTooShort       FailureReason = "too_short"
	ReasonPaywall        FailureReason = "paywall"
	ReasonJSRequired     FailureReason = "js_required"
	ReasonConsentWall    FailureReason = "consent_wall"
	ReasonParseError     FailureReason = "parse_error"
	ReasonEmbedError     FailureReason = "embed_error"
	ReasonClusterError   FailureReason = "cluster_error"
	ReasonSummarizeError FailureReason = "summarize_error"
	ReasonCancelled      FailureReason = "cancelled"
	ReasonUnknown        FailureReason = "unknown"
)

// Flashpoint is an externally managed geopolitical situation grouping
// related feed entries. Read-only to the pipeline.
type Flashpoint struct {
	ID          uuid.UUID
	Title       string
	Description string
	Domains     []string
}

// FeedEntry is one input article row from a date-partitioned
// feed_entries table. The upstream system fills the identity columns;
// the pipeline writes back the enrichment columns. A non-null Content
// is the processed marker.
type FeedEntry struct {
	ID            uuid.UUID
	FlashpointID  uuid.UUID
	URL           string
	Title         string
	Language      string
	Domain        string
	SourceCountry string
	SeenDate      time.Time

	// Enrichment columns (written by the pipeline).
	TitleEN     string
	Hostname    string
	Content     string
	Summary     string
	Entities    EntityMap
	GeoEntities []GeoEntity
	Images      []string
}

// EntityMap maps an entity class (PERSON, ORG, LOC, GPE, ...) to its
// ordered, deduplicated surface forms, plus a meta block.
type EntityMap struct {
	ByClass map[string][]Entity `json:"-"`
	Meta    EntityMeta          `json:"meta"`
}

// Entity is one surface form with its model confidence.
type Entity struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// EntityMeta records provenance of an NER pass.
type EntityMeta struct {
	Chars int     `json:"chars"`
	Model string  `json:"model"`
	Score float64 `json:"score"`
}

// GeoEntity is a resolved country mention.
type GeoEntity struct {
	Name     string  `json:"name"`
	Alpha2   string  `json:"alpha2"`
	Alpha3   string  `json:"alpha3"`
	Mentions int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

// ProcessingRun is one pipeline invocation.
type ProcessingRun struct {
	RunID       string
	TargetDate  string
	Tier        Tier
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Selected    int
	Processed   int
	Failed      int
	Error       string
	Metrics     map[string]any
}

// FeedEntryJob is the per-(run, entry) state record. The
// UNIQUE(run_id, entry_id) constraint is the idempotent claim.
type FeedEntryJob struct {
	EntryID          uuid.UUID
	RunID            string
	Status           JobStatus
	FailureReason    FailureReason
	LastError        string
	ExtractionMethod string
	ExtractionChars  int
	ContentHash      string
	IsDuplicate      bool
	DuplicateOf      uuid.UUID
	FetchMs          int
	ExtractMs        int
	EmbedMs          int
}

// ClusterOutput is the dense-ranked external view of one cluster,
// written to a date-partitioned news_clusters table.
type ClusterOutput struct {
	FlashpointID uuid.UUID
	ClusterID    int
	Summary      string
	ArticleCount int
	TopDomains   []string
	Languages    []string
	URLs         []string
	Images       []string
}
