// Package persistence provides the Postgres storage layer: run and job
// sidecar tables, enrichment write-back to date-partitioned input
// tables, the pgvector store, and cluster output rows.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// DB wraps the connection pool and exposes the repositories.
type DB struct {
	sql *sql.DB

	runs     *RunRepo
	entries  *EntryRepo
	jobs     *JobRepo
	vectors  *VectorRepo
	clusters *ClusterRepo
}

// Open connects to Postgres and configures the pool.
func Open(dsn string, maxOpen, maxIdle int) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if maxOpen <= 0 {
		maxOpen = 20
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{sql: sqlDB}
	db.runs = &RunRepo{db: sqlDB}
	db.entries = &EntryRepo{db: sqlDB}
	db.jobs = &JobRepo{db: sqlDB}
	db.vectors = &VectorRepo{db: sqlDB}
	db.clusters = &ClusterRepo{db: sqlDB}
	return db, nil
}

// Runs returns the processing-run repository.
func (db *DB) Runs() *RunRepo { return db.runs }

// Entries returns the feed-entry repository.
func (db *DB) Entries() *EntryRepo { return db.entries }

// Jobs returns the job repository.
func (db *DB) Jobs() *JobRepo { return db.jobs }

// Vectors returns the vector repository.
func (db *DB) Vectors() *VectorRepo { return db.vectors }

// Clusters returns the cluster repository.
func (db *DB) Clusters() *ClusterRepo { return db.clusters }

// Close closes the pool.
func (db *DB) Close() error { return db.sql.Close() }

// Ping verifies connectivity.
func (db *DB) Ping(ctx context.Context) error { return db.sql.PingContext(ctx) }

// formatVector renders a []float64 as a pgvector literal:
// [0.1,0.2,...]. The vector column is typed, so the literal is cast
// server-side.
func formatVector(embedding []float64) string {
	var b strings.Builder
	b.WriteString("[")
	for i, val := range embedding {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%f", val)
	}
	b.WriteString("]")
	return b.String()
}

// parseVector parses a pgvector text literal back into a []float64.
func parseVector(literal string) ([]float64, error) {
	literal = strings.TrimSpace(literal)
	literal = strings.TrimPrefix(literal, "[")
	literal = strings.TrimSuffix(literal, "]")
	if literal == "" {
		return nil, nil
	}
	parts := strings.Split(literal, ",")
	out := make([]float64, len(parts))
	for i, part := range parts {
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &v); err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
