package persistence

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Date-partitioned table base names. The upstream system creates the
// input partitions; the pipeline creates the output partition.
const (
	baseFeedEntries  = "feed_entries"
	baseFlashpoints  = "flash_point"
	baseNewsClusters = "news_clusters"
)

// identRe is the whitelist for dynamic table identifiers. Values are
// always bound as parameters; identifiers can only be interpolated, so
// they must pass this check first.
var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Tables holds the resolved physical table names for one run.
type Tables struct {
	FeedEntries  string
	Flashpoints  string
	NewsClusters string
	TargetDate   string
}

// TableName builds a date-partitioned table name like
// feed_entries_20251103.
func TableName(base string, targetDate time.Time) string {
	return fmt.Sprintf("%s_%s", base, targetDate.UTC().Format("20060102"))
}

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("unsafe table identifier %q", name)
	}
	return nil
}

// ResolveTables maps a target date to the physical table names and
// verifies the input partitions exist. The output partition may not
// exist yet; EnsureClustersTable creates it.
func (db *DB) ResolveTables(ctx context.Context, targetDate time.Time) (Tables, error) {
	tables := Tables{
		FeedEntries:  TableName(baseFeedEntries, targetDate),
		Flashpoints:  TableName(baseFlashpoints, targetDate),
		NewsClusters: TableName(baseNewsClusters, targetDate),
		TargetDate:   targetDate.UTC().Format("2006-01-02"),
	}

	for _, name := range []string{tables.FeedEntries, tables.Flashpoints} {
		exists, err := db.tableExists(ctx, name)
		if err != nil {
			return Tables{}, err
		}
		if !exists {
			return Tables{}, fmt.Errorf("input table %q does not exist for date %s", name, tables.TargetDate)
		}
	}
	return tables, nil
}

func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := db.sql.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_tables
			WHERE schemaname = 'public' AND tablename = $1
		)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return exists, nil
}

// EnsureClustersTable creates the date-partitioned output table when
// missing.
func (db *DB) EnsureClustersTable(ctx context.Context, tables Tables) error {
	if err := checkIdent(tables.NewsClusters); err != nil {
		return err
	}
	_, err := db.sql.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id BIGSERIAL PRIMARY KEY,
			flashpoint_id uuid NOT NULL,
			cluster_id integer NOT NULL,
			summary text NOT NULL,
			article_count integer NOT NULL,
			top_domains jsonb DEFAULT '[]'::jsonb,
			languages jsonb DEFAULT '[]'::jsonb,
			urls jsonb DEFAULT '[]'::jsonb,
			images jsonb DEFAULT '[]'::jsonb,
			created_at timestamptz DEFAULT CURRENT_TIMESTAMP
		)`, tables.NewsClusters))
	if err != nil {
		return fmt.Errorf("ensure clusters table %q: %w", tables.NewsClusters, err)
	}
	return nil
}
