package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/johnayoung/go-ohlcv-collector/internal/layout"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

const manifestSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange      TEXT NOT NULL,
	market        TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	type          TEXT NOT NULL,
	period        TEXT NOT NULL DEFAULT '',
	path          TEXT NOT NULL UNIQUE,
	time_from     INTEGER NOT NULL,
	time_to       INTEGER NOT NULL,
	row_count     INTEGER NOT NULL,
	file_size     INTEGER NOT NULL,
	checksum      TEXT NOT NULL,
	version       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	last_modified TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_identity ON entries(exchange, symbol, market, type, period);
`

// SQLiteManifest is C4: the single-file SQLite catalog of every partition
// file, opened the same way irfanmcsd-magicklinego's pkg/db/sqlite.go opens
// its store, through database/sql with the glebarez/sqlite driver
// registered under the name "sqlite".
type SQLiteManifest struct {
	db   *sql.DB
	path string
}

// NewSQLiteManifest opens (creating if absent) the manifest database at
// path and ensures its schema exists. The catalog has a single writer
// (spec §4.4/§5: "a single writer at a time via SQLite's BEGIN IMMEDIATE"),
// so the connection pool is capped at one, the same discipline the
// teacher's duckdb.go applies to its own single-writer store.
func NewSQLiteManifest(path string) (*SQLiteManifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, NewStorageError("open", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, NewStorageError("open", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStorageError("open", path, err)
	}
	if _, err := db.Exec(manifestSchema); err != nil {
		db.Close()
		return nil, NewStorageError("migrate", path, err)
	}

	return &SQLiteManifest{db: db, path: path}, nil
}

func (m *SQLiteManifest) Close() error {
	return m.db.Close()
}

func (m *SQLiteManifest) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func entryFromRow(scan func(dest ...any) error) (ManifestEntry, error) {
	var e ManifestEntry
	var createdAt, lastModified string
	err := scan(&e.ID, &e.Exchange, &e.Market, &e.Symbol, &e.Type, &e.Period, &e.Path,
		&e.TimeFrom, &e.TimeTo, &e.RowCount, &e.FileSize, &e.Checksum, &e.Version,
		&createdAt, &lastModified)
	if err != nil {
		return ManifestEntry{}, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.LastModified, _ = time.Parse(time.RFC3339Nano, lastModified)
	return e, nil
}

const entryColumns = "id, exchange, market, symbol, type, period, path, time_from, time_to, row_count, file_size, checksum, version, created_at, last_modified"

// Upsert inserts entry or, if its path already exists, replaces every field
// except id and created_at (spec §4.2 step 6: "upsert the manifest row for
// P, keyed by path").
func (m *SQLiteManifest) Upsert(ctx context.Context, entry ManifestEntry) error {
	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastModified := now

	const stmt = `
INSERT INTO entries (exchange, market, symbol, type, period, path, time_from, time_to, row_count, file_size, checksum, version, created_at, last_modified)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	exchange = excluded.exchange,
	market = excluded.market,
	symbol = excluded.symbol,
	type = excluded.type,
	period = excluded.period,
	time_from = excluded.time_from,
	time_to = excluded.time_to,
	row_count = excluded.row_count,
	file_size = excluded.file_size,
	checksum = excluded.checksum,
	version = excluded.version,
	last_modified = excluded.last_modified
`
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return NewStorageError("upsert", entry.Path, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return NewStorageError("upsert", entry.Path, err)
	}
	_, err = conn.ExecContext(ctx, stmt,
		entry.Exchange, entry.Market, entry.Symbol, entry.Type, entry.Period, entry.Path,
		entry.TimeFrom, entry.TimeTo, entry.RowCount, entry.FileSize, entry.Checksum, entry.Version,
		createdAt.Format(time.RFC3339Nano), lastModified.Format(time.RFC3339Nano))
	if err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return NewStorageError("upsert", entry.Path, err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return NewStorageError("upsert", entry.Path, err)
	}
	return nil
}

func buildFilterClause(filter ManifestFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.ID != 0 {
		clauses = append(clauses, "id = ?")
		args = append(args, filter.ID)
	}
	if filter.Exchange != "" {
		clauses = append(clauses, "exchange = ?")
		args = append(args, filter.Exchange)
	}
	if filter.Market != "" {
		clauses = append(clauses, "market = ?")
		args = append(args, filter.Market)
	}
	if filter.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, filter.Period)
	}
	if filter.Path != "" {
		clauses = append(clauses, "path = ?")
		args = append(args, filter.Path)
	}
	if filter.HasOverlap {
		clauses = append(clauses, "time_from < ? AND time_to > ?")
		args = append(args, filter.OverlapTo, filter.OverlapFrom)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Find returns every entry matching filter, ascending by time_from.
func (m *SQLiteManifest) Find(ctx context.Context, filter ManifestFilter) ([]ManifestEntry, error) {
	where, args := buildFilterClause(filter)
	query := fmt.Sprintf("SELECT %s FROM entries %s ORDER BY time_from ASC", entryColumns, where)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("find", "", err)
	}
	defer rows.Close()

	var entries []ManifestEntry
	for rows.Next() {
		e, err := entryFromRow(rows.Scan)
		if err != nil {
			return nil, NewStorageError("find", "", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBy removes every entry matching filter and returns the removed set,
// so callers (e.g. PartitionWriter.Delete) know which files to unlink.
func (m *SQLiteManifest) DeleteBy(ctx context.Context, filter ManifestFilter) ([]ManifestEntry, error) {
	removed, err := m.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	where, args := buildFilterClause(filter)
	query := fmt.Sprintf("DELETE FROM entries %s", where)

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, NewStorageError("delete", "", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, NewStorageError("delete", "", err)
	}
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return nil, NewStorageError("delete", "", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, NewStorageError("delete", "", err)
	}
	return removed, nil
}

// LatestVersion returns the entry for id/featureSet with the lexicographically
// greatest version, ties broken by created_at descending (spec §4.4:
// "latest_version ... max version lexicographic, ties by created_at desc").
func (m *SQLiteManifest) LatestVersion(ctx context.Context, featureSet string, id models.Identity) (*ManifestEntry, error) {
	id = id.Normalize()
	const query = `
SELECT ` + entryColumns + `
FROM entries
WHERE exchange = ? AND market = ? AND symbol = ? AND type = ?
ORDER BY version DESC, created_at DESC
LIMIT 1
`
	row := m.db.QueryRowContext(ctx, query, id.Exchange, id.Market, id.Symbol, featureSet)
	e, err := entryFromRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("latest_version", "", err)
	}
	return &e, nil
}

// Reconcile walks root for files matching the partition layout and diffs
// them against the manifest, without mutating either side (spec §4.4:
// "reconcile ... does not mutate"). Orphans are on-disk files with no
// manifest row; dead links are manifest rows whose file is gone.
func (m *SQLiteManifest) Reconcile(ctx context.Context, root string) (*ReconcileReport, error) {
	onDisk := map[string]struct{}{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".parquet" {
			return nil
		}
		if _, parseErr := layout.ParsePath(root, path); parseErr != nil {
			return nil
		}
		onDisk[path] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, NewStorageError("reconcile", root, err)
	}

	entries, err := m.Find(ctx, ManifestFilter{})
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		known[e.Path] = struct{}{}
		if _, ok := onDisk[e.Path]; !ok {
			report.DeadLinks = append(report.DeadLinks, e.Path)
		}
	}
	for path := range onDisk {
		if _, ok := known[path]; !ok {
			report.Orphans = append(report.Orphans, path)
		}
	}
	return report, nil
}

// Stats summarizes the manifest for the /health surface and CLI output.
func (m *SQLiteManifest) Stats(ctx context.Context) (*StorageStats, error) {
	const query = `
SELECT
	COUNT(*),
	COALESCE(SUM(row_count), 0),
	COALESCE(SUM(file_size), 0),
	COALESCE(MIN(time_from), 0),
	COALESCE(MAX(time_to), 0)
FROM entries
`
	var stats StorageStats
	row := m.db.QueryRowContext(ctx, query)
	if err := row.Scan(&stats.TotalFiles, &stats.TotalRows, &stats.TotalSize, &stats.EarliestData, &stats.LatestData); err != nil {
		return nil, NewStorageError("stats", "", err)
	}
	return &stats, nil
}
