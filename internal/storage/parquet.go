package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-ohlcv-collector/internal/layout"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// ParquetStore is C2/C3: the partitioned columnar store. DuckDB is used
// purely as a Parquet codec (COPY ... TO / read_parquet), the same way the
// teacher's duckdb.go opens a single-writer *sql.DB, except the table
// DuckDB sees is a disposable staging table per write rather than a
// long-lived candles table.
type ParquetStore struct {
	root     string
	manifest Manifest
	db       *sql.DB
	logger   *slog.Logger
	locks    keyedMutex
}

// NewParquetStore opens a ParquetStore rooted at root, backed by manifest
// for catalog lookups. DuckDB's connection pool is capped at one, per the
// "single writer" discipline the teacher applies to its own DuckDB handle.
func NewParquetStore(root string, manifest Manifest, logger *slog.Logger) (*ParquetStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, NewStorageError("open", root, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, NewStorageError("open", root, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec("INSTALL parquet; LOAD parquet;"); err != nil {
		db.Close()
		return nil, NewStorageError("open", root, err)
	}

	return &ParquetStore{
		root:     root,
		manifest: manifest,
		db:       db,
		logger:   logger,
		locks:    newKeyedMutex(),
	}, nil
}

func (p *ParquetStore) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *ParquetStore) Close() error {
	return p.db.Close()
}

// keyedMutex is the "process-local mutex keyed by P" advisory lock the
// writer takes per partition path before touching it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Write partitions batch by UTC day and runs the per-partition
// write-merge-dedup-sort algorithm once per day touched (spec §4.2).
func (p *ParquetStore) Write(ctx context.Context, id models.Identity, dataType, period string, batch models.Batch) ([]WriteResult, error) {
	id = id.Normalize()
	byDay := models.SplitByUTCDay(batch)

	days := make([]int64, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	results := make([]WriteResult, 0, len(days))
	for _, day := range days {
		result, err := p.writePartition(ctx, id, dataType, period, day, byDay[day])
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (p *ParquetStore) writePartition(ctx context.Context, id models.Identity, dataType, period string, day int64, incoming models.Batch) (WriteResult, error) {
	path := layout.PartitionPath(p.root, id, dataType, period, day)

	unlock := p.locks.Lock(path)
	defer unlock()

	existing, err := p.readExisting(ctx, path)
	if err != nil {
		return WriteResult{}, err
	}

	merged := models.MergeSortDedup(existing, incoming)
	if len(merged) == 0 {
		return WriteResult{}, nil
	}
	if !batchHasTs(merged) {
		return WriteResult{}, NewStorageError("write", path, fmt.Errorf("SchemaMismatch: ts missing"))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteResult{}, NewStorageError("write", path, err)
	}
	tmpPath := path + ".tmp." + uuid.NewString()

	if err := p.writeParquetFile(ctx, tmpPath, merged); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, NewStorageError("write", path, err)
	}

	if err := fsyncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, NewStorageError("write", path, err)
	}
	if err := fsyncDir(filepath.Dir(path)); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, NewStorageError("write", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, NewStorageError("write", path, err)
	}

	checksum, size, err := checksumAndSize(path)
	if err != nil {
		return WriteResult{}, NewStorageError("write", path, err)
	}
	timeFrom, timeTo := merged.TimeRange()
	result := WriteResult{
		Path:     path,
		TimeFrom: timeFrom,
		TimeTo:   timeTo + 1,
		RowCount: len(merged),
		FileSize: size,
		Checksum: checksum,
	}

	if err := p.manifest.Upsert(ctx, ManifestEntry{
		Exchange: id.Exchange, Market: id.Market, Symbol: id.Symbol,
		Type: dataType, Period: period, Path: path,
		TimeFrom: result.TimeFrom, TimeTo: result.TimeTo,
		RowCount: int64(result.RowCount), FileSize: result.FileSize,
		Checksum: result.Checksum,
	}); err != nil {
		return WriteResult{}, err
	}

	if err := p.verifyPostCondition(ctx, path, len(merged)); err != nil {
		p.manifest.DeleteBy(ctx, ManifestFilter{Path: path})
		os.Remove(path)
		return WriteResult{}, NewStorageError("write", path, fmt.Errorf("DataIntegrity: %w", err))
	}

	return result, nil
}

func batchHasTs(b models.Batch) bool {
	for _, r := range b {
		if r.Ts == 0 && len(r.Fields) == 0 && len(r.Extra) == 0 {
			return false
		}
	}
	return true
}

// readExisting opens path if present. An unreadable existing file is
// quarantined to P.corrupt.<ts> and treated as an empty partition (spec
// §4.2 CorruptExisting).
func (p *ParquetStore) readExisting(ctx context.Context, path string) (models.Batch, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	batch, err := p.readParquetFile(ctx, path)
	if err != nil {
		quarantine := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UTC().UnixMilli())
		p.logger.Error("quarantining unreadable partition", "path", path, "quarantine", quarantine, "error", err)
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			return nil, NewStorageError("read", path, renameErr)
		}
		return nil, nil
	}
	return batch, nil
}

func (p *ParquetStore) verifyPostCondition(ctx context.Context, path string, wantRows int) error {
	batch, err := p.readParquetFile(ctx, path)
	if err != nil {
		return fmt.Errorf("reopen failed: %w", err)
	}
	if len(batch) != wantRows {
		return fmt.Errorf("row count mismatch: wrote %d, read back %d", wantRows, len(batch))
	}
	if !batch.IsSortedByTs() {
		return fmt.Errorf("ts is not strictly monotonic")
	}
	return nil
}

// Delete removes every partition file matching id/dataType/period and
// their manifest rows.
func (p *ParquetStore) Delete(ctx context.Context, id models.Identity, dataType, period string) (int, error) {
	id = id.Normalize()
	filter := ManifestFilter{Exchange: id.Exchange, Market: id.Market, Symbol: id.Symbol, Type: dataType, Period: period}
	removed, err := p.manifest.DeleteBy(ctx, filter)
	if err != nil {
		return 0, err
	}
	for _, entry := range removed {
		unlock := p.locks.Lock(entry.Path)
		os.Remove(entry.Path)
		unlock()
	}
	return len(removed), nil
}

// Read returns every record with ts in [t0,t1) for id/dataType/period, in
// ascending ts order, per spec §4.3.
func (p *ParquetStore) Read(ctx context.Context, id models.Identity, dataType, period string, t0, t1 int64) (models.Batch, error) {
	id = id.Normalize()
	entries, err := p.manifest.Find(ctx, ManifestFilter{
		Exchange: id.Exchange, Market: id.Market, Symbol: id.Symbol, Type: dataType, Period: period,
		OverlapFrom: t0, OverlapTo: t1, HasOverlap: true,
	})
	if err != nil {
		return nil, err
	}

	var out models.Batch
	for _, entry := range entries {
		if _, statErr := os.Stat(entry.Path); os.IsNotExist(statErr) {
			p.logger.Error("manifest entry missing on disk; skipping until reconcile repairs it", "path", entry.Path)
			continue
		}
		batch, err := p.readParquetFile(ctx, entry.Path)
		if err != nil {
			p.logger.Error("failed to read partition, skipping", "path", entry.Path, "error", err)
			continue
		}
		for _, r := range batch {
			if r.Ts >= t0 && r.Ts < t1 {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func fsyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func checksumAndSize(path string) (checksum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
