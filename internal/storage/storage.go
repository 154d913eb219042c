// Package storage defines the storage layer interfaces for the partitioned
// Parquet store (C2/C3) and its SQLite manifest catalog (C4), plus the
// operational concerns (health, stats) every backend exposes.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// PartitionWriter is C2: merges a batch into the day-partitions it spans,
// deduplicating on ts and rewriting each touched partition atomically.
type PartitionWriter interface {
	// Write partitions batch by UTC day and performs one merge-write per
	// day touched. Returns one WriteResult per partition written.
	Write(ctx context.Context, id models.Identity, dataType, period string, batch models.Batch) ([]WriteResult, error)

	// Delete removes every partition file matching id/dataType/period (all
	// periods if period is empty) and their manifest rows. Returns the
	// count of files removed.
	Delete(ctx context.Context, id models.Identity, dataType, period string) (int, error)
}

// PartitionReader is C3: manifest-pruned range reads over partition files.
type PartitionReader interface {
	// Read returns every record with ts in [t0,t1) for id/dataType/period,
	// in ascending ts order. An empty result is not an error.
	Read(ctx context.Context, id models.Identity, dataType, period string, t0, t1 int64) (models.Batch, error)
}

// PartitionStore combines C2 and C3: the shape the ingest pipeline and CSV
// ingestor depend on.
type PartitionStore interface {
	PartitionWriter
	PartitionReader
	HealthChecker
}

// WriteResult reports one partition write's outcome, used to populate the
// manifest row and the pipeline's per-batch logging.
type WriteResult struct {
	Path     string
	TimeFrom int64
	TimeTo   int64
	RowCount int
	FileSize int64
	Checksum string
}

// ManifestEntry is one catalog row (SPEC_FULL §6 manifest schema).
type ManifestEntry struct {
	ID           int64
	Exchange     string
	Market       string
	Symbol       string
	Type         string
	Period       string
	Path         string
	TimeFrom     int64
	TimeTo       int64
	RowCount     int64
	FileSize     int64
	Checksum     string
	Version      string
	CreatedAt    time.Time
	LastModified time.Time
}

// ManifestFilter narrows Find/DeleteBy to a subset of identity/type/period
// fields (empty string means "any") plus an optional time-range overlap.
type ManifestFilter struct {
	ID           int64
	Exchange     string
	Market       string
	Symbol       string
	Type         string
	Period       string
	Path         string
	OverlapFrom  int64
	OverlapTo    int64
	HasOverlap   bool
}

// ReconcileReport is the result of comparing the manifest to the
// filesystem (SPEC_FULL §4.4/§8 invariant 11).
type ReconcileReport struct {
	// Orphans are files under the data root that match the layout but have
	// no manifest row.
	Orphans []string
	// DeadLinks are manifest rows whose file no longer exists on disk.
	DeadLinks []string
}

// Manifest is C4: the SQLite catalog of every partition file.
type Manifest interface {
	Upsert(ctx context.Context, entry ManifestEntry) error
	Find(ctx context.Context, filter ManifestFilter) ([]ManifestEntry, error)
	DeleteBy(ctx context.Context, filter ManifestFilter) ([]ManifestEntry, error)
	LatestVersion(ctx context.Context, featureSet string, id models.Identity) (*ManifestEntry, error)
	Reconcile(ctx context.Context, root string) (*ReconcileReport, error)
	Stats(ctx context.Context) (*StorageStats, error)
	HealthChecker
	Close() error
}

// HealthChecker provides a lightweight liveness probe for a storage
// backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StorageStats summarizes the manifest's contents for the /health surface
// and CLI `init`/`verify` output.
type StorageStats struct {
	TotalRows    int64
	TotalFiles   int
	TotalSize    int64
	EarliestData int64
	LatestData   int64
}

// StorageError reports a failure at the partition or manifest layer with
// enough context to classify it (see internal/errors).
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(operation, path string, err error) *StorageError {
	return &StorageError{Operation: operation, Path: path, Err: err}
}
