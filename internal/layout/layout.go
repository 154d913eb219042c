// Package layout computes the deterministic filesystem path for a stored
// partition file and its inverse. It performs no I/O: the writer (C2) and
// reader (C3) are the only callers that touch disk, and both call through
// this package so that path construction is decided in exactly one place.
package layout

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// DayMs is the length of one UTC calendar day in milliseconds, the unit
// partitioning is computed in.
const DayMs = 86_400_000

// PartitionPath returns the absolute path of the partition file covering
// the UTC day that dayStartMs (a value already floored to a day boundary)
// falls in:
//
//	root/EXCHANGE/MARKET/SYMBOL/TYPE/PERIOD/YYYY/MM/DD/SYMBOL_PERIOD_YYYYMMDD.parquet
//
// period may be empty (e.g. funding data has no candle period); when empty
// the PERIOD path segment and the filename's period component are omitted.
func PartitionPath(root string, id models.Identity, dataType, period string, dayStartMs int64) string {
	id = id.Normalize()
	day := time.UnixMilli(dayStartMs).UTC()
	yyyy := day.Format("2006")
	mm := day.Format("01")
	dd := day.Format("02")
	yyyymmdd := day.Format("20060102")

	dataType = strings.ToUpper(dataType)

	segments := []string{root, id.Exchange, id.Market, id.Symbol, dataType}
	fileName := id.Symbol
	if period != "" {
		segments = append(segments, period)
		fileName += "_" + period
	}
	segments = append(segments, yyyy, mm, dd)
	fileName += "_" + yyyymmdd + ".parquet"

	return filepath.Join(append(segments, fileName)...)
}

// DayStart floors a millisecond timestamp to its UTC day boundary.
func DayStart(ts int64) int64 {
	if ts < 0 {
		// Integer division truncates toward zero; floor negative values
		// down to the previous boundary instead.
		return ((ts - (DayMs - 1)) / DayMs) * DayMs
	}
	return (ts / DayMs) * DayMs
}

// ParsedPath is the result of inverting PartitionPath: the identity and
// partitioning coordinates recovered from an on-disk path.
type ParsedPath struct {
	Identity   models.Identity
	DataType   string
	Period     string
	DayStartMs int64
}

// ParsePath attempts to recover identity and partitioning info from a path
// produced by PartitionPath, relative to root. Used by reconcile (C4) when
// walking the filesystem to find orphaned files the manifest doesn't know
// about.
func ParsePath(root, path string) (ParsedPath, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ParsedPath{}, fmt.Errorf("layout: %q is not under root %q: %w", path, root, err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	// With period: EXCHANGE/MARKET/SYMBOL/TYPE/PERIOD/YYYY/MM/DD/file
	// Without:      EXCHANGE/MARKET/SYMBOL/TYPE/YYYY/MM/DD/file
	var exchange, market, symbol, dataType, period, yyyy, mm, dd string
	switch len(parts) {
	case 9:
		exchange, market, symbol, dataType, period, yyyy, mm, dd = parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6], parts[7]
	case 8:
		exchange, market, symbol, dataType, yyyy, mm, dd = parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6]
	default:
		return ParsedPath{}, fmt.Errorf("layout: %q does not match the partition layout (got %d segments)", rel, len(parts))
	}

	day, err := time.Parse("2006-01-02", fmt.Sprintf("%s-%s-%s", yyyy, mm, dd))
	if err != nil {
		return ParsedPath{}, fmt.Errorf("layout: invalid date segment in %q: %w", rel, err)
	}

	return ParsedPath{
		Identity: models.Identity{
			Exchange: exchange,
			Market:   market,
			Symbol:   symbol,
		},
		DataType:   strings.ToUpper(dataType),
		Period:     period,
		DayStartMs: day.UTC().UnixMilli(),
	}, nil
}

// DayRange returns the inclusive start and exclusive end millisecond bounds
// of the UTC day identified by dayStartMs, for use in manifest time-range
// queries.
func DayRange(dayStartMs int64) (start, end int64) {
	return dayStartMs, dayStartMs + DayMs
}

// FormatVersion renders an integer feature version as the zero-padded
// string form used when an explicit version string wasn't supplied by the
// caller; lexicographic comparison of this form matches numeric order up
// to 9999.
func FormatVersion(n int) string {
	s := strconv.FormatInt(int64(n), 10)
	if len(s) < 4 {
		s = strings.Repeat("0", 4-len(s)) + s
	}
	return s
}
