package models

import "sort"

// Record is one row of a stored partition: a required millisecond UTC
// timestamp plus a dynamic set of named numeric columns. The writer and
// reader operate exclusively on Record so the Parquet-backed codec never
// leaks into the public API — see candle.go and funding.go for the typed
// views callers actually construct.
type Record struct {
	Ts     int64
	Fields map[string]float64
	// Extra carries non-numeric columns (e.g. exchange-specific funding
	// metadata) that must round-trip verbatim but never participate in
	// OHLCV validation or arithmetic.
	Extra map[string]string
}

// Batch is an ordered sequence of Records. Ordering is not assumed by
// callers constructing a Batch; MergeSortDedup establishes it.
type Batch []Record

// ColumnUnion returns the union of every numeric field name present across
// the batch, used by the writer to build the union schema (spec §4.2:
// "the writer never drops columns").
func (b Batch) ColumnUnion() []string {
	seen := map[string]struct{}{}
	for _, r := range b {
		for k := range r.Fields {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// MergeSortDedup unions two batches, keeps the latest record for any
// duplicate timestamp (latest = last in arrival order, i.e. from b), and
// sorts the result ascending by ts. This is the deterministic core of the
// writer's per-partition UPSERT (spec §4.2 step 3) and is also what makes
// write(B);write(B) idempotent (spec §8.5).
func MergeSortDedup(existing, incoming Batch) Batch {
	byTs := make(map[int64]Record, len(existing)+len(incoming))
	order := make([]int64, 0, len(existing)+len(incoming))
	for _, r := range existing {
		if _, ok := byTs[r.Ts]; !ok {
			order = append(order, r.Ts)
		}
		byTs[r.Ts] = r
	}
	for _, r := range incoming {
		if _, ok := byTs[r.Ts]; !ok {
			order = append(order, r.Ts)
		}
		byTs[r.Ts] = r
	}

	out := make(Batch, 0, len(byTs))
	for _, ts := range order {
		out = append(out, byTs[ts])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out
}

// TimeRange returns the minimum and maximum ts in the batch. Callers must
// check len(b) > 0 first; TimeRange of an empty batch returns zero values.
func (b Batch) TimeRange() (min, max int64) {
	if len(b) == 0 {
		return 0, 0
	}
	min, max = b[0].Ts, b[0].Ts
	for _, r := range b[1:] {
		if r.Ts < min {
			min = r.Ts
		}
		if r.Ts > max {
			max = r.Ts
		}
	}
	return min, max
}

// IsSortedByTs reports whether the batch is already in strictly increasing
// ts order, the post-write integrity property required by spec §4.2 step 7
// and §8 invariant 3.
func (b Batch) IsSortedByTs() bool {
	for i := 1; i < len(b); i++ {
		if b[i].Ts <= b[i-1].Ts {
			return false
		}
	}
	return true
}

// SplitByUTCDay partitions a batch into one sub-batch per UTC calendar day,
// keyed by the day's Unix-ms floor (floor(ts/86_400_000)*86_400_000), per
// spec §3 "Day partitioning uses floor(ts/86_400_000)".
func SplitByUTCDay(b Batch) map[int64]Batch {
	const dayMs = 86_400_000
	out := make(map[int64]Batch)
	for _, r := range b {
		day := (r.Ts / dayMs) * dayMs
		if r.Ts < 0 && r.Ts%dayMs != 0 {
			day -= dayMs
		}
		out[day] = append(out[day], r)
	}
	return out
}
