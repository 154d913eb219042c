package models

import "fmt"

// GapKind distinguishes a missing span (Gap) from a span with duplicate or
// out-of-order overlap (Overlap); the ingest pipeline logs both but only
// Gap implies missing data.
type GapKind string

const (
	GapKindMissing GapKind = "gap"
	GapKindOverlap GapKind = "overlap"
)

// Gap is a continuity-check finding: the pipeline expected the next batch
// to start at PrevLastTs + ExpectedStepMs and it didn't. Unlike the
// original lifecycle model this carries no persisted state machine — the
// manifest has no gaps table, continuity findings are log events emitted
// during ingest (step 3d) and surfaced again by the integrity auditor
// (C9), not tracked across runs.
type Gap struct {
	Kind           GapKind `json:"kind"`
	Key            string  `json:"key"`
	PrevLastTs     int64   `json:"prev_last_ts"`
	NextFirstTs    int64   `json:"next_first_ts"`
	ExpectedStepMs int64   `json:"expected_step_ms"`
}

// DeltaMs returns how far the distance between the two timestamps the
// pipeline compared deviates from the expected step, negative for an overlap.
func (g Gap) DeltaMs() int64 {
	return g.NextFirstTs - g.PrevLastTs - g.ExpectedStepMs
}

// String renders the finding for log output.
func (g Gap) String() string {
	return fmt.Sprintf("%s{key=%s prev_last_ts=%d next_first_ts=%d expected_step_ms=%d delta_ms=%d}",
		g.Kind, g.Key, g.PrevLastTs, g.NextFirstTs, g.ExpectedStepMs, g.DeltaMs())
}

// DetectGap compares the last timestamp of the previous batch against the
// first timestamp of the next batch and reports a Gap/Overlap finding, or
// ok=false if the two are contiguous within the expected step.
func DetectGap(key string, prevLastTs, nextFirstTs, expectedStepMs int64) (Gap, bool) {
	actual := nextFirstTs - prevLastTs
	if actual == expectedStepMs {
		return Gap{}, false
	}
	kind := GapKindMissing
	if actual < expectedStepMs {
		kind = GapKindOverlap
	}
	return Gap{
		Kind:           kind,
		Key:            key,
		PrevLastTs:     prevLastTs,
		NextFirstTs:    nextFirstTs,
		ExpectedStepMs: expectedStepMs,
	}, true
}
