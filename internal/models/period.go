package models

import (
	"fmt"
	"strconv"
	"strings"
)

// PeriodMs converts a candle period string ("1m", "15m", "1h", "1d", ...)
// to its length in milliseconds, the unit the ingest pipeline's continuity
// check (SPEC_FULL §4.6 step 3d) compares batch timestamps against. It
// returns milliseconds directly since Record.Ts is already millisecond epoch.
func PeriodMs(period string) (int64, error) {
	switch period {
	case "1m":
		return 60_000, nil
	case "5m":
		return 5 * 60_000, nil
	case "15m":
		return 15 * 60_000, nil
	case "30m":
		return 30 * 60_000, nil
	case "1h":
		return 3_600_000, nil
	case "4h":
		return 4 * 3_600_000, nil
	case "8h":
		return 8 * 3_600_000, nil
	case "12h":
		return 12 * 3_600_000, nil
	case "1d":
		return 86_400_000, nil
	case "1w":
		return 7 * 86_400_000, nil
	}

	if len(period) < 2 {
		return 0, fmt.Errorf("models: invalid period %q", period)
	}
	unit := period[len(period)-1:]
	value, err := strconv.Atoi(strings.TrimSuffix(period, unit))
	if err != nil {
		return 0, fmt.Errorf("models: invalid period %q: %w", period, err)
	}

	switch unit {
	case "m":
		return int64(value) * 60_000, nil
	case "h":
		return int64(value) * 3_600_000, nil
	case "d":
		return int64(value) * 86_400_000, nil
	default:
		return 0, fmt.Errorf("models: unsupported period unit %q in %q", unit, period)
	}
}
