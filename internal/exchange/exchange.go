// Package exchange implements concrete ExchangeAdapter registrations (C5):
// one adapter per supported exchange plus the registry that dispatches to
// them by identity. The adapter contract itself lives in
// internal/contracts so that both this package and the ingest pipeline
// depend on the same interface without an import cycle.
package exchange

import (
	"github.com/johnayoung/go-ohlcv-collector/internal/contracts"
)

// Re-exported so adapter files in this package can refer to the short
// names without importing contracts directly in every file.
type (
	TradingPair     = contracts.TradingPair
	PairInfo        = contracts.PairInfo
	RateLimit       = contracts.RateLimit
	RateLimitStatus = contracts.RateLimitStatus
	ExchangeAdapter = contracts.ExchangeAdapter
)

// ValidationError reports a malformed request parameter to an adapter
// method, distinct from a remote/API error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error for field " + e.Field + ": " + e.Message
}
