// Exchange adapter interface contracts for OHLCV and funding-rate ingestion.
package contracts

import (
	"context"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// CandleFetcher retrieves OHLCV candle history from one exchange.
type CandleFetcher interface {
	// FetchOHLCV returns at most limit candles with Ts >= sinceMs, ordered
	// ascending by Ts. limit <= 0 means use the adapter's default page size.
	FetchOHLCV(ctx context.Context, id models.Identity, period string, sinceMs int64, limit int) ([]models.Candle, error)
}

// FundingFetcher retrieves funding-rate history from one exchange. Only
// meaningful for derivative markets (models.IsDerivative).
type FundingFetcher interface {
	FetchFunding(ctx context.Context, id models.Identity, sinceMs int64, limit int) ([]models.FundingRate, error)
}

// ListingProber finds the earliest timestamp an exchange will serve data
// for, by binary search. Implementations should cache the result per
// identity since the search itself issues several requests.
type ListingProber interface {
	ProbeListingDate(ctx context.Context, id models.Identity, period string) (int64, error)
}

// PairProvider manages trading pair and market discovery metadata.
type PairProvider interface {
	ListMarkets(ctx context.Context) ([]string, error)
	ListSymbols(ctx context.Context, market string) ([]TradingPair, error)
	GetPairInfo(ctx context.Context, pair string) (*PairInfo, error)
}

// RateLimitInfo exposes the adapter's current rate-limit budget.
type RateLimitInfo interface {
	GetLimits() RateLimit
	WaitForLimit(ctx context.Context) error
}

// ExchangeAdapter combines all exchange capabilities C5 requires; one
// implementation per exchange is registered under its name in the C5
// registry.
type ExchangeAdapter interface {
	CandleFetcher
	FundingFetcher
	ListingProber
	PairProvider
	RateLimitInfo
	HealthChecker
}

type TradingPair struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Market     string
	Active     bool
}

type PairInfo struct {
	TradingPair
	LastPrice   string
	Volume24h   string
	PriceChange string
	UpdatedAt   time.Time
}

type RateLimit struct {
	RequestsPerSecond int
	BurstSize         int
	WindowDuration    time.Duration
}

type RateLimitStatus struct {
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
