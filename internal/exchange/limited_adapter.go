package exchange

import (
	"context"

	"github.com/johnayoung/go-ohlcv-collector/internal/contracts"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// DefaultExchangeConcurrency bounds how many requests the registry lets run
// concurrently against one exchange adapter (spec §5), using a
// buffered-channel semaphore, one pool per registered exchange rather than
// one global pool.
const DefaultExchangeConcurrency = 3

// limitedAdapter wraps an ExchangeAdapter with a semaphore so the registry
// never lets more than concurrency requests reach the adapter's network
// calls at once, regardless of how many supervisor workers target it.
type limitedAdapter struct {
	inner contracts.ExchangeAdapter
	sem   chan struct{}
}

func newLimitedAdapter(inner contracts.ExchangeAdapter, concurrency int) *limitedAdapter {
	if concurrency <= 0 {
		concurrency = DefaultExchangeConcurrency
	}
	return &limitedAdapter{inner: inner, sem: make(chan struct{}, concurrency)}
}

func (l *limitedAdapter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAdapter) release() {
	<-l.sem
}

func (l *limitedAdapter) FetchOHLCV(ctx context.Context, id models.Identity, period string, sinceMs int64, limit int) ([]models.Candle, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.FetchOHLCV(ctx, id, period, sinceMs, limit)
}

func (l *limitedAdapter) FetchFunding(ctx context.Context, id models.Identity, sinceMs int64, limit int) ([]models.FundingRate, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.FetchFunding(ctx, id, sinceMs, limit)
}

func (l *limitedAdapter) ProbeListingDate(ctx context.Context, id models.Identity, period string) (int64, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.inner.ProbeListingDate(ctx, id, period)
}

func (l *limitedAdapter) ListMarkets(ctx context.Context) ([]string, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.ListMarkets(ctx)
}

func (l *limitedAdapter) ListSymbols(ctx context.Context, market string) ([]contracts.TradingPair, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.ListSymbols(ctx, market)
}

func (l *limitedAdapter) GetPairInfo(ctx context.Context, pair string) (*contracts.PairInfo, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetPairInfo(ctx, pair)
}

// GetLimits and WaitForLimit bypass the semaphore: GetLimits makes no
// network call, and WaitForLimit is itself the adapter's own rate gate, not
// a request the concurrency cap needs to bound.
func (l *limitedAdapter) GetLimits() contracts.RateLimit {
	return l.inner.GetLimits()
}

func (l *limitedAdapter) WaitForLimit(ctx context.Context) error {
	return l.inner.WaitForLimit(ctx)
}

func (l *limitedAdapter) HealthCheck(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return l.inner.HealthCheck(ctx)
}
