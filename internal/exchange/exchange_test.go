package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/stretchr/testify/assert"
)

// testAdapter verifies the interfaces are well-formed and gives the
// registry tests a stand-in that needs no network access.
type testAdapter struct{}

func (t *testAdapter) FetchOHLCV(ctx context.Context, id models.Identity, period string, sinceMs int64, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (t *testAdapter) FetchFunding(ctx context.Context, id models.Identity, sinceMs int64, limit int) ([]models.FundingRate, error) {
	return nil, nil
}
func (t *testAdapter) ProbeListingDate(ctx context.Context, id models.Identity, period string) (int64, error) {
	return 0, nil
}
func (t *testAdapter) ListMarkets(ctx context.Context) ([]string, error) { return nil, nil }
func (t *testAdapter) ListSymbols(ctx context.Context, market string) ([]TradingPair, error) {
	return nil, nil
}
func (t *testAdapter) GetPairInfo(ctx context.Context, pair string) (*PairInfo, error) {
	return nil, nil
}
func (t *testAdapter) GetLimits() RateLimit                      { return RateLimit{} }
func (t *testAdapter) WaitForLimit(ctx context.Context) error    { return nil }
func (t *testAdapter) HealthCheck(ctx context.Context) error     { return nil }

func TestInterfaceCompliance(t *testing.T) {
	var _ ExchangeAdapter = (*testAdapter)(nil)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nobody")
	assert.Error(t, err)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	fake := &testAdapter{}
	r.Register("Binance", fake)

	got, err := r.Get("binance")
	assert.NoError(t, err)
	markets, err := got.ListMarkets(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, markets)
	assert.Contains(t, r.Names(), "binance")
}

func TestRateLimitStatusHelpers(t *testing.T) {
	ready := RateLimitStatus{Remaining: 0, RetryAfter: 5 * time.Second}
	assert.Positive(t, ready.RetryAfter)
}

// blockingAdapter's ListMarkets blocks until release is closed, letting the
// concurrency cap test observe exactly how many calls are in flight.
type blockingAdapter struct {
	testAdapter
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAdapter) ListMarkets(ctx context.Context) ([]string, error) {
	b.entered <- struct{}{}
	<-b.release
	return nil, nil
}

func TestRegistryEnforcesPerExchangeConcurrency(t *testing.T) {
	const limit = 2
	r := NewRegistryWithConcurrency(limit)
	fake := &blockingAdapter{entered: make(chan struct{}), release: make(chan struct{})}
	r.Register("binance", fake)
	adapter, err := r.Get("binance")
	assert.NoError(t, err)

	const callers = 5
	done := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		go func() {
			adapter.ListMarkets(context.Background())
			done <- struct{}{}
		}()
	}

	for i := 0; i < limit; i++ {
		select {
		case <-fake.entered:
		case <-time.After(time.Second):
			t.Fatalf("expected %d calls in flight, only saw %d", limit, i)
		}
	}

	select {
	case <-fake.entered:
		t.Fatal("a third call entered despite the concurrency cap of 2")
	case <-time.After(50 * time.Millisecond):
	}

	close(fake.release)
	for i := 0; i < callers-limit; i++ {
		<-fake.entered
	}
	for i := 0; i < callers; i++ {
		<-done
	}
}
