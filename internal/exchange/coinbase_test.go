package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	btcUSD       = "BTC-USD"
	testPeriod   = "1h"
	testTsMillis = int64(1640995200000) // 2022-01-01 00:00:00 UTC
)

var validCandlesResponse = struct {
	Candles []coinbaseCandle `json:"candles"`
}{
	Candles: []coinbaseCandle{
		{Start: testTsMillis / 1000, Open: "47000.00", High: "47500.00", Low: "46500.00", Close: "47200.00", Volume: "1.23456789"},
		{Start: testTsMillis/1000 + 3600, Open: "47200.00", High: "47800.00", Low: "47000.00", Close: "47600.00", Volume: "2.34567890"},
	},
}

var validProductsResponse = struct {
	Products []coinbaseProduct `json:"products"`
}{
	Products: []coinbaseProduct{
		{ProductID: "BTC-USD", BaseCurrencyID: "BTC", QuoteCurrencyID: "USD", TradingDisabled: false},
		{ProductID: "ETH-USD", BaseCurrencyID: "ETH", QuoteCurrencyID: "USD", TradingDisabled: false},
	},
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockServer(responses map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := responses[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))
}

func testIdentity() models.Identity {
	return models.Identity{Exchange: "coinbase", Market: "spot", Symbol: btcUSD}
}

func TestNewCoinbaseAdapter(t *testing.T) {
	adapter := NewCoinbaseAdapter()

	assert.NotNil(t, adapter.httpClient)
	assert.NotNil(t, adapter.rateLimiter)
	assert.Equal(t, coinbaseBaseURL, adapter.baseURL)
	assert.Equal(t, 5*time.Minute, adapter.pairCacheTTL)
}

func TestNewCoinbaseAdapterWithLogger(t *testing.T) {
	logger := testLogger()
	adapter := NewCoinbaseAdapterWithLogger(logger)
	assert.Equal(t, logger, adapter.logger)
}

func TestCoinbaseAdapter_FetchOHLCV(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches candles successfully", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				query := r.URL.Query()
				assert.NotEmpty(t, query.Get("start"))
				assert.NotEmpty(t, query.Get("end"))
				assert.Equal(t, "3600", query.Get("granularity"))
				json.NewEncoder(w).Encode(validCandlesResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		candles, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)

		require.NoError(t, err)
		require.Len(t, candles, 2)
		assert.Equal(t, testTsMillis, candles[0].Ts)
		assert.Equal(t, "47000", candles[0].Open.String())
		assert.Equal(t, testPeriod, candles[0].Interval)
	})

	t.Run("rejects unsupported period", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		_, err := adapter.FetchOHLCV(ctx, testIdentity(), "30s", testTsMillis, 10)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported period")
	})

	t.Run("returns empty slice when sinceMs is in the future", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		future := time.Now().Add(24 * time.Hour).UnixMilli()
		candles, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, future, 10)
		require.NoError(t, err)
		assert.Empty(t, candles)
	})

	t.Run("skips candles that fail decimal conversion", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(struct {
					Candles []coinbaseCandle `json:"candles"`
				}{
					Candles: []coinbaseCandle{
						{Start: testTsMillis / 1000, Open: "not-a-number", High: "1", Low: "1", Close: "1", Volume: "1"},
						{Start: testTsMillis/1000 + 3600, Open: "1", High: "1", Low: "1", Close: "1", Volume: "1"},
					},
				})
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		candles, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)
		require.NoError(t, err)
		assert.Len(t, candles, 1)
	})

	t.Run("handles rate limiting with retry", func(t *testing.T) {
		callCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				callCount++
				if callCount == 1 {
					w.Header().Set("Retry-After", "1")
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				json.NewEncoder(w).Encode(validCandlesResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		start := time.Now()
		candles, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.NotEmpty(t, candles)
		assert.GreaterOrEqual(t, elapsed, time.Second)
		assert.Equal(t, 2, callCount)
	})

	t.Run("gives up on the 6th consecutive rate-limit response", func(t *testing.T) {
		callCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				callCount++
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		_, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited after 6 consecutive attempts")
		assert.Equal(t, 6, callCount)
	})

	t.Run("classifies HTTP 418 as a permanent ban", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		_, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "banned")
	})

	t.Run("retries server errors then succeeds", func(t *testing.T) {
		callCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				callCount++
				if callCount <= 2 {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				json.NewEncoder(w).Encode(validCandlesResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		candles, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, candles)
		assert.Equal(t, 3, callCount)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		_, err := adapter.FetchOHLCV(ctx, testIdentity(), testPeriod, testTsMillis, 10)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "client error")
	})

	t.Run("propagates context cancellation", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(100 * time.Millisecond)
				json.NewEncoder(w).Encode(validCandlesResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := adapter.FetchOHLCV(cctx, testIdentity(), testPeriod, testTsMillis, 10)
		assert.Error(t, err)
	})
}

func TestCoinbaseAdapter_FetchFunding(t *testing.T) {
	adapter := NewCoinbaseAdapterWithLogger(testLogger())
	_, err := adapter.FetchFunding(context.Background(), testIdentity(), testTsMillis, 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "funding")
}

func TestCoinbaseAdapter_ProbeListingDate(t *testing.T) {
	ctx := context.Background()

	t.Run("narrows to the earliest non-empty window", func(t *testing.T) {
		var listingTs int64 = time.Now().AddDate(-3, 0, 0).UnixMilli()

		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				startSec := r.URL.Query().Get("start")
				var s int64
				fmt.Sscanf(startSec, "%d", &s)
				if s*1000 >= listingTs {
					json.NewEncoder(w).Encode(validCandlesResponse)
				} else {
					json.NewEncoder(w).Encode(struct {
						Candles []coinbaseCandle `json:"candles"`
					}{})
				}
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		result, err := adapter.ProbeListingDate(ctx, testIdentity(), testPeriod)
		require.NoError(t, err)
		assert.InDelta(t, listingTs, result, float64(2*time.Hour.Milliseconds()))
	})

	t.Run("rejects unsupported period", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		_, err := adapter.ProbeListingDate(ctx, testIdentity(), "bogus")
		assert.Error(t, err)
	})

	t.Run("caches the result per identity, skipping the search on a repeat call", func(t *testing.T) {
		requestCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			fmt.Sprintf("/api/v3/brokerage/products/%s/candles", btcUSD): func(w http.ResponseWriter, r *http.Request) {
				requestCount++
				json.NewEncoder(w).Encode(validCandlesResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		first, err := adapter.ProbeListingDate(ctx, testIdentity(), testPeriod)
		require.NoError(t, err)
		afterFirst := requestCount
		require.Positive(t, afterFirst)

		second, err := adapter.ProbeListingDate(ctx, testIdentity(), testPeriod)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, afterFirst, requestCount)
	})
}

func TestCoinbaseAdapter_ListMarkets(t *testing.T) {
	adapter := NewCoinbaseAdapterWithLogger(testLogger())
	markets, err := adapter.ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"spot"}, markets)
}

func TestCoinbaseAdapter_ListSymbols(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches trading pairs successfully", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		pairs, err := adapter.ListSymbols(ctx, "spot")
		require.NoError(t, err)
		assert.Len(t, pairs, 2)
	})

	t.Run("uses cached data within TTL", func(t *testing.T) {
		callCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				callCount++
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		_, err := adapter.ListSymbols(ctx, "spot")
		require.NoError(t, err)
		_, err = adapter.ListSymbols(ctx, "spot")
		require.NoError(t, err)
		assert.Equal(t, 1, callCount)
	})

	t.Run("refreshes after TTL expires", func(t *testing.T) {
		callCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				callCount++
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL
		adapter.pairCacheTTL = 10 * time.Millisecond

		_, err := adapter.ListSymbols(ctx, "spot")
		require.NoError(t, err)
		time.Sleep(30 * time.Millisecond)
		_, err = adapter.ListSymbols(ctx, "spot")
		require.NoError(t, err)
		assert.Equal(t, 2, callCount)
	})
}

func TestCoinbaseAdapter_GetPairInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("returns cached pair info", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		_, err := adapter.ListSymbols(ctx, "spot")
		require.NoError(t, err)

		info, err := adapter.GetPairInfo(ctx, btcUSD)
		require.NoError(t, err)
		assert.Equal(t, btcUSD, info.Symbol)
		assert.Equal(t, "BTC", info.BaseAsset)
	})

	t.Run("refreshes cache when pair not found", func(t *testing.T) {
		callCount := 0
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				callCount++
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		info, err := adapter.GetPairInfo(ctx, btcUSD)
		require.NoError(t, err)
		assert.NotNil(t, info)
		assert.Equal(t, 1, callCount)
	})

	t.Run("errors for a nonexistent pair", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		_, err := adapter.GetPairInfo(ctx, "NONEXISTENT-PAIR")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestCoinbaseAdapter_RateLimit(t *testing.T) {
	t.Run("GetLimits returns the configured budget", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		limits := adapter.GetLimits()
		assert.Equal(t, maxRequestsPerSecond, limits.RequestsPerSecond)
		assert.Equal(t, rateLimitBurst, limits.BurstSize)
		assert.Equal(t, rateLimitWindow, limits.WindowDuration)
	})

	t.Run("WaitForLimit blocks once burst is exhausted", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.rateLimiter = rate.NewLimiter(1, 1)

		ctx := context.Background()
		require.NoError(t, adapter.WaitForLimit(ctx))

		start := time.Now()
		require.NoError(t, adapter.WaitForLimit(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	})

	t.Run("WaitForLimit respects context cancellation", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.rateLimiter = rate.NewLimiter(0.1, 1)
		adapter.rateLimiter.Wait(context.Background())

		cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := adapter.WaitForLimit(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestCoinbaseAdapter_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("passes when the API is healthy", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "1", r.URL.Query().Get("limit"))
				json.NewEncoder(w).Encode(validProductsResponse)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		assert.NoError(t, adapter.HealthCheck(ctx))
	})

	t.Run("fails on server error", func(t *testing.T) {
		server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			productsEndpoint: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		})
		defer server.Close()

		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = server.URL

		err := adapter.HealthCheck(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "health check failed")
	})

	t.Run("fails when the host is unreachable", func(t *testing.T) {
		adapter := NewCoinbaseAdapterWithLogger(testLogger())
		adapter.baseURL = "http://127.0.0.1:1"

		err := adapter.HealthCheck(ctx)
		assert.Error(t, err)
	})
}

func TestCoinbaseAdapter_IntervalConversion(t *testing.T) {
	adapter := NewCoinbaseAdapterWithLogger(testLogger())

	cases := []struct {
		period   string
		expected int
		hasError bool
	}{
		{"1m", 60, false},
		{"5min", 300, false},
		{"15m", 900, false},
		{"1h", 3600, false},
		{"6hour", 21600, false},
		{"1d", 86400, false},
		{"30s", 0, true},
		{"", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.period, func(t *testing.T) {
			got, err := adapter.convertInterval(tc.period)
			if tc.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestCoinbaseAdapter_CandleConversion(t *testing.T) {
	adapter := NewCoinbaseAdapterWithLogger(testLogger())

	t.Run("converts a valid candle", func(t *testing.T) {
		raw := coinbaseCandle{Start: testTsMillis / 1000, Open: "47000.00", High: "47500.00", Low: "46500.00", Close: "47200.00", Volume: "1.23456789"}
		candle, err := adapter.convertCandleToModel(raw, testPeriod)
		require.NoError(t, err)
		assert.Equal(t, testTsMillis, candle.Ts)
		assert.Equal(t, testPeriod, candle.Interval)
		assert.Equal(t, "47000", candle.Open.String())
	})

	t.Run("rejects unparseable prices", func(t *testing.T) {
		raw := coinbaseCandle{Start: testTsMillis / 1000, Open: "garbage", High: "1", Low: "1", Close: "1", Volume: "1"}
		_, err := adapter.convertCandleToModel(raw, testPeriod)
		assert.Error(t, err)
	})
}

func TestCoinbaseAdapter_ProductConversion(t *testing.T) {
	adapter := NewCoinbaseAdapterWithLogger(testLogger())

	t.Run("converts a standard product", func(t *testing.T) {
		pair := adapter.convertProductToTradingPair(coinbaseProduct{
			ProductID: "BTC-USD", BaseCurrencyID: "BTC", QuoteCurrencyID: "USD", TradingDisabled: false,
		})
		assert.Equal(t, "BTC-USD", pair.Symbol)
		assert.Equal(t, "BTC", pair.BaseAsset)
		assert.Equal(t, "USD", pair.QuoteAsset)
		assert.True(t, pair.Active)
	})

	t.Run("marks disabled trading pairs inactive", func(t *testing.T) {
		pair := adapter.convertProductToTradingPair(coinbaseProduct{ProductID: "OLD-PAIR", TradingDisabled: true})
		assert.False(t, pair.Active)
	})

	t.Run("derives base/quote from the product ID when currencies are absent", func(t *testing.T) {
		pair := adapter.convertProductToTradingPair(coinbaseProduct{ProductID: "BTC-EUR"})
		assert.Equal(t, "BTC", pair.BaseAsset)
		assert.Equal(t, "EUR", pair.QuoteAsset)
	})
}

func TestCoinbaseAdapter_RetryAfterParsing(t *testing.T) {
	adapter := NewCoinbaseAdapterWithLogger(testLogger())

	cases := []struct {
		name     string
		header   string
		expected time.Duration
	}{
		{"empty header", "", 0},
		{"numeric seconds", "120", 120 * time.Second},
		{"invalid numeric", "invalid", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, adapter.parseRetryAfter(tc.header))
		})
	}

	t.Run("HTTP date format", func(t *testing.T) {
		header := time.Now().Add(5 * time.Second).Format(time.RFC1123)
		result := adapter.parseRetryAfter(header)
		assert.True(t, result >= 3*time.Second && result <= 6*time.Second, "expected ~5s, got %v", result)
	})
}

func TestCoinbaseAdapter_CircuitBreakerOpensAfterRepeatedServerErrors(t *testing.T) {
	callCount := 0
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/ping": func(w http.ResponseWriter, r *http.Request) {
			callCount++
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	defer server.Close()

	adapter := NewCoinbaseAdapterWithLogger(testLogger())

	newPingRequest := func() *http.Request {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/ping", nil)
		require.NoError(t, err)
		return req
	}

	// FailureThreshold is 5: the first 5 calls reach the server and each
	// records a breaker failure; the circuit opens on the 5th.
	for i := 0; i < 5; i++ {
		_, err := adapter.doRequest(newPingRequest())
		assert.Error(t, err)
	}
	assert.Equal(t, 5, callCount)

	_, err := adapter.doRequest(newPingRequest())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 5, callCount, "the open breaker must short-circuit before reaching the server")
}
