// Package exchange: Coinbase Advanced Trade API adapter.
//
// Implements contracts.ExchangeAdapter with rate limiting, retry, and
// conversion into internal models. Coinbase's spot market has no funding
// rate concept, so FetchFunding always returns an error; callers should
// gate funding ingestion on models.IsDerivative before reaching this far.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-ohlcv-collector/internal/config"
	ohlcverrors "github.com/johnayoung/go-ohlcv-collector/internal/errors"
	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	coinbaseBaseURL = "https://api.coinbase.com"

	productsEndpoint = "/api/v3/brokerage/products"
	candlesEndpoint  = "/api/v3/brokerage/products/%s/candles"

	maxRequestsPerSecond = 10
	rateLimitBurst       = 1
	rateLimitWindow      = time.Second

	maxCandlesPerRequest = 300
	requestTimeout       = 30 * time.Second

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5

	// maxRateLimitAttempts bounds consecutive HTTP 429 responses to one
	// request before giving up and surfacing RateLimited (spec §4.5: "a
	// sixth consecutive failure raises RateLimited").
	maxRateLimitAttempts = 5

	healthCheckTimeout = 5 * time.Second

	// probeMaxSteps bounds probe_listing_date's backward binary search.
	probeMaxSteps = 40
)

// CoinbaseAdapter implements contracts.ExchangeAdapter for Coinbase's
// Advanced Trade API.
type CoinbaseAdapter struct {
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *ohlcverrors.CircuitBreaker
	baseURL        string
	logger         *slog.Logger

	pairCache      map[string]*PairInfo
	pairCacheTime  time.Time
	pairCacheTTL   time.Duration
	pairCacheMutex sync.RWMutex

	// probeGroup deduplicates concurrent probe_listing_date calls for the
	// same identity+period; probeCache retains the result afterward, since
	// spec §4.5 requires the result cached per identity, not just deduped.
	probeGroup singleflight.Group
	probeCache sync.Map
}

// NewCoinbaseAdapter creates a Coinbase exchange adapter with default
// timeouts and rate limits.
func NewCoinbaseAdapter() *CoinbaseAdapter {
	return &CoinbaseAdapter{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(maxRequestsPerSecond), rateLimitBurst),
		circuitBreaker: ohlcverrors.NewCircuitBreaker("coinbase", config.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  "30s",
			HalfOpenRequests: 3,
		}),
		baseURL:      coinbaseBaseURL,
		logger:       slog.Default(),
		pairCache:    make(map[string]*PairInfo),
		pairCacheTTL: 5 * time.Minute,
	}
}

// NewCoinbaseAdapterWithLogger is NewCoinbaseAdapter with a caller-supplied
// component logger, the pattern the ambient logging stack uses throughout.
func NewCoinbaseAdapterWithLogger(logger *slog.Logger) *CoinbaseAdapter {
	adapter := NewCoinbaseAdapter()
	adapter.logger = logger
	return adapter
}

// FetchOHLCV implements contracts.CandleFetcher. It issues one request for
// candles with Ts >= sinceMs, covering at most limit periods (capped at
// maxCandlesPerRequest; limit <= 0 means maxCandlesPerRequest) and ending no
// later than now. It does not paginate beyond that single page.
func (c *CoinbaseAdapter) FetchOHLCV(ctx context.Context, id models.Identity, period string, sinceMs int64, limit int) ([]models.Candle, error) {
	granularity, err := c.convertInterval(period)
	if err != nil {
		return nil, fmt.Errorf("unsupported period: %w", err)
	}

	start := time.UnixMilli(sinceMs).UTC()
	end := time.Now().UTC()
	if !end.After(start) {
		return nil, nil
	}

	pageLimit := limit
	if pageLimit <= 0 || pageLimit > maxCandlesPerRequest {
		pageLimit = maxCandlesPerRequest
	}
	pageEnd := start.Add(time.Duration(pageLimit) * time.Duration(granularity) * time.Second)
	if pageEnd.After(end) {
		pageEnd = end
	}

	if err := c.WaitForLimit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	raw, err := c.fetchCandleChunk(ctx, id.Normalize().Symbol, start, pageEnd, granularity)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, rc := range raw {
		candle, err := c.convertCandleToModel(rc, period)
		if err != nil {
			c.logger.Warn("skipping unconvertible candle", "error", err)
			continue
		}
		candles = append(candles, *candle)
	}
	return candles, nil
}

// FetchFunding implements contracts.FundingFetcher. Coinbase spot has no
// funding-rate concept.
func (c *CoinbaseAdapter) FetchFunding(ctx context.Context, id models.Identity, sinceMs int64, limit int) ([]models.FundingRate, error) {
	return nil, fmt.Errorf("coinbase: funding rates are not available on this exchange")
}

// ProbeListingDate implements contracts.ListingProber. The result is cached
// per identity (spec §4.5): concurrent callers for the same identity+period
// are deduplicated through probeGroup, and the first resolved value is
// retained in probeCache so later calls skip the binary search entirely.
func (c *CoinbaseAdapter) ProbeListingDate(ctx context.Context, id models.Identity, period string) (int64, error) {
	key := models.TaskKey(id.Exchange, id.Market, id.Symbol, "listing:"+period)
	if cached, ok := c.probeCache.Load(key); ok {
		return cached.(int64), nil
	}

	v, err, _ := c.probeGroup.Do(key, func() (interface{}, error) {
		result, err := c.probeListingDateUncached(ctx, id, period)
		if err != nil {
			return int64(0), err
		}
		c.probeCache.Store(key, result)
		return result, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *CoinbaseAdapter) probeListingDateUncached(ctx context.Context, id models.Identity, period string) (int64, error) {
	granularity, err := c.convertInterval(period)
	if err != nil {
		return 0, fmt.Errorf("unsupported period: %w", err)
	}

	now := time.Now().UTC()
	lo := now.AddDate(-15, 0, 0) // 15 years back is earlier than any listed symbol
	hi := now

	// Confirm lo truly predates listing (empty window); if not, the symbol
	// is older than our search floor and we return lo as a conservative answer.
	if err := c.WaitForLimit(ctx); err != nil {
		return 0, err
	}
	probeEnd := lo.Add(time.Duration(granularity) * time.Second * time.Duration(maxCandlesPerRequest))
	candles, err := c.fetchCandleChunk(ctx, id.Normalize().Symbol, lo, probeEnd, granularity)
	if err != nil {
		return 0, fmt.Errorf("probe_listing_date: %w", err)
	}
	if len(candles) > 0 {
		return lo.UnixMilli(), nil
	}

	for step := 0; step < probeMaxSteps && hi.Sub(lo) > time.Duration(granularity)*time.Second; step++ {
		mid := lo.Add(hi.Sub(lo) / 2)

		if err := c.WaitForLimit(ctx); err != nil {
			return 0, err
		}
		midEnd := mid.Add(time.Duration(granularity) * time.Second * time.Duration(maxCandlesPerRequest))
		candles, err := c.fetchCandleChunk(ctx, id.Normalize().Symbol, mid, midEnd, granularity)
		if err != nil {
			return 0, fmt.Errorf("probe_listing_date: %w", err)
		}
		if len(candles) > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi.UnixMilli(), nil
}

// ListMarkets implements contracts.PairProvider. Coinbase exposes a single
// spot market.
func (c *CoinbaseAdapter) ListMarkets(ctx context.Context) ([]string, error) {
	return []string{"spot"}, nil
}

// ListSymbols implements contracts.PairProvider.
func (c *CoinbaseAdapter) ListSymbols(ctx context.Context, market string) ([]TradingPair, error) {
	c.pairCacheMutex.RLock()
	if time.Since(c.pairCacheTime) < c.pairCacheTTL && len(c.pairCache) > 0 {
		pairs := make([]TradingPair, 0, len(c.pairCache))
		for _, info := range c.pairCache {
			pairs = append(pairs, info.TradingPair)
		}
		c.pairCacheMutex.RUnlock()
		return pairs, nil
	}
	c.pairCacheMutex.RUnlock()

	if err := c.WaitForLimit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	requestURL := c.baseURL + productsEndpoint
	response, err := c.makeRequestWithRetry(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trading pairs: %w", err)
	}

	var apiResponse struct {
		Products []coinbaseProduct `json:"products"`
	}
	if err := json.Unmarshal(response, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse trading pairs response: %w", err)
	}

	pairs := make([]TradingPair, 0, len(apiResponse.Products))
	newCache := make(map[string]*PairInfo)
	for _, product := range apiResponse.Products {
		pair := c.convertProductToTradingPair(product)
		pairs = append(pairs, pair)
		newCache[pair.Symbol] = &PairInfo{TradingPair: pair, UpdatedAt: time.Now()}
	}

	c.pairCacheMutex.Lock()
	c.pairCache = newCache
	c.pairCacheTime = time.Now()
	c.pairCacheMutex.Unlock()

	return pairs, nil
}

// GetPairInfo implements contracts.PairProvider.
func (c *CoinbaseAdapter) GetPairInfo(ctx context.Context, pair string) (*PairInfo, error) {
	c.pairCacheMutex.RLock()
	if info, exists := c.pairCache[pair]; exists && time.Since(c.pairCacheTime) < c.pairCacheTTL {
		c.pairCacheMutex.RUnlock()
		return info, nil
	}
	c.pairCacheMutex.RUnlock()

	if _, err := c.ListSymbols(ctx, "spot"); err != nil {
		return nil, fmt.Errorf("failed to refresh trading pairs: %w", err)
	}

	c.pairCacheMutex.RLock()
	defer c.pairCacheMutex.RUnlock()
	if info, exists := c.pairCache[pair]; exists {
		return info, nil
	}
	return nil, fmt.Errorf("trading pair %s not found", pair)
}

// GetLimits implements contracts.RateLimitInfo.
func (c *CoinbaseAdapter) GetLimits() RateLimit {
	return RateLimit{
		RequestsPerSecond: maxRequestsPerSecond,
		BurstSize:         rateLimitBurst,
		WindowDuration:    rateLimitWindow,
	}
}

// WaitForLimit implements contracts.RateLimitInfo.
func (c *CoinbaseAdapter) WaitForLimit(ctx context.Context) error {
	return c.rateLimiter.Wait(ctx)
}

// HealthCheck implements contracts.HealthChecker.
func (c *CoinbaseAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	requestURL := c.baseURL + productsEndpoint + "?limit=1"
	req, err := http.NewRequestWithContext(healthCtx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// Private helpers

func (c *CoinbaseAdapter) fetchCandleChunk(ctx context.Context, symbol string, start, end time.Time, granularity int) ([]coinbaseCandle, error) {
	requestURL := fmt.Sprintf(c.baseURL+candlesEndpoint, symbol)

	params := url.Values{}
	params.Add("start", strconv.FormatInt(start.Unix(), 10))
	params.Add("end", strconv.FormatInt(end.Unix(), 10))
	params.Add("granularity", strconv.Itoa(granularity))

	response, err := c.makeRequestWithRetry(ctx, "GET", requestURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Candles []coinbaseCandle `json:"candles"`
	}
	if err := json.Unmarshal(response, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse candles response: %w", err)
	}
	return apiResponse.Candles, nil
}

func (c *CoinbaseAdapter) makeRequestWithRetry(ctx context.Context, method, reqURL string, body io.Reader) ([]byte, error) {
	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = initialRetryDelay
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.Multiplier = retryMultiplier
	backoffConfig.RandomizationFactor = retryJitter
	backoffConfig.MaxElapsedTime = 0

	backoffWithContext := backoff.WithContext(backoffConfig, ctx)

	var result []byte
	rateLimitAttempts := 0
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "ohlcvlake/1.0")

		resp, err := c.doRequest(req)
		if err != nil {
			if ce, ok := err.(*ohlcverrors.ClassifiedError); ok && ce.Type == ohlcverrors.ErrorTypeCircuitOpen {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimitAttempts++
			if rateLimitAttempts > maxRateLimitAttempts {
				return backoff.Permanent(ohlcverrors.NewDomainError(ohlcverrors.ErrorTypeRateLimited, "exchange", "request",
					fmt.Errorf("rate limited after %d consecutive attempts", rateLimitAttempts)))
			}
			retryAfter := c.parseRetryAfter(resp.Header.Get("Retry-After"))
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			if retryAfter > maxRetryDelay {
				retryAfter = maxRetryDelay
			}
			c.logger.Warn("rate limited, waiting", "retry_after", retryAfter, "attempt", rateLimitAttempts)
			select {
			case <-time.After(retryAfter):
				return fmt.Errorf("rate limited, retrying after %v", retryAfter)
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		if resp.StatusCode == http.StatusTeapot {
			return backoff.Permanent(fmt.Errorf("banned: status %d", resp.StatusCode))
		}

		responseBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(responseBody)))
		}

		result = responseBody
		return nil
	}

	if err := backoff.Retry(operation, backoffWithContext); err != nil {
		return nil, err
	}
	return result, nil
}

// doRequest executes req through the circuit breaker: a 5xx response counts
// as a breaker failure alongside transport errors, while 2xx/4xx responses
// (handled by the caller) count as success so the breaker only opens on
// sustained server-side trouble.
func (c *CoinbaseAdapter) doRequest(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.circuitBreaker.Call(func() error {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			return fmt.Errorf("server error %d: %s", r.StatusCode, string(body))
		}
		resp = r
		return nil
	})
	return resp, err
}

func (c *CoinbaseAdapter) parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

func (c *CoinbaseAdapter) convertInterval(period string) (int, error) {
	switch strings.ToLower(period) {
	case "1m", "1min":
		return 60, nil
	case "5m", "5min":
		return 300, nil
	case "15m", "15min":
		return 900, nil
	case "1h", "1hour":
		return 3600, nil
	case "6h", "6hour":
		return 21600, nil
	case "1d", "1day":
		return 86400, nil
	default:
		return 0, fmt.Errorf("unsupported period: %s", period)
	}
}

func (c *CoinbaseAdapter) convertCandleToModel(candle coinbaseCandle, period string) (*models.Candle, error) {
	return models.NewCandle(candle.Start*1000, period, candle.Open, candle.High, candle.Low, candle.Close, candle.Volume)
}

func (c *CoinbaseAdapter) convertProductToTradingPair(product coinbaseProduct) TradingPair {
	parts := strings.Split(product.ProductID, "-")
	baseAsset := product.BaseCurrencyID
	quoteAsset := product.QuoteCurrencyID
	if len(parts) == 2 {
		baseAsset, quoteAsset = parts[0], parts[1]
	}
	return TradingPair{
		Symbol:     product.ProductID,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		Market:     "spot",
		Active:     !product.TradingDisabled,
	}
}

type coinbaseCandle struct {
	Start  int64  `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type coinbaseProduct struct {
	ProductID       string `json:"product_id"`
	BaseCurrencyID  string `json:"base_currency_id"`
	QuoteCurrencyID string `json:"quote_currency_id"`
	TradingDisabled bool   `json:"trading_disabled"`
}
