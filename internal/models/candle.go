// Package models provides data structures and validation for OHLCV market data.
// This package contains core data models for financial market data including
// candles, funding rates, gaps, and tasks.
package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar for an Identity at a given interval. Timestamps
// are UTC millisecond epoch, matching the on-disk Record and the manifest's
// start_ts/end_ts columns; there is no time.Time anywhere in this type so
// that comparisons stay exact integer arithmetic.
type Candle struct {
	Ts       int64           `json:"ts"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Interval string          `json:"interval"`
}

// NewCandle constructs a Candle from string-encoded decimal fields, the
// shape most exchange JSON APIs return.
func NewCandle(ts int64, interval, open, high, low, close, volume string) (*Candle, error) {
	o, err := decimal.NewFromString(open)
	if err != nil {
		return nil, fmt.Errorf("invalid open %q: %w", open, err)
	}
	h, err := decimal.NewFromString(high)
	if err != nil {
		return nil, fmt.Errorf("invalid high %q: %w", high, err)
	}
	l, err := decimal.NewFromString(low)
	if err != nil {
		return nil, fmt.Errorf("invalid low %q: %w", low, err)
	}
	c, err := decimal.NewFromString(close)
	if err != nil {
		return nil, fmt.Errorf("invalid close %q: %w", close, err)
	}
	v, err := decimal.NewFromString(volume)
	if err != nil {
		return nil, fmt.Errorf("invalid volume %q: %w", volume, err)
	}
	candle := &Candle{Ts: ts, Interval: interval, Open: o, High: h, Low: l, Close: c, Volume: v}
	if err := candle.Validate(); err != nil {
		return nil, err
	}
	return candle, nil
}

// Validate enforces the OHLC logic invariant (low <= open,close <= high,
// high >= low) plus non-negative volume. A violation classifies as
// DataIntegrity at the caller.
func (c *Candle) Validate() error {
	if c.Ts <= 0 {
		return fmt.Errorf("candle: ts must be positive, got %d", c.Ts)
	}
	if c.High.LessThan(c.Low) {
		return fmt.Errorf("candle: high %s is less than low %s", c.High, c.Low)
	}
	if c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High) {
		return fmt.Errorf("candle: open %s outside [low %s, high %s]", c.Open, c.Low, c.High)
	}
	if c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High) {
		return fmt.Errorf("candle: close %s outside [low %s, high %s]", c.Close, c.Low, c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle: volume %s is negative", c.Volume)
	}
	return nil
}

// GetTypicalPrice returns (high + low + close) / 3.
func (c *Candle) GetTypicalPrice() decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close).Div(decimal.NewFromInt(3))
}

// GetBodySize returns the absolute distance between open and close.
func (c *Candle) GetBodySize() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// GetRange returns high - low.
func (c *Candle) GetRange() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// IsBullish reports whether close finished above open.
func (c *Candle) IsBullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// IsBearish reports whether close finished below open.
func (c *Candle) IsBearish() bool {
	return c.Close.LessThan(c.Open)
}

// IsDoji reports whether open and close are within tolerance of each other
// relative to the candle's range.
func (c *Candle) IsDoji(tolerance decimal.Decimal) bool {
	rng := c.GetRange()
	if rng.IsZero() {
		return true
	}
	return c.GetBodySize().Div(rng).LessThanOrEqual(tolerance)
}

// GetPriceChange returns close - open.
func (c *Candle) GetPriceChange() decimal.Decimal {
	return c.Close.Sub(c.Open)
}

// GetPriceChangePercent returns (close - open) / open * 100. Returns zero
// when open is zero rather than dividing by zero.
func (c *Candle) GetPriceChangePercent() decimal.Decimal {
	if c.Open.IsZero() {
		return decimal.Zero
	}
	return c.GetPriceChange().Div(c.Open).Mul(decimal.NewFromInt(100))
}

// ToRecord converts the Candle to the storage-layer Record that the
// partition writer and reader operate on (see record.go).
func (c *Candle) ToRecord() Record {
	open, _ := c.Open.Float64()
	high, _ := c.High.Float64()
	low, _ := c.Low.Float64()
	closeVal, _ := c.Close.Float64()
	volume, _ := c.Volume.Float64()
	return Record{
		Ts: c.Ts,
		Fields: map[string]float64{
			"open":   open,
			"high":   high,
			"low":    low,
			"close":  closeVal,
			"volume": volume,
		},
	}
}

// CandleFromRecord rebuilds a Candle from a stored Record. interval is not
// a Record column, since partitions are already interval-scoped on disk,
// so it is threaded through by the caller.
func CandleFromRecord(r Record, interval string) *Candle {
	return &Candle{
		Ts:       r.Ts,
		Interval: interval,
		Open:     decimal.NewFromFloat(r.Fields["open"]),
		High:     decimal.NewFromFloat(r.Fields["high"]),
		Low:      decimal.NewFromFloat(r.Fields["low"]),
		Close:    decimal.NewFromFloat(r.Fields["close"]),
		Volume:   decimal.NewFromFloat(r.Fields["volume"]),
	}
}

// String renders a Candle for logs.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{ts=%d interval=%s O=%s H=%s L=%s C=%s V=%s}",
		c.Ts, c.Interval, c.Open, c.High, c.Low, c.Close, c.Volume)
}
