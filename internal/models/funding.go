package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FundingRate is one funding-rate observation for a derivatives Identity.
// Unlike Candle it has no OHLC logic invariant to enforce; rate may be
// negative (longs pay shorts or vice versa).
type FundingRate struct {
	Ts   int64           `json:"ts"`
	Rate decimal.Decimal `json:"rate"`
	// NextFundingTs is the exchange-reported time of the next funding
	// settlement, when the exchange provides it. Zero means unknown.
	NextFundingTs int64 `json:"next_funding_ts,omitempty"`
}

// NewFundingRate constructs a FundingRate from a string-encoded rate.
func NewFundingRate(ts int64, rate string, nextFundingTs int64) (*FundingRate, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid funding rate %q: %w", rate, err)
	}
	fr := &FundingRate{Ts: ts, Rate: r, NextFundingTs: nextFundingTs}
	if err := fr.Validate(); err != nil {
		return nil, err
	}
	return fr, nil
}

// Validate enforces that ts is positive. Rate itself has no range
// constraint, funding rates can legitimately exceed +/-1%.
func (f *FundingRate) Validate() error {
	if f.Ts <= 0 {
		return fmt.Errorf("funding rate: ts must be positive, got %d", f.Ts)
	}
	return nil
}

// ToRecord converts the FundingRate to the storage-layer Record.
func (f *FundingRate) ToRecord() Record {
	rate, _ := f.Rate.Float64()
	rec := Record{
		Ts:     f.Ts,
		Fields: map[string]float64{"rate": rate},
	}
	if f.NextFundingTs != 0 {
		rec.Fields["next_funding_ts"] = float64(f.NextFundingTs)
	}
	return rec
}

// FundingRateFromRecord rebuilds a FundingRate from a stored Record.
func FundingRateFromRecord(r Record) *FundingRate {
	return &FundingRate{
		Ts:            r.Ts,
		Rate:          decimal.NewFromFloat(r.Fields["rate"]),
		NextFundingTs: int64(r.Fields["next_funding_ts"]),
	}
}

// String renders a FundingRate for logs.
func (f *FundingRate) String() string {
	return fmt.Sprintf("FundingRate{ts=%d rate=%s}", f.Ts, f.Rate)
}
