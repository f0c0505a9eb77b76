// Package rewards implements the reward rebate engine for a single epoch
// of the options venue: the boosted fee-rebate curve, per-trade rebates,
// the short-exposure time integrator, the delta-bucketed short-collateral
// schedule, and the epoch aggregator with cap/scale normalization.
//
// The engine is a pure function of (epoch bounds, config, event batches):
// it performs no I/O and keeps no state between invocations.
//
// All monetary values returned to callers use shopspring/decimal — never
// float64 for money. Internal transcendental and time-integral math runs
// in float64, with results converted to decimal once, at finalization.
package rewards

import (
	"math"

	"github.com/derivex/rewards-engine/internal/model"
)

// RewardScale is the number of decimal places for dollar/token rounding.
const RewardScale int32 = 8

// BalanceSource answers "what was this trader's effective staked balance
// at time ts". Cooldown/decay semantics live behind this interface; the
// engine only ever samples it at trade timestamps.
type BalanceSource interface {
	BalanceAt(trader string, ts int64) float64
}

// RebateCurve maps a staked-governance-token balance to a trading-fee
// rebate fraction in [0, max]. Two modes: a monotonic lookup table, or the
// logarithmic boost curve
//
//	rate = min(max, intercept + max(0, stretch × (shift + ln(b / stretchiness))))
//
// The curve is stateless; construct once per epoch from the config.
type RebateCurve struct {
	useTable  bool
	table     []model.RebateTableEntry
	maxRate   float64
	stretch   float64
	shift     float64
	intercept float64
	stretchy  float64
}

// NewRebateCurve builds a rebate curve from the epoch config.
func NewRebateCurve(cfg model.RewardsConfig) *RebateCurve {
	return &RebateCurve{
		useTable:  cfg.UseRebateTable,
		table:     cfg.RebateRateTable,
		maxRate:   cfg.MaxRebatePercentage,
		stretch:   cfg.NetVerticalStretch,
		shift:     cfg.VerticalShift,
		intercept: cfg.VertIntercept,
		stretchy:  cfg.Stretchiness,
	}
}

// Rate returns the rebate fraction for a staked balance.
//
// Table mode returns the maximum ReturnRate among entries whose cutoff is
// at or below the balance; a table with no qualifying entry yields 0
// (production tables carry a cutoff-0 floor row).
//
// Curve mode is undefined at b ≤ 0 (ln of a non-positive number); the
// engine floors it to the curve's continuous limit min(max, intercept)
// instead of letting NaN/-Inf propagate into reward sums.
func (c *RebateCurve) Rate(balance float64) float64 {
	if c.useTable {
		best := 0.0
		for _, entry := range c.table {
			if balance >= entry.Cutoff && entry.ReturnRate > best {
				best = entry.ReturnRate
			}
		}
		return best
	}

	if balance <= 0 {
		return math.Min(c.maxRate, c.intercept)
	}

	boost := c.stretch * (c.shift + math.Log(balance/c.stretchy))
	return math.Min(c.maxRate, c.intercept+math.Max(0, boost))
}

// RawRebate is the dollar outcome of one trade's fee rebate, before token
// conversion and cap scaling. Values are float64 because they feed the
// epoch accumulators, not callers.
type RawRebate struct {
	Fees              float64 // total fee paid, USD
	Rebate            float64 // rebate after stake boost, USD
	BaseRebateRate    float64 // curve intercept, before boost
	BoostedRebateRate float64 // rate actually applied
}

// CalcTradeRebate computes one trade's fee rebate: the sum of the four fee
// components times the boosted rebate rate at the trader's staked balance
// sampled at the trade's timestamp. Identical inputs always produce
// identical output.
func CalcTradeRebate(trade model.Trade, curve *RebateCurve, stakedBalance float64) RawRebate {
	totalFee := trade.TotalFee().InexactFloat64()
	rate := curve.Rate(stakedBalance)
	return RawRebate{
		Fees:              totalFee,
		Rebate:            totalFee * rate,
		BaseRebateRate:    curve.intercept,
		BoostedRebateRate: rate,
	}
}
