// Package model defines the core domain types shared across the rewards engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Option deltas and time-integrated exposure (short-seconds) stay float64:
// they are curve inputs, not payouts.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one option trade as reported by the
// indexer. Size is signed: positive for size-increasing trades, negative
// for size-decreasing (closing) trades. The engine never mutates a Trade.
type Trade struct {
	Trader         string          `json:"trader" db:"trader"`
	Market         string          `json:"market" db:"market"`
	StrikeID       int64           `json:"strike_id" db:"strike_id"`
	PositionID     int64           `json:"position_id" db:"position_id"`
	Timestamp      int64           `json:"timestamp" db:"timestamp"`
	IsLong         bool            `json:"is_long" db:"is_long"`
	IsCall         bool            `json:"is_call" db:"is_call"`
	Size           decimal.Decimal `json:"size" db:"size"`
	SpotPriceFee   decimal.Decimal `json:"spot_price_fee" db:"spot_price_fee"`
	VegaUtilFee    decimal.Decimal `json:"vega_util_fee" db:"vega_util_fee"`
	OptionPriceFee decimal.Decimal `json:"option_price_fee" db:"option_price_fee"`
	VarianceFee    decimal.Decimal `json:"variance_fee" db:"variance_fee"`
}

// TotalFee is the sum of the four fee components paid on the trade.
func (t Trade) TotalFee() decimal.Decimal {
	return t.SpotPriceFee.Add(t.VegaUtilFee).Add(t.OptionPriceFee).Add(t.VarianceFee)
}

// Transfer is an ownership reassignment of an existing position. It does
// not change the position's total size.
type Transfer struct {
	Market     string `json:"market"`
	StrikeID   int64  `json:"strike_id"`
	PositionID int64  `json:"position_id"`
	OldOwner   string `json:"old_owner"`
	NewOwner   string `json:"new_owner"`
	Timestamp  int64  `json:"timestamp"`
	IsLong     bool   `json:"is_long"`
	IsCall     bool   `json:"is_call"`
}

// DeltaSnapshot is a periodic sampling of a strike's call delta.
// One ascending sequence per (market, strikeId); the engine sorts
// defensively before use.
type DeltaSnapshot struct {
	Timestamp int64   `json:"timestamp"`
	Delta     float64 `json:"delta"`
}

// StrikeDetails holds static per-strike data, looked up by (market, strikeId).
type StrikeDetails struct {
	StrikeID        int64           `json:"strike_id"`
	ExpiryTimestamp int64           `json:"expiry_timestamp"`
	StrikePrice     decimal.Decimal `json:"strike_price"`
}

// Epoch is one fixed [StartTimestamp, EndTimestamp) reward-accrual period.
// EndTimestamp must equal the next epoch's StartTimestamp or trades on the
// boundary are missed or double counted.
type Epoch struct {
	ID             string   `json:"id"`
	StartTimestamp int64    `json:"start_timestamp"`
	EndTimestamp   int64    `json:"end_timestamp"`
	EnabledMarkets []string `json:"enabled_markets"`
	IgnoreList     []string `json:"ignore_list"`
	GenesisOwners  []string `json:"genesis_owners"`
}

// RebateTableEntry is one row of the table-mode boosted-rebate curve:
// staking at least Cutoff earns ReturnRate.
type RebateTableEntry struct {
	Cutoff     float64 `json:"cutoff"`
	ReturnRate float64 `json:"return_rate"`
}

// CollatRewardRates are the per-market short-collateral reward rates,
// denominated in dollars per option per day.
type CollatRewardRates struct {
	TenDeltaRebatePerOptionDay    float64 `json:"ten_delta_rebate_per_option_day"`
	NinetyDeltaRebatePerOptionDay float64 `json:"ninety_delta_rebate_per_option_day"`
	LongDatedPenalty              float64 `json:"long_dated_penalty"`
}

// RewardsConfig parameterizes one epoch's reward computation.
type RewardsConfig struct {
	// Boosted-rebate curve. Table mode wins when UseRebateTable is set;
	// otherwise the log-curve constants apply.
	UseRebateTable      bool               `json:"use_rebate_table"`
	RebateRateTable     []RebateTableEntry `json:"rebate_rate_table"`
	MaxRebatePercentage float64            `json:"max_rebate_percentage"`
	NetVerticalStretch  float64            `json:"net_vertical_stretch"`
	VerticalShift       float64            `json:"vertical_shift"`
	VertIntercept       float64            `json:"vert_intercept"`
	Stretchiness        float64            `json:"stretchiness"`

	// Token payout: dollar rebates are split between the venue governance
	// token and the partner incentive token at fixed post-epoch prices.
	GovRewardsCap     float64 `json:"gov_rewards_cap"`
	PartnerRewardsCap float64 `json:"partner_rewards_cap"`
	GovPortion        float64 `json:"gov_portion"`
	FixedGovPrice     float64 `json:"fixed_gov_price"`
	FixedPartnerPrice float64 `json:"fixed_partner_price"`

	// Short-collateral reward schedule keyed by market name.
	ShortCollatRewards map[string]CollatRewardRates `json:"short_collat_rewards"`
}

// UserRebate is one trader's reward ledger for an epoch, after cap scaling.
type UserRebate struct {
	Fees                 decimal.Decimal `json:"fees"`
	EffectiveRebateRate  decimal.Decimal `json:"effective_rebate_rate"`
	TradingRebateDollars decimal.Decimal `json:"trading_rebate_dollars"`

	ShortCallSeconds    float64         `json:"short_call_seconds"`
	ShortPutSeconds     float64         `json:"short_put_seconds"`
	CollatRebateDollars decimal.Decimal `json:"collat_rebate_dollars"`

	TotalRebateDollars decimal.Decimal `json:"total_rebate_dollars"`

	GovRebate     decimal.Decimal `json:"gov_rebate"`
	PartnerRebate decimal.Decimal `json:"partner_rebate"`
}

// RebateSplit holds token totals for one rebate category.
type RebateSplit struct {
	TotalGovRebate     decimal.Decimal `json:"total_gov_rebate"`
	TotalPartnerRebate decimal.Decimal `json:"total_partner_rebate"`
}

// ShortCollatTotals are the epoch-global short-collateral aggregates.
type ShortCollatTotals struct {
	TotalShortCallSeconds float64         `json:"total_short_call_seconds"`
	TotalShortPutSeconds  float64         `json:"total_short_put_seconds"`
	TotalGovRebate        decimal.Decimal `json:"total_gov_rebate"`
	TotalPartnerRebate    decimal.Decimal `json:"total_partner_rebate"`
}

// TradingRewards are the epoch-global totals, after cap scaling.
type TradingRewards struct {
	TotalGovRebate     decimal.Decimal `json:"total_gov_rebate"`
	TotalPartnerRebate decimal.Decimal `json:"total_partner_rebate"`
	GovScaleFactor     decimal.Decimal `json:"gov_scale_factor"`
	PartnerScaleFactor decimal.Decimal `json:"partner_scale_factor"`

	TotalUnscaledRebateDollars        decimal.Decimal `json:"total_unscaled_rebate_dollars"`
	TotalTradingUnscaledRebateDollars decimal.Decimal `json:"total_trading_unscaled_rebate_dollars"`
	TotalCollatUnscaledRebateDollars  decimal.Decimal `json:"total_collat_unscaled_rebate_dollars"`
	TotalFees                         decimal.Decimal `json:"total_fees"`

	TradingRebates RebateSplit       `json:"trading_rebates"`
	ShortCollat    ShortCollatTotals `json:"short_collat"`
}

// Anomalies counts the soft data-quality issues observed during a run.
// None of these abort the epoch; they are surfaced for manual review.
type Anomalies struct {
	ZeroSizeTransfers  int `json:"zero_size_transfers"`
	TiedTimestamps     int `json:"tied_timestamps"`
	ClampedConversions int `json:"clamped_conversions"`
}

// EpochSummary is the listing view of a stored run: everything in
// EpochResult except the per-user ledger.
type EpochSummary struct {
	RunID          string          `json:"run_id"`
	EpochID        string          `json:"epoch_id"`
	StartTimestamp int64           `json:"start_timestamp"`
	EndTimestamp   int64           `json:"end_timestamp"`
	UserCount      int             `json:"user_count"`
	TotalGovRebate decimal.Decimal `json:"total_gov_rebate"`
	ComputedAt     time.Time       `json:"computed_at"`
}

// EpochResult is the complete, internally consistent output of one epoch
// computation run.
type EpochResult struct {
	RunID          string                `json:"run_id"`
	EpochID        string                `json:"epoch_id"`
	StartTimestamp int64                 `json:"start_timestamp"`
	EndTimestamp   int64                 `json:"end_timestamp"`
	Rewards        TradingRewards        `json:"rewards"`
	Users          map[string]UserRebate `json:"users"`
	Anomalies      Anomalies             `json:"anomalies"`
	ComputedAt     time.Time             `json:"computed_at"`
}
