package rewards

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/derivex/rewards-engine/internal/model"
)

// staticBalances maps every trader to one fixed staked balance.
type staticBalances map[string]float64

func (b staticBalances) BalanceAt(trader string, _ int64) float64 { return b[trader] }

func flatConfig() model.RewardsConfig {
	return model.RewardsConfig{
		UseRebateTable:  true,
		RebateRateTable: []model.RebateTableEntry{{Cutoff: 0, ReturnRate: 0.5}},

		GovRewardsCap:     1e12,
		PartnerRewardsCap: 1e12,
		GovPortion:        1.0,
		FixedGovPrice:     1.0,
		FixedPartnerPrice: 1.0,

		ShortCollatRewards: map[string]model.CollatRewardRates{
			"M": {TenDeltaRebatePerOptionDay: 0.1, NinetyDeltaRebatePerOptionDay: 0.2, LongDatedPenalty: 1.0},
		},
	}
}

func feeTrade(trader string, ts int64, fee float64) model.Trade {
	return model.Trade{
		Trader:       trader,
		Market:       "M",
		StrikeID:     1,
		PositionID:   1,
		Timestamp:    ts,
		IsLong:       true,
		IsCall:       true,
		Size:         decimal.NewFromInt(1),
		SpotPriceFee: decimal.NewFromFloat(fee),
	}
}

func approxEqual(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	diff := got.Sub(decimal.NewFromFloat(want)).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(1e-6)) {
		t.Errorf("%s = %s, want %v", name, got, want)
	}
}

func TestCompute_SingleShortCallOptionDay(t *testing.T) {
	// Strike 1 expiring 60 days out, one short call of
	// size 2 opened by A at t=1000, window [1000, 1000+86400), one delta
	// snapshot {t=1000, delta=0.5}. Expected: 2×86400 call-seconds and
	// one option-day of collateral rebate at the interpolated mid rate.
	start := int64(1000)
	end := start + day
	expiry := start + 60*day

	params := ComputeParams{
		Epoch: model.Epoch{
			ID: "epoch-test", StartTimestamp: start, EndTimestamp: end,
			EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: end + 1,
		Trades: map[string][]model.Trade{"M": {
			{Trader: "0xA", Market: "M", StrikeID: 1, PositionID: 10, Timestamp: start,
				IsLong: false, IsCall: true, Size: decimal.NewFromInt(2)},
		}},
		DeltaSnapshots: map[string]map[int64][]model.DeltaSnapshot{
			"M": {1: {{Timestamp: start, Delta: 0.5}}},
		},
		StrikeDetails: map[string]map[int64]model.StrikeDetails{
			"M": {1: {StrikeID: 1, ExpiryTimestamp: expiry, StrikePrice: decimal.NewFromInt(1000)}},
		},
	}

	rewards, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, ok := users["0xA"]
	if !ok {
		t.Fatal("expected a ledger entry for 0xA")
	}
	if a.ShortCallSeconds != float64(2*day) {
		t.Errorf("short call seconds = %v, want %v", a.ShortCallSeconds, 2*day)
	}

	callReward := 0.1 + (0.2-0.1)*0.5 // mid-delta interpolation
	approxEqual(t, "collat rebate dollars", a.CollatRebateDollars, callReward*2)
	approxEqual(t, "total collat unscaled", rewards.TotalCollatUnscaledRebateDollars, callReward*2)

	// No fees paid in the window by a short open with zero fee fields.
	if !a.EffectiveRebateRate.IsZero() {
		t.Errorf("effective rebate rate = %s, want 0 for zero fees", a.EffectiveRebateRate)
	}
}

func TestCompute_TransferHalfwaySplitsSeconds(t *testing.T) {
	start := int64(1000)
	end := start + day

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: start, EndTimestamp: end, EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: end,
		Trades: map[string][]model.Trade{"M": {
			{Trader: "0xA", Market: "M", StrikeID: 1, PositionID: 10, Timestamp: start,
				IsLong: false, IsCall: true, Size: decimal.NewFromInt(2)},
		}},
		Transfers: map[string][]model.Transfer{"M": {
			{Market: "M", StrikeID: 1, PositionID: 10, OldOwner: "0xA", NewOwner: "0xB",
				Timestamp: start + day/2, IsCall: true},
		}},
		DeltaSnapshots: map[string]map[int64][]model.DeltaSnapshot{
			"M": {1: {{Timestamp: start, Delta: 0.5}}},
		},
		StrikeDetails: map[string]map[int64]model.StrikeDetails{
			"M": {1: {StrikeID: 1, ExpiryTimestamp: end + 10*day}},
		},
	}

	rewards, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := users["0xA"].ShortCallSeconds; got != float64(2*(day/2)) {
		t.Errorf("A seconds = %v, want %v", got, 2*(day/2))
	}
	if got := users["0xB"].ShortCallSeconds; got != float64(2*(day/2)) {
		t.Errorf("B seconds = %v, want %v", got, 2*(day/2))
	}
	if got := rewards.ShortCollat.TotalShortCallSeconds; got != float64(2*day) {
		t.Errorf("total seconds = %v, want %v (conservation)", got, 2*day)
	}
}

func TestCompute_FeeRebateAndTokenSplit(t *testing.T) {
	cfg := flatConfig()
	cfg.GovPortion = 0.25
	cfg.FixedGovPrice = 0.11
	cfg.FixedPartnerPrice = 1.14

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 0, EndTimestamp: 1000, EnabledMarkets: []string{"M"},
		},
		Config:          cfg,
		LatestTimestamp: 1000,
		Trades:          map[string][]model.Trade{"M": {feeTrade("0xA", 500, 100)}},
	}

	rewards, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := users["0xA"]
	approxEqual(t, "fees", a.Fees, 100)
	approxEqual(t, "trading rebate", a.TradingRebateDollars, 50) // 100 × 0.5
	approxEqual(t, "gov rebate", a.GovRebate, 50*0.25/0.11)
	approxEqual(t, "partner rebate", a.PartnerRebate, 50*0.75/1.14)
	approxEqual(t, "total fees", rewards.TotalFees, 100)

	// Uncapped run: both scale factors exactly 1 and the effective rate is
	// the full dollar rebate over fees.
	if !rewards.GovScaleFactor.Equal(decimal.NewFromInt(1)) {
		t.Errorf("gov scale = %s, want 1", rewards.GovScaleFactor)
	}
	approxEqual(t, "effective rebate rate", a.EffectiveRebateRate, 0.5)
}

func TestCompute_WindowBoundsHalfOpen(t *testing.T) {
	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 1000, EndTimestamp: 2000, EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: 2000,
		Trades: map[string][]model.Trade{"M": {
			feeTrade("0xEarly", 999, 10),
			feeTrade("0xOnStart", 1000, 10),
			feeTrade("0xOnEnd", 2000, 10),
			feeTrade("0xLate", 2001, 10),
		}},
	}

	_, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected exactly 1 user inside [start, end), got %d", len(users))
	}
	if _, ok := users["0xOnStart"]; !ok {
		t.Error("trade at startTs must be included")
	}
}

func TestCompute_CapScalesEveryUser(t *testing.T) {
	// $250k of rebates against a $200k cap → scale 0.8,
	// every user multiplied, post-scale total exactly the cap.
	cfg := flatConfig()
	cfg.GovRewardsCap = 200_000

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 0, EndTimestamp: 1000, EnabledMarkets: []string{"M"},
		},
		Config:          cfg,
		LatestTimestamp: 1000,
		Trades: map[string][]model.Trade{"M": {
			feeTrade("0xA", 100, 300_000), // rebate 150k
			feeTrade("0xB", 200, 200_000), // rebate 100k
		}},
	}

	rewards, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approxEqual(t, "gov scale factor", rewards.GovScaleFactor, 0.8)
	approxEqual(t, "total gov rebate", rewards.TotalGovRebate, 200_000)
	approxEqual(t, "A gov rebate", users["0xA"].GovRebate, 150_000*0.8)
	approxEqual(t, "B gov rebate", users["0xB"].GovRebate, 100_000*0.8)

	// Effective rate reflects the scaled payout: 0.5 × 0.8.
	approxEqual(t, "A effective rate", users["0xA"].EffectiveRebateRate, 0.4)
}

func TestCompute_CapIdempotentWhenUnderCap(t *testing.T) {
	cfg := flatConfig()
	cfg.GovRewardsCap = 1_000_000

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 0, EndTimestamp: 1000, EnabledMarkets: []string{"M"},
		},
		Config:          cfg,
		LatestTimestamp: 1000,
		Trades:          map[string][]model.Trade{"M": {feeTrade("0xA", 100, 1000)}},
	}

	rewards, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rewards.GovScaleFactor.Equal(decimal.NewFromInt(1)) {
		t.Errorf("scale under cap must be exactly 1, got %s", rewards.GovScaleFactor)
	}
	approxEqual(t, "gov rebate", users["0xA"].GovRebate, 500)
}

func TestCompute_ZeroPriceConversionClamped(t *testing.T) {
	cfg := flatConfig()
	cfg.FixedGovPrice = 0 // division by zero → +Inf, must be floored

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 0, EndTimestamp: 1000, EnabledMarkets: []string{"M"},
		},
		Config:          cfg,
		LatestTimestamp: 1000,
		Trades:          map[string][]model.Trade{"M": {feeTrade("0xA", 100, 1000)}},
	}

	rewards, users, anomalies, err := Compute(params)
	if err != nil {
		t.Fatalf("numeric degeneracy must not abort: %v", err)
	}
	if !users["0xA"].GovRebate.IsZero() {
		t.Errorf("clamped gov rebate = %s, want 0", users["0xA"].GovRebate)
	}
	if anomalies.ClampedConversions == 0 {
		t.Error("clamped conversion should be counted")
	}
	if !rewards.TotalGovRebate.IsZero() {
		t.Errorf("total gov rebate = %s, want 0", rewards.TotalGovRebate)
	}
}

func TestCompute_IgnoreListExcluded(t *testing.T) {
	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 0, EndTimestamp: 1000, EnabledMarkets: []string{"M"},
			IgnoreList: []string{"0xTREASURY"},
		},
		Config:          flatConfig(),
		LatestTimestamp: 1000,
		Trades: map[string][]model.Trade{"M": {
			feeTrade("0xTreasury", 100, 1000), // casing differs from list
			feeTrade("0xA", 200, 1000),
		}},
	}

	_, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := users["0xTreasury"]; ok {
		t.Error("ignore-listed trader must not accrue rebates")
	}
	if _, ok := users["0xA"]; !ok {
		t.Error("other traders unaffected by the ignore list")
	}
}

func TestCompute_StakeBoostAppliedAtTradeTime(t *testing.T) {
	cfg := flatConfig()
	cfg.UseRebateTable = true
	cfg.RebateRateTable = []model.RebateTableEntry{
		{Cutoff: 0, ReturnRate: 0.1},
		{Cutoff: 10_000, ReturnRate: 0.4},
	}

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: 0, EndTimestamp: 1000, EnabledMarkets: []string{"M"},
		},
		Config:          cfg,
		LatestTimestamp: 1000,
		Trades: map[string][]model.Trade{"M": {
			feeTrade("0xWhale", 100, 100),
			feeTrade("0xShrimp", 100, 100),
		}},
		Balances: staticBalances{"0xWhale": 50_000},
	}

	_, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approxEqual(t, "whale rebate", users["0xWhale"].TradingRebateDollars, 40)
	approxEqual(t, "shrimp rebate", users["0xShrimp"].TradingRebateDollars, 10)
}

func TestCompute_SnapshotAtOrAfterEndIgnored(t *testing.T) {
	start := int64(1000)
	end := start + day

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: start, EndTimestamp: end, EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: end + day,
		Trades: map[string][]model.Trade{"M": {
			{Trader: "0xA", Market: "M", StrikeID: 1, PositionID: 10, Timestamp: start,
				IsLong: false, IsCall: true, Size: decimal.NewFromInt(1)},
		}},
		DeltaSnapshots: map[string]map[int64][]model.DeltaSnapshot{
			"M": {1: {
				{Timestamp: start, Delta: 0.5},
				{Timestamp: end, Delta: 0.9}, // at endTs: not processed
			}},
		},
		StrikeDetails: map[string]map[int64]model.StrikeDetails{
			"M": {1: {StrikeID: 1, ExpiryTimestamp: end + 100*day}},
		},
	}

	_, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The first interval runs [start, end) because its end is bounded by
	// the following snapshot's timestamp; exactly one option-day accrues
	// at the 0.5-delta rate, none at 0.9.
	approxEqual(t, "collat rebate", users["0xA"].CollatRebateDollars, 0.15)
}

func TestCompute_ExpiryCapsLastInterval(t *testing.T) {
	start := int64(1000)
	end := start + 10*day
	expiry := start + day // strike expires one day into the epoch

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: start, EndTimestamp: end, EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: end,
		Trades: map[string][]model.Trade{"M": {
			{Trader: "0xA", Market: "M", StrikeID: 1, PositionID: 10, Timestamp: start,
				IsLong: false, IsCall: true, Size: decimal.NewFromInt(1)},
		}},
		DeltaSnapshots: map[string]map[int64][]model.DeltaSnapshot{
			"M": {1: {{Timestamp: start, Delta: 0.5}}},
		},
		StrikeDetails: map[string]map[int64]model.StrikeDetails{
			"M": {1: {StrikeID: 1, ExpiryTimestamp: expiry}},
		},
	}

	_, users, _, err := Compute(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := users["0xA"].ShortCallSeconds; got != float64(day) {
		t.Errorf("seconds past expiry accrued: got %v, want %v", got, day)
	}
}

func TestCompute_IntegrityViolationAbortsEpoch(t *testing.T) {
	start := int64(1000)
	end := start + day

	params := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: start, EndTimestamp: end, EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: end,
		Transfers: map[string][]model.Transfer{"M": {
			{Market: "M", StrikeID: 1, PositionID: 77, OldOwner: "0xA", NewOwner: "0xB",
				Timestamp: start + 100, IsCall: true},
		}},
		DeltaSnapshots: map[string]map[int64][]model.DeltaSnapshot{
			"M": {1: {{Timestamp: start, Delta: 0.5}}},
		},
		StrikeDetails: map[string]map[int64]model.StrikeDetails{
			"M": {1: {StrikeID: 1, ExpiryTimestamp: end + 100*day}},
		},
	}

	_, users, _, err := Compute(params)
	if err == nil {
		t.Fatal("transfer without trade history must abort the epoch")
	}
	if users != nil {
		t.Error("no partial output on a fatal integrity violation")
	}
}

func TestCompute_SecondsMatchOpenInterestIntegral(t *testing.T) {
	// Conservation at the epoch level: with and without transfers, the
	// global short-call-seconds total is the same integral.
	start := int64(0)
	end := int64(10 * day)

	trades := []model.Trade{
		{Trader: "0xA", Market: "M", StrikeID: 1, PositionID: 1, Timestamp: start,
			IsLong: false, IsCall: true, Size: decimal.NewFromInt(4)},
		{Trader: "0xB", Market: "M", StrikeID: 1, PositionID: 2, Timestamp: start + day,
			IsLong: false, IsCall: true, Size: decimal.NewFromInt(2)},
		{Trader: "0xA", Market: "M", StrikeID: 1, PositionID: 1, Timestamp: start + 3*day,
			IsLong: false, IsCall: true, Size: decimal.NewFromInt(-1)},
	}
	base := ComputeParams{
		Epoch: model.Epoch{
			StartTimestamp: start, EndTimestamp: end, EnabledMarkets: []string{"M"},
		},
		Config:          flatConfig(),
		LatestTimestamp: end,
		Trades:          map[string][]model.Trade{"M": trades},
		DeltaSnapshots: map[string]map[int64][]model.DeltaSnapshot{
			"M": {1: {{Timestamp: start, Delta: 0.3}, {Timestamp: start + 5*day, Delta: 0.4}}},
		},
		StrikeDetails: map[string]map[int64]model.StrikeDetails{
			"M": {1: {StrikeID: 1, ExpiryTimestamp: end + 100*day}},
		},
	}

	noXfer, _, _, err := Compute(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	withXfer := base
	withXfer.Transfers = map[string][]model.Transfer{"M": {
		{Market: "M", StrikeID: 1, PositionID: 1, OldOwner: "0xA", NewOwner: "0xC",
			Timestamp: start + 4*day, IsCall: true},
	}}
	xfer, _, _, err := Compute(withXfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := math.Abs(noXfer.ShortCollat.TotalShortCallSeconds - xfer.ShortCollat.TotalShortCallSeconds); diff > 1e-6 {
		t.Errorf("transfers changed the open-interest integral by %v", diff)
	}
}
