package rewards

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/derivex/rewards-engine/internal/model"
)

func tableConfig() model.RewardsConfig {
	return model.RewardsConfig{
		UseRebateTable: true,
		RebateRateTable: []model.RebateTableEntry{
			{Cutoff: 0, ReturnRate: 0.05},
			{Cutoff: 1000, ReturnRate: 0.15},
			{Cutoff: 100000, ReturnRate: 0.30},
			{Cutoff: 1000000, ReturnRate: 0.60},
		},
	}
}

func curveConfig() model.RewardsConfig {
	// Production-shaped constants: rate = min(0.6, 0.2 + max(0, 0.043*(9.3 + ln(b/3e6)))).
	return model.RewardsConfig{
		MaxRebatePercentage: 0.6,
		NetVerticalStretch:  0.043,
		VerticalShift:       9.3,
		VertIntercept:       0.2,
		Stretchiness:        3_000_000,
	}
}

// --- Table mode ---

func TestRate_TableSelectsHighestQualifyingCutoff(t *testing.T) {
	curve := NewRebateCurve(tableConfig())

	tests := []struct {
		balance float64
		want    float64
	}{
		{0, 0.05},
		{999, 0.05},
		{1000, 0.15},
		{99999, 0.15},
		{100000, 0.30},
		{5000000, 0.60},
	}
	for _, tt := range tests {
		if got := curve.Rate(tt.balance); got != tt.want {
			t.Errorf("Rate(%v) = %v, want %v", tt.balance, got, tt.want)
		}
	}
}

func TestRate_TableMonotonic(t *testing.T) {
	curve := NewRebateCurve(tableConfig())

	prev := -1.0
	for b := 0.0; b <= 2_000_000; b += 7919 {
		got := curve.Rate(b)
		if got < prev {
			t.Fatalf("rate decreased: Rate(%v) = %v < %v", b, got, prev)
		}
		prev = got
	}
}

func TestRate_TableNoQualifyingEntry(t *testing.T) {
	cfg := model.RewardsConfig{
		UseRebateTable:  true,
		RebateRateTable: []model.RebateTableEntry{{Cutoff: 500, ReturnRate: 0.2}},
	}
	curve := NewRebateCurve(cfg)
	if got := curve.Rate(100); got != 0 {
		t.Errorf("expected 0 when no cutoff qualifies, got %v", got)
	}
}

// --- Curve mode ---

func TestRate_CurveCappedAtMax(t *testing.T) {
	curve := NewRebateCurve(curveConfig())
	if got := curve.Rate(1e12); got != 0.6 {
		t.Errorf("huge balance should hit the cap: got %v, want 0.6", got)
	}
}

func TestRate_CurveMatchesFormula(t *testing.T) {
	cfg := curveConfig()
	curve := NewRebateCurve(cfg)

	balance := 500_000.0
	want := math.Min(cfg.MaxRebatePercentage,
		cfg.VertIntercept+math.Max(0, cfg.NetVerticalStretch*(cfg.VerticalShift+math.Log(balance/cfg.Stretchiness))))
	if got := curve.Rate(balance); got != want {
		t.Errorf("Rate(%v) = %v, want %v", balance, got, want)
	}
}

func TestRate_CurveZeroBalanceFloorsToIntercept(t *testing.T) {
	curve := NewRebateCurve(curveConfig())

	for _, b := range []float64{0, -1, -1e9} {
		got := curve.Rate(b)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("Rate(%v) must not be NaN/Inf, got %v", b, got)
		}
		if got != 0.2 {
			t.Errorf("Rate(%v) = %v, want intercept 0.2", b, got)
		}
	}
}

func TestRate_CurveTinyBalanceNoBoost(t *testing.T) {
	curve := NewRebateCurve(curveConfig())
	// Small positive balance: log term is deeply negative, max(0, ·) kills it.
	if got := curve.Rate(1); got != 0.2 {
		t.Errorf("Rate(1) = %v, want intercept 0.2", got)
	}
}

// --- Per-trade rebate ---

func TestCalcTradeRebate_SumsFeeComponents(t *testing.T) {
	curve := NewRebateCurve(tableConfig())
	trade := model.Trade{
		Trader:         "0xA",
		SpotPriceFee:   decimal.NewFromFloat(5.5),
		VegaUtilFee:    decimal.NewFromFloat(1.0),
		OptionPriceFee: decimal.NewFromFloat(2.0),
		VarianceFee:    decimal.NewFromFloat(1.5),
	}

	got := CalcTradeRebate(trade, curve, 1000)
	if got.Fees != 10.0 {
		t.Errorf("fees = %v, want 10", got.Fees)
	}
	if got.Rebate != 10.0*0.15 {
		t.Errorf("rebate = %v, want %v", got.Rebate, 10.0*0.15)
	}
	if got.BoostedRebateRate != 0.15 {
		t.Errorf("boosted rate = %v, want 0.15", got.BoostedRebateRate)
	}
}

func TestCalcTradeRebate_Deterministic(t *testing.T) {
	curve := NewRebateCurve(curveConfig())
	trade := model.Trade{
		Trader:       "0xA",
		SpotPriceFee: decimal.NewFromFloat(3.25),
		VarianceFee:  decimal.NewFromFloat(0.75),
	}

	first := CalcTradeRebate(trade, curve, 250_000)
	for i := 0; i < 10; i++ {
		if got := CalcTradeRebate(trade, curve, 250_000); got != first {
			t.Fatalf("rebate not deterministic: %+v vs %+v", got, first)
		}
	}
}
