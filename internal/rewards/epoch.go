package rewards

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/derivex/rewards-engine/internal/model"
)

// ComputeParams carries everything one epoch computation needs. All event
// batches are fully materialized before Compute is invoked; the engine
// performs no I/O.
type ComputeParams struct {
	Epoch  model.Epoch
	Config model.RewardsConfig

	// LatestTimestamp is the watermark of the freshest data available,
	// used to cap snapshot intervals that are still open.
	LatestTimestamp int64

	Trades         map[string][]model.Trade
	Transfers      map[string][]model.Transfer
	DeltaSnapshots map[string]map[int64][]model.DeltaSnapshot
	StrikeDetails  map[string]map[int64]model.StrikeDetails

	// Balances supplies staked balances for the boost curve. Nil means no
	// trader has any stake.
	Balances BalanceSource
}

// userAccum is the running per-trader ledger. Accumulation into it is
// commutative, so iteration order never changes the final sums beyond
// float associativity.
type userAccum struct {
	fees                 float64
	tradingRebateDollars float64
	shortCallSeconds     float64
	shortPutSeconds      float64
	collatRebateDollars  float64
	totalRebateDollars   float64
	govRebate            float64
	partnerRebate        float64
	effectiveRebateRate  float64
}

type userAccums map[string]*userAccum

// get inserts the zero-value ledger on first touch.
func (m userAccums) get(trader string) *userAccum {
	u, ok := m[trader]
	if !ok {
		u = &userAccum{}
		m[trader] = u
	}
	return u
}

// collatAccum is the per-trader short-collateral subtotal for pass 2.
type collatAccum struct {
	rewardDollars    float64
	shortCallSeconds float64
	shortPutSeconds  float64
}

type zeroBalances struct{}

func (zeroBalances) BalanceAt(string, int64) float64 { return 0 }

// Compute runs the full epoch pipeline: per-trade fee rebates, the
// short-collateral snapshot walk, token conversion, and cap/scale
// normalization. It returns either a complete, internally consistent
// result or an error identifying the offending (market, strikeId,
// positionId); there is no partial output.
func Compute(p ComputeParams) (model.TradingRewards, map[string]model.UserRebate, model.Anomalies, error) {
	if p.Balances == nil {
		p.Balances = zeroBalances{}
	}
	curve := NewRebateCurve(p.Config)
	ignore := NewAddressSet(p.Epoch.IgnoreList)
	genesis := NewAddressSet(p.Epoch.GenesisOwners)

	users := make(userAccums)
	var anomalies model.Anomalies

	var (
		totalFees                  float64
		totalUnscaledDollars       float64
		totalTradingUnscaled       float64
		totalCollatUnscaled        float64
		totalGov, totalPartner     float64
		tradingGov, tradingPartner float64
	)

	// --- Pass 1: trading-fee rebates ---
	for _, market := range p.Epoch.EnabledMarkets {
		for _, trade := range p.Trades[market] {
			if trade.Timestamp < p.Epoch.StartTimestamp || trade.Timestamp >= p.Epoch.EndTimestamp {
				continue
			}
			if ignore.Contains(trade.Trader) {
				continue
			}

			balance := p.Balances.BalanceAt(trade.Trader, trade.Timestamp)
			rebate := CalcTradeRebate(trade, curve, balance)
			u := users.get(trade.Trader)

			u.fees += rebate.Fees
			totalFees += rebate.Fees

			u.tradingRebateDollars += rebate.Rebate
			u.totalRebateDollars += rebate.Rebate
			totalUnscaledDollars += rebate.Rebate
			totalTradingUnscaled += rebate.Rebate

			gov, partner := p.tokenSplit(rebate.Rebate, &anomalies)
			u.govRebate += gov
			u.partnerRebate += partner
			tradingGov += gov
			tradingPartner += partner
			totalGov += gov
			totalPartner += partner
		}
	}

	// --- Pass 2: short-collateral rebates ---
	collat := make(map[string]*collatAccum)
	var collatCallSeconds, collatPutSeconds float64

	for _, market := range p.Epoch.EnabledMarkets {
		integ := NewIntegrator(market, p.Trades[market], p.Transfers[market], genesis)
		rates := p.Config.ShortCollatRewards[market]

		strikes := make([]int64, 0, len(p.DeltaSnapshots[market]))
		for strikeID := range p.DeltaSnapshots[market] {
			strikes = append(strikes, strikeID)
		}
		sort.Slice(strikes, func(i, j int) bool { return strikes[i] < strikes[j] })

		for _, strikeID := range strikes {
			details, ok := p.StrikeDetails[market][strikeID]
			if !ok {
				return model.TradingRewards{}, nil, anomalies,
					fmt.Errorf("rewards: missing strike details (market=%s strike=%d)", market, strikeID)
			}

			snaps := make([]model.DeltaSnapshot, len(p.DeltaSnapshots[market][strikeID]))
			copy(snaps, p.DeltaSnapshots[market][strikeID])
			sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Timestamp < snaps[j].Timestamp })

			firstSnap := true
			for i, snap := range snaps {
				if snap.Timestamp >= p.Epoch.EndTimestamp {
					// Nothing after the epoch counts.
					break
				}
				if i < len(snaps)-1 && snaps[i+1].Timestamp <= p.Epoch.StartTimestamp {
					// Skip snapshots fully before the epoch.
					continue
				}

				countStart := snap.Timestamp
				if firstSnap {
					countStart = p.Epoch.StartTimestamp
					firstSnap = false
				}

				var countEnd int64
				if i == len(snaps)-1 {
					countEnd = min64(p.Epoch.EndTimestamp, p.LatestTimestamp, details.ExpiryTimestamp)
				} else {
					countEnd = snaps[i+1].Timestamp
				}

				if countStart > countEnd {
					continue
				}

				callSec, putSec, counts, err := integ.ShortSeconds(strikeID, countStart, countEnd)
				if err != nil {
					return model.TradingRewards{}, nil, anomalies, err
				}
				anomalies.ZeroSizeTransfers += counts.ZeroSizeTransfers
				anomalies.TiedTimestamps += counts.TiedTimestamps

				callReward, putReward := CollatRates(rates, snap.Delta, details.ExpiryTimestamp, countStart)

				for user, sec := range callSec {
					if ignore.Contains(user) {
						continue
					}
					c := getCollat(collat, user)
					c.rewardDollars += callReward * sec / SecondsPerDay
					c.shortCallSeconds += sec
					collatCallSeconds += sec
				}
				for user, sec := range putSec {
					if ignore.Contains(user) {
						continue
					}
					c := getCollat(collat, user)
					c.rewardDollars += putReward * sec / SecondsPerDay
					c.shortPutSeconds += sec
					collatPutSeconds += sec
				}
			}
		}
	}

	var collatGov, collatPartner float64
	for user, c := range collat {
		u := users.get(user)
		u.shortCallSeconds += c.shortCallSeconds
		u.shortPutSeconds += c.shortPutSeconds
		u.collatRebateDollars += c.rewardDollars
		u.totalRebateDollars += c.rewardDollars
		totalUnscaledDollars += c.rewardDollars
		totalCollatUnscaled += c.rewardDollars

		gov, partner := p.tokenSplit(c.rewardDollars, &anomalies)
		u.govRebate += gov
		u.partnerRebate += partner
		collatGov += gov
		collatPartner += partner
		totalGov += gov
		totalPartner += partner
	}

	// --- Cap & scale ---
	govScale, partnerScale := 1.0, 1.0
	if totalGov > p.Config.GovRewardsCap {
		govScale = p.Config.GovRewardsCap / totalGov
		totalGov = p.Config.GovRewardsCap
	}
	if totalPartner > p.Config.PartnerRewardsCap {
		partnerScale = p.Config.PartnerRewardsCap / totalPartner
		totalPartner = p.Config.PartnerRewardsCap
	}

	for _, u := range users {
		u.govRebate *= govScale
		u.partnerRebate *= partnerScale

		scaledGovDollars := u.tradingRebateDollars * p.Config.GovPortion * govScale
		scaledPartnerDollars := u.tradingRebateDollars * (1 - p.Config.GovPortion) * partnerScale
		if u.fees != 0 {
			u.effectiveRebateRate = (scaledGovDollars + scaledPartnerDollars) / u.fees
		}
	}

	rewards := model.TradingRewards{
		TotalGovRebate:     dec(totalGov),
		TotalPartnerRebate: dec(totalPartner),
		GovScaleFactor:     dec(govScale),
		PartnerScaleFactor: dec(partnerScale),

		TotalUnscaledRebateDollars:        dec(totalUnscaledDollars),
		TotalTradingUnscaledRebateDollars: dec(totalTradingUnscaled),
		TotalCollatUnscaledRebateDollars:  dec(totalCollatUnscaled),
		TotalFees:                         dec(totalFees),

		TradingRebates: model.RebateSplit{
			TotalGovRebate:     dec(tradingGov),
			TotalPartnerRebate: dec(tradingPartner),
		},
		ShortCollat: model.ShortCollatTotals{
			TotalShortCallSeconds: collatCallSeconds,
			TotalShortPutSeconds:  collatPutSeconds,
			TotalGovRebate:        dec(collatGov),
			TotalPartnerRebate:    dec(collatPartner),
		},
	}

	userRebates := make(map[string]model.UserRebate, len(users))
	for trader, u := range users {
		userRebates[trader] = model.UserRebate{
			Fees:                 dec(u.fees),
			EffectiveRebateRate:  dec(u.effectiveRebateRate),
			TradingRebateDollars: dec(u.tradingRebateDollars),
			ShortCallSeconds:     u.shortCallSeconds,
			ShortPutSeconds:      u.shortPutSeconds,
			CollatRebateDollars:  dec(u.collatRebateDollars),
			TotalRebateDollars:   dec(u.totalRebateDollars),
			GovRebate:            dec(u.govRebate),
			PartnerRebate:        dec(u.partnerRebate),
		}
	}

	return rewards, userRebates, anomalies, nil
}

// tokenSplit converts a dollar rebate into governance and partner token
// amounts at the configured split ratio and fixed prices. Non-finite or
// negative conversions (a zero fixed price, a degenerate balance feeding
// the curve) are floored to zero by policy rather than propagated.
func (p ComputeParams) tokenSplit(dollars float64, anomalies *model.Anomalies) (gov, partner float64) {
	gov = dollars * p.Config.GovPortion / p.Config.FixedGovPrice
	partner = dollars * (1 - p.Config.GovPortion) / p.Config.FixedPartnerPrice

	if !isUsable(gov) {
		gov = 0
		anomalies.ClampedConversions++
	}
	if !isUsable(partner) {
		partner = 0
		anomalies.ClampedConversions++
	}
	return gov, partner
}

func isUsable(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0
}

func getCollat(m map[string]*collatAccum, user string) *collatAccum {
	c, ok := m[user]
	if !ok {
		c = &collatAccum{}
		m[user] = c
	}
	return c
}

// dec converts a finished float accumulator into a decimal at the reward
// scale. Accumulators are finite by construction (degenerate conversions
// are clamped before they enter a sum).
func dec(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(RewardScale)
}

func min64(vals ...int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
