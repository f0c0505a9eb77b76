package rewards

import "github.com/derivex/rewards-engine/internal/model"

const (
	// SecondsPerDay converts amount-seconds into option-days.
	SecondsPerDay = 24 * 60 * 60

	// longDatedCutoff is the time-to-expiry beyond which the long-dated
	// penalty applies: four weeks.
	longDatedCutoff = 4 * 7 * 24 * 60 * 60
)

// CollatRates returns the per-option-per-day dollar reward rates for short
// calls and short puts, given the strike's call delta sampled at the start
// of a snapshot interval.
//
// Deltas at or below 0.1 pay the ten-delta rate on calls and the
// ninety-delta rate on puts; at or above 0.9 the rates swap. Strictly
// between the buckets, the call rate interpolates linearly across the span
// and the put rate is its complement, so callReward + putReward is
// constant across all deltas.
//
// Strikes expiring more than four weeks after the interval start have both
// rates multiplied by the long-dated penalty.
func CollatRates(rates model.CollatRewardRates, callDelta float64, expiryTimestamp, intervalStart int64) (callReward, putReward float64) {
	ten := rates.TenDeltaRebatePerOptionDay
	ninety := rates.NinetyDeltaRebatePerOptionDay

	switch {
	case callDelta <= 0.1:
		callReward = ten
		putReward = ninety
	case callDelta >= 0.9:
		callReward = ninety
		putReward = ten
	default:
		diff := ninety - ten
		frac := (callDelta - 0.1) / 0.8
		callReward = ten + diff*frac
		putReward = ten + diff - diff*frac
	}

	if expiryTimestamp-intervalStart > longDatedCutoff {
		callReward *= rates.LongDatedPenalty
		putReward *= rates.LongDatedPenalty
	}
	return callReward, putReward
}
