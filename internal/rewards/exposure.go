package rewards

import (
	"log/slog"
	"sort"

	"github.com/derivex/rewards-engine/internal/model"
)

// Integrator computes per-user short-seconds (the time-integral of short
// position size over a window) for one market's trades and transfers.
// Build one per market; the positionId index is constructed once so each
// transfer's size reconstruction is an ordered range scan instead of a
// full trade rescan.
type Integrator struct {
	market     string
	trades     []model.Trade
	transfers  []model.Transfer
	byPosition map[int64][]model.Trade
	genesis    *AddressSet
}

// AnomalyCounts tallies soft data-quality issues seen during integration.
type AnomalyCounts struct {
	// ZeroSizeTransfers counts transfers whose reconstructed size was
	// exactly zero. These are skipped, not fatal.
	ZeroSizeTransfers int

	// TiedTimestamps counts trade/transfer pairs sharing the exact same
	// timestamp for the same position. Ordering is undefined there; the
	// trade is treated as preceding the transfer and the case is flagged
	// for manual review.
	TiedTimestamps int
}

// NewIntegrator indexes one market's trades and transfers. Transfers are
// sorted ascending by timestamp; trades within each position likewise.
// Genesis placeholder addresses are exempt from the old-owner bucket check.
func NewIntegrator(market string, trades []model.Trade, transfers []model.Transfer, genesis *AddressSet) *Integrator {
	byPosition := make(map[int64][]model.Trade)
	for _, tr := range trades {
		byPosition[tr.PositionID] = append(byPosition[tr.PositionID], tr)
	}
	for id := range byPosition {
		pos := byPosition[id]
		sort.SliceStable(pos, func(i, j int) bool { return pos[i].Timestamp < pos[j].Timestamp })
	}

	sortedTransfers := make([]model.Transfer, len(transfers))
	copy(sortedTransfers, transfers)
	sort.SliceStable(sortedTransfers, func(i, j int) bool {
		return sortedTransfers[i].Timestamp < sortedTransfers[j].Timestamp
	})

	return &Integrator{
		market:     market,
		trades:     trades,
		transfers:  sortedTransfers,
		byPosition: byPosition,
		genesis:    genesis,
	}
}

// ShortSeconds integrates short exposure for one strike over [start, end).
// It returns user → call-seconds and user → put-seconds maps.
//
// Conservation: transfers reassign exposure zero-sum between owners, so
// the sum over all users of call-seconds (and of put-seconds) is invariant
// under any number of ownership transfers.
func (it *Integrator) ShortSeconds(strikeID, start, end int64) (map[string]float64, map[string]float64, AnomalyCounts, error) {
	callSeconds := make(map[string]float64)
	putSeconds := make(map[string]float64)
	var counts AnomalyCounts

	// Pass 1: trades. A trade accrues size × (end − max(start, ts));
	// closing trades carry negative size and unwind the same position's
	// accrual period-for-period.
	for _, tr := range it.trades {
		if tr.StrikeID != strikeID || tr.IsLong || tr.Timestamp >= end {
			continue
		}
		fromTime := tr.Timestamp
		if fromTime < start {
			fromTime = start
		}
		accrual := tr.Size.InexactFloat64() * float64(end-fromTime)
		if tr.IsCall {
			callSeconds[tr.Trader] += accrual
		} else {
			putSeconds[tr.Trader] += accrual
		}
	}

	// Pass 2: transfers, ascending by timestamp. Each moves the
	// position's size-at-transfer from the old owner to the new owner for
	// the remainder of the window.
	for _, xfer := range it.transfers {
		if xfer.StrikeID != strikeID || xfer.IsLong || xfer.Timestamp >= end {
			continue
		}

		sizeAtTransfer, err := it.sizeAtTransfer(xfer, &counts)
		if err != nil {
			return nil, nil, counts, err
		}
		if sizeAtTransfer == 0 {
			counts.ZeroSizeTransfers++
			slog.Warn("transfer with zero reconstructed size, skipping",
				"market", it.market, "strike", strikeID, "position", xfer.PositionID)
			continue
		}

		fromTime := xfer.Timestamp
		if fromTime < start {
			fromTime = start
		}
		if fromTime > end {
			fromTime = end
		}
		moved := sizeAtTransfer * float64(end-fromTime)

		buckets := callSeconds
		if !xfer.IsCall {
			buckets = putSeconds
		}

		if _, ok := buckets[xfer.OldOwner]; !ok {
			if it.genesis.Contains(xfer.OldOwner) {
				// Pre-history placeholder owner: nothing to move.
				continue
			}
			return nil, nil, counts, &IntegrityError{
				Kind:       KindMissingOwner,
				Market:     it.market,
				StrikeID:   strikeID,
				PositionID: xfer.PositionID,
			}
		}

		buckets[xfer.OldOwner] -= moved
		buckets[xfer.NewOwner] += moved
	}

	return callSeconds, putSeconds, counts, nil
}

// sizeAtTransfer reconstructs the transferred position's size at transfer
// time by summing the signed sizes of its trades up to and including the
// transfer timestamp.
func (it *Integrator) sizeAtTransfer(xfer model.Transfer, counts *AnomalyCounts) (float64, error) {
	history, ok := it.byPosition[xfer.PositionID]
	if !ok || len(history) == 0 {
		return 0, &IntegrityError{
			Kind:       KindNoTradeHistory,
			Market:     it.market,
			StrikeID:   xfer.StrikeID,
			PositionID: xfer.PositionID,
		}
	}

	size := 0.0
	matched := false
	for _, tr := range history {
		if tr.Timestamp > xfer.Timestamp {
			break
		}
		if tr.Timestamp == xfer.Timestamp {
			counts.TiedTimestamps++
			slog.Warn("trade and transfer share a timestamp, ordering undefined",
				"market", it.market, "position", xfer.PositionID, "timestamp", tr.Timestamp)
		}
		if tr.StrikeID != xfer.StrikeID {
			return 0, &IntegrityError{
				Kind:       KindStrikeMismatch,
				Market:     it.market,
				StrikeID:   xfer.StrikeID,
				PositionID: xfer.PositionID,
			}
		}
		size += tr.Size.InexactFloat64()
		matched = true
	}

	if !matched {
		return 0, &IntegrityError{
			Kind:       KindNoTradeHistory,
			Market:     it.market,
			StrikeID:   xfer.StrikeID,
			PositionID: xfer.PositionID,
		}
	}
	return size, nil
}
