// Package export renders stored epoch runs as CSV for distribution
// tooling and manual review.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/derivex/rewards-engine/internal/model"
)

var header = []string{
	"account",
	"start_timestamp",
	"end_timestamp",
	"fees",
	"effective_rebate_rate",
	"trading_rebate_dollars",
	"short_call_seconds",
	"short_put_seconds",
	"collat_rebate_dollars",
	"total_rebate_dollars",
	"gov_rebate",
	"partner_rebate",
}

// WriteCSV renders one run's per-user ledger, one row per account in
// address order so repeated exports of the same run diff cleanly.
func WriteCSV(w io.Writer, r *model.EpochResult) error {
	accounts := make([]string, 0, len(r.Users))
	for account := range r.Users {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	start := strconv.FormatInt(r.StartTimestamp, 10)
	end := strconv.FormatInt(r.EndTimestamp, 10)

	for _, account := range accounts {
		u := r.Users[account]
		row := []string{
			account,
			start,
			end,
			u.Fees.String(),
			u.EffectiveRebateRate.String(),
			u.TradingRebateDollars.String(),
			strconv.FormatFloat(u.ShortCallSeconds, 'f', -1, 64),
			strconv.FormatFloat(u.ShortPutSeconds, 'f', -1, 64),
			u.CollatRebateDollars.String(),
			u.TotalRebateDollars.String(),
			u.GovRebate.String(),
			u.PartnerRebate.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write row for %s: %w", account, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Filename names a run's export the way the distribution scripts expect.
func Filename(r *model.EpochResult) string {
	return fmt.Sprintf("complete-rewards-%s-%d.csv", r.EpochID, r.StartTimestamp)
}
