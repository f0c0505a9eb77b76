// Package stake answers point-in-time staked-balance queries from the
// safety module's cooldown event history. A trader's balance only counts
// toward the fee-rebate boost once any pending unstake cooldown has
// matured, so the effective balance at time T is the balance reported by
// the latest event at or before T whose cooldown window has elapsed.
package stake

import (
	"sort"
	"time"
)

// DefaultCooldownDuration is 14 days of unstake cooldown plus the 2 day
// redemption window.
const DefaultCooldownDuration = 16 * 24 * time.Hour

// CooldownEvent is one staking-state change emitted by the safety module.
type CooldownEvent struct {
	User              string  `json:"user"`
	CooldownTimestamp int64   `json:"cooldown_timestamp"` // 0 when no cooldown pending
	Balance           float64 `json:"balance"`
	Timestamp         int64   `json:"timestamp"`
	Block             int64   `json:"block"`
}

// Ledger indexes cooldown events per user for balance-at-time queries.
// It implements the engine's BalanceSource contract.
type Ledger struct {
	byUser   map[string][]CooldownEvent
	cooldown int64
}

// NewLedger builds a ledger from raw events. Events are grouped per user
// and sorted ascending by timestamp. A non-positive cooldown falls back
// to DefaultCooldownDuration.
func NewLedger(events []CooldownEvent, cooldown time.Duration) *Ledger {
	if cooldown <= 0 {
		cooldown = DefaultCooldownDuration
	}

	byUser := make(map[string][]CooldownEvent)
	for _, ev := range events {
		byUser[ev.User] = append(byUser[ev.User], ev)
	}
	for user := range byUser {
		evs := byUser[user]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp < evs[j].Timestamp })
	}

	return &Ledger{
		byUser:   byUser,
		cooldown: int64(cooldown / time.Second),
	}
}

// BalanceAt returns the trader's effective staked balance at ts: the
// balance of the latest qualifying event at or before ts. An event
// qualifies when it carries no cooldown or its cooldown has matured by
// ts. Traders with no history have balance 0.
func (l *Ledger) BalanceAt(trader string, ts int64) float64 {
	balance := 0.0
	for _, ev := range l.byUser[trader] {
		if ev.Timestamp > ts {
			break
		}
		if ev.CooldownTimestamp == 0 || ev.CooldownTimestamp+l.cooldown <= ts {
			balance = ev.Balance
		}
	}
	return balance
}

// Users returns the number of distinct stakers in the ledger.
func (l *Ledger) Users() int {
	return len(l.byUser)
}
