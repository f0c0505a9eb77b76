package rewards

import "fmt"

// IntegrityKind classifies fatal data-integrity violations. Any of these
// aborts the whole epoch: reward issuance must never be based on an
// inconsistent ledger, so there is no partial or best-effort output.
type IntegrityKind int

const (
	// KindNoTradeHistory: a transfer references a position with no
	// matching trade history.
	KindNoTradeHistory IntegrityKind = iota

	// KindStrikeMismatch: a trade matched by positionId carries a
	// different strikeId than the transfer.
	KindStrikeMismatch

	// KindMissingOwner: the old owner of a transferred short position has
	// no exposure bucket and is not a genesis placeholder address.
	KindMissingOwner
)

func (k IntegrityKind) String() string {
	switch k {
	case KindNoTradeHistory:
		return "no trade history for transfer"
	case KindStrikeMismatch:
		return "strike mismatch between trade and transfer"
	case KindMissingOwner:
		return "missing exposure bucket for transfer old owner"
	default:
		return "unknown integrity violation"
	}
}

// IntegrityError identifies the offending (market, strikeId, positionId)
// of a fatal ledger inconsistency.
type IntegrityError struct {
	Kind       IntegrityKind
	Market     string
	StrikeID   int64
	PositionID int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("rewards: %s (market=%s strike=%d position=%d)",
		e.Kind, e.Market, e.StrikeID, e.PositionID)
}
