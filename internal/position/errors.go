package position

import "fmt"

// RiskError is the advisory rejection returned for a hypothetical order that
// would breach configured limits. It is a normal decision outcome, not an
// exception path: callers skip or shrink the order and move on. It is never
// returned for a confirmed fill.
type RiskError struct {
	MarketID string
	Reason   string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk limit: %s: %s", e.MarketID, e.Reason)
}

// CorruptionError marks a broken position invariant: a replayed fill id with a
// different quantity, or inventory going negative beyond tolerance. Fatal for
// the market's worker; state is preserved for manual inspection.
type CorruptionError struct {
	MarketID string
	FillID   string
	Detail   string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("position corrupted: %s: fill %s: %s", e.MarketID, e.FillID, e.Detail)
}
