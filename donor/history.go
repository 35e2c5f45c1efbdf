/*
history.go - History replay with running totals

PURPOSE:
  Reconstructs the balance trajectory from the append-only history.
  Replaying the full history must land exactly on the current ledger
  balance; that agreement is the system's core audit invariant.
*/
package donor

import "github.com/shopspring/decimal"

// HistoryLine is one history record annotated with the running total
// before and after it, for display alongside the raw record.
type HistoryLine struct {
	Record HistoryRecord
	Before decimal.Decimal
	After  decimal.Decimal
}

// ReplayTotals replays records in order from zero, yielding each record
// with its before/after totals. The final After (zero when there are no
// records) is the balance the ledger must agree with.
func ReplayTotals(records []HistoryRecord) []HistoryLine {
	lines := make([]HistoryLine, len(records))
	total := decimal.Zero
	for i, rec := range records {
		before := total
		total = rec.Apply(total)
		lines[i] = HistoryLine{Record: rec, Before: before, After: total}
	}
	return lines
}

// ReplayBalance returns the balance after replaying all records.
func ReplayBalance(records []HistoryRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		total = rec.Apply(total)
	}
	return total
}
