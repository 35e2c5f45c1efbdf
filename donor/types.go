/*
Package donor provides the core donation-ledger and grant-sync engine.

PURPOSE:
  This package contains the domain types and the two engine algorithms
  that keep a per-user donation balance and the grants derived from it
  consistent across any number of independently configured groups.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserID / GroupID / GrantID: Type-safe identifiers
  - Op: The two ledger mutations (increment, set)
  - HistoryRecord: An immutable log entry describing one mutation
  - GroupConfig: A group's configured grant, if any

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Auditability: Every mutation produces a HistoryRecord and an
     audit line; history is append-only and never edited
  3. Derivability: Grant state is always recomputable from the ledger,
     so a failed grant update is converged by a later one

SEE ALSO:
  - engine.go: Balance mutation with grant fan-out
  - reconcile.go: Group reconfiguration with membership walk
  - store.go: Persistence interfaces
*/
package donor

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type GroupID string
type GrantID string

// SystemActor is the synthetic identity recorded for automated mutations
// (e.g. donation webhook ingest). It is never a real user.
const SystemActor UserID = "system"

// =============================================================================
// OPERATIONS - The two ledger mutations
// =============================================================================

type Op string

const (
	OpIncrement Op = "increment" // balance += amount
	OpSet       Op = "set"       // balance = amount
)

// Valid reports whether op is one of the known mutation kinds.
func (op Op) Valid() bool {
	return op == OpIncrement || op == OpSet
}

// =============================================================================
// HISTORY RECORD - Append-only mutation log entry
// =============================================================================

// HistoryRecord describes one ledger mutation. Records are append-only
// and insertion-ordered; replaying them in order reconstructs the
// current balance (see ReplayTotals).
type HistoryRecord struct {
	ID     string
	Time   time.Time
	Actor  UserID
	Op     Op
	Amount decimal.Decimal
}

// Apply returns the running total after this record, given the total
// before it: increment adds, set replaces.
func (r HistoryRecord) Apply(total decimal.Decimal) decimal.Decimal {
	if r.Op == OpSet {
		return r.Amount
	}
	return total.Add(r.Amount)
}

// =============================================================================
// GROUP CONFIG - A group's configured grant
// =============================================================================

// GroupConfig maps a group to its configured grant identifier.
// A group with no config row has no grant configured.
type GroupConfig struct {
	Group GroupID
	Grant GrantID
}

// =============================================================================
// AMOUNT HELPERS
// =============================================================================

// Eligible reports whether a balance confers the grant. Zero does not:
// only a strictly positive balance counts.
func Eligible(balance decimal.Decimal) bool {
	return balance.IsPositive()
}

// CrossedZero reports whether a balance change moved between the
// positive and non-positive classes in either direction. Only such
// changes require grant fan-out.
func CrossedZero(prev, next decimal.Decimal) bool {
	return prev.IsPositive() != next.IsPositive()
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
