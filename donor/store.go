/*
store.go - Persistence interfaces for the four durable collections

PURPOSE:
  Defines the contracts between the engines and storage. Four narrow,
  statically typed interfaces replace the original's dynamically
  indexed collection access: ledger, history, group config, admins.
  Method names are distinct across interfaces so one concrete store
  can implement all four.

UPSERT-RETURNS-PREVIOUS:
  UpsertIncrement and UpsertSet return the balance from before the
  write, observed atomically with it. The engine needs the pair to
  decide whether the balance crossed zero; the store guarantees the
  pair is consistent even under concurrent external writers, and the
  engine's own lock additionally excludes engine-originated ones.

HISTORY IS APPEND-ONLY:
  HistoryStore has no update or delete. Corrections are new records.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - store/postgres: production Postgres
  - donor/store: in-memory, for tests and dev

SEE ALSO:
  - engine.go, reconcile.go: the only writers of these collections
*/
package donor

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER STORE - user -> current balance
// =============================================================================

// LedgerStore is the durable balance mapping. Users absent from the
// store have balance zero; either upsert creates the row.
type LedgerStore interface {
	// UpsertIncrement adds amount to the user's balance and returns the
	// balance from before the write, atomically.
	UpsertIncrement(ctx context.Context, user UserID, amount decimal.Decimal) (decimal.Decimal, error)

	// UpsertSet replaces the user's balance with amount and returns the
	// balance from before the write, atomically.
	UpsertSet(ctx context.Context, user UserID, amount decimal.Decimal) (decimal.Decimal, error)

	// GetBalance returns the user's balance, zero if the user has none.
	GetBalance(ctx context.Context, user UserID) (decimal.Decimal, error)
}

// =============================================================================
// HISTORY STORE - user -> ordered mutation log
// =============================================================================

// HistoryStore is the append-only per-user mutation log.
type HistoryStore interface {
	// AppendHistory adds a record at the end of the user's history.
	AppendHistory(ctx context.Context, user UserID, rec HistoryRecord) error

	// ListHistory returns the user's history in insertion order.
	ListHistory(ctx context.Context, user UserID) ([]HistoryRecord, error)
}

// =============================================================================
// GROUP CONFIG STORE - group -> optional grant
// =============================================================================

// GroupConfigStore is the durable group-to-grant mapping. The set and
// delete operations return the previous grant so the reconciliation
// engine can detect no-op changes without a separate read.
type GroupConfigStore interface {
	// GetGroupGrant returns the group's configured grant. hadGrant is
	// false when the group has none configured.
	GetGroupGrant(ctx context.Context, group GroupID) (grant GrantID, hadGrant bool, err error)

	// SetGroupGrant configures grant for the group, creating or
	// overwriting the row, and returns what was configured before.
	SetGroupGrant(ctx context.Context, group GroupID, grant GrantID) (prev GrantID, hadGrant bool, err error)

	// DeleteGroupGrant clears the group's grant and returns what was
	// configured before. Deleting an absent row is not an error.
	DeleteGroupGrant(ctx context.Context, group GroupID) (prev GrantID, hadGrant bool, err error)

	// ListGroupGrants enumerates every group with a configured grant.
	ListGroupGrants(ctx context.Context) ([]GroupConfig, error)
}

// =============================================================================
// ADMIN STORE - privileged-user allowlist
// =============================================================================

// AdminStore is the durable set of users granted elevated privilege.
// The fixed owner identity is implicitly privileged and never stored.
type AdminStore interface {
	ContainsAdmin(ctx context.Context, user UserID) (bool, error)

	// AddAdmin inserts user and reports whether they were already present.
	AddAdmin(ctx context.Context, user UserID) (wasPresent bool, err error)

	// RemoveAdmin deletes user and reports whether they were present.
	RemoveAdmin(ctx context.Context, user UserID) (wasPresent bool, err error)
}
