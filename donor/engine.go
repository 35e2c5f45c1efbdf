/*
engine.go - Balance Update Engine

PURPOSE:
  The core mutation path. Applies one increment or set to a user's
  ledger under that user's lock, records history, emits an audit line,
  and, when the balance crosses zero, fans the derived grant change out
  to every configured group.

CONSISTENCY CONTRACT:
  - Ledger write + history append are durable and serialized per user.
  - Audit emission and grant fan-out are best-effort: failures are
    logged and dropped, never rolled back. Grant state is re-derivable,
    so a later mutation or a group reconciliation converges it.

FAN-OUT:
  Triggered only when the balance moves between the positive and
  non-positive classes. One attempt per configured group; each attempt
  fails independently (user not a member, transient directory error)
  without affecting the others.

SEE ALSO:
  - reconcile.go: the symmetric per-group walk
  - locks.go: the serialization primitive
*/
package donor

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Engine owns the two consistency-critical algorithms. All fields are
// required except Audit (defaults to NopAuditor) and Now (defaults to
// time.Now); both exist so tests can observe and pin behavior.
type Engine struct {
	Locks     *LockRegistry
	Ledger    LedgerStore
	History   HistoryStore
	Groups    GroupConfigStore
	Directory Directory
	Audit     Auditor
	Now       func() time.Time
}

// NewEngine wires an engine over the given stores and collaborators.
func NewEngine(locks *LockRegistry, ledger LedgerStore, history HistoryStore, groups GroupConfigStore, dir Directory, audit Auditor) *Engine {
	if audit == nil {
		audit = NopAuditor
	}
	return &Engine{
		Locks:     locks,
		Ledger:    ledger,
		History:   history,
		Groups:    groups,
		Directory: dir,
		Audit:     audit,
		Now:       time.Now,
	}
}

// ChangeResult reports the balance before and after one mutation.
type ChangeResult struct {
	Previous decimal.Decimal
	New      decimal.Decimal
}

// ApplyBalanceChange applies op/amount to target's ledger.
//
// The sequence is: acquire target's lock (reject with ErrEntityBusy on
// contention, nothing written); upsert the ledger, capturing the prior
// balance atomically; append a history record; audit; if the balance
// crossed zero, attempt one grant add or remove per configured group.
// The lock is released on every path past acquisition.
//
// Sign constraints on amount are the caller's concern: the engine
// accepts any finite amount for either op.
func (e *Engine) ApplyBalanceChange(ctx context.Context, actor, target UserID, op Op, amount decimal.Decimal) (ChangeResult, error) {
	if !op.Valid() {
		return ChangeResult{}, fmt.Errorf("%w %q", ErrUnknownOp, op)
	}

	if !e.Locks.TryAcquire(string(target)) {
		return ChangeResult{}, &BusyError{Key: string(target)}
	}
	defer e.Locks.Release(string(target))

	var (
		prev decimal.Decimal
		err  error
	)
	if op == OpIncrement {
		prev, err = e.Ledger.UpsertIncrement(ctx, target, amount)
	} else {
		prev, err = e.Ledger.UpsertSet(ctx, target, amount)
	}
	if err != nil {
		return ChangeResult{}, storeErr("ledger", err)
	}

	next := amount
	if op == OpIncrement {
		next = prev.Add(amount)
	}

	rec := HistoryRecord{
		ID:     ulid.Make().String(),
		Time:   e.Now(),
		Actor:  actor,
		Op:     op,
		Amount: amount,
	}
	if err := e.History.AppendHistory(ctx, target, rec); err != nil {
		return ChangeResult{}, storeErr("history", err)
	}

	discard("audit", e.Audit.Emit(ctx, balanceAuditLine(actor, target, op, amount, prev, next)))

	if CrossedZero(prev, next) {
		e.fanOutGrantChange(ctx, target, Eligible(next))
	}

	return ChangeResult{Previous: prev, New: next}, nil
}

// fanOutGrantChange attempts one grant add or remove per configured
// group. Per-group failures are dropped; the remaining groups are still
// attempted and the ledger write is never reverted.
func (e *Engine) fanOutGrantChange(ctx context.Context, user UserID, nowEligible bool) {
	configs, err := e.Groups.ListGroupGrants(ctx)
	if err != nil {
		discard("group enumeration", err)
		return
	}

	for _, cfg := range configs {
		if _, err := e.Directory.ResolveMember(ctx, cfg.Group, user); err != nil {
			discard("member resolution", err)
			continue
		}
		if nowEligible {
			discard("grant add", e.Directory.AddGrant(ctx, cfg.Group, user, cfg.Grant))
		} else {
			discard("grant remove", e.Directory.RemoveGrant(ctx, cfg.Group, user, cfg.Grant))
		}
	}
}

// balanceAuditLine renders the audit notification for one mutation,
// e.g. `alice: SET bob $25.00 (0.00 => 25.00)`. Automated mutations
// are prefixed AUTO instead of an actor.
func balanceAuditLine(actor, target UserID, op Op, amount, prev, next decimal.Decimal) string {
	who := string(actor)
	if actor == SystemActor {
		who = "AUTO"
	}
	return fmt.Sprintf("%s: %s %s $%s (%s => %s)",
		who, opLabel(op), target, amount.StringFixed(2), prev.StringFixed(2), next.StringFixed(2))
}

func opLabel(op Op) string {
	if op == OpSet {
		return "SET"
	}
	return "INCREMENT"
}
