/*
reconcile.go - Group Reconciliation Engine

PURPOSE:
  Changes (or clears) a group's configured grant and converges every
  current member's grant state against the ledger. The mirror image of
  engine.go's fan-out: one group, all members, instead of one user,
  all groups.

NO-OP SHORT-CIRCUIT:
  Setting the grant a group already has, or clearing an already-absent
  grant, changes nothing: no audit line, no membership walk. The caller
  learns this from Changed so it can reply "already set".

WALK:
  For each member, the desired grant set is their current set minus the
  previous grant, plus the new grant iff their balance is positive.
  Applied with an idempotent grant-set replace; members whose desired
  set already matches are left alone. Per-member failures are dropped
  independently and the walk always runs to completion.
*/
package donor

import (
	"context"
	"fmt"
)

// ReconcileResult reports the outcome of one group reconfiguration.
type ReconcileResult struct {
	Previous    GrantID
	HadPrevious bool
	// Changed is false when the new configuration equals the old one;
	// in that case nothing was audited and no membership walk ran.
	Changed bool
}

// ReconfigureGroup sets the group's grant to newGrant, or clears the
// configuration when newGrant is empty.
//
// The group's lock serializes reconfigurations: a concurrent attempt on
// the same group is rejected with ErrGroupBusy rather than interleaved.
// Unrelated groups are unaffected.
func (e *Engine) ReconfigureGroup(ctx context.Context, actor UserID, group GroupID, newGrant GrantID) (ReconcileResult, error) {
	if !e.Locks.TryAcquire(string(group)) {
		return ReconcileResult{}, &GroupBusyError{Key: string(group)}
	}
	defer e.Locks.Release(string(group))

	var (
		prev     GrantID
		hadPrev  bool
		err      error
		auditMsg string
	)
	if newGrant != "" {
		prev, hadPrev, err = e.Groups.SetGroupGrant(ctx, group, newGrant)
		auditMsg = fmt.Sprintf("%s set grant for %s to %s", actor, group, newGrant)
	} else {
		prev, hadPrev, err = e.Groups.DeleteGroupGrant(ctx, group)
		auditMsg = fmt.Sprintf("%s unset grant for %s", actor, group)
	}
	if err != nil {
		return ReconcileResult{}, storeErr("group config", err)
	}

	res := ReconcileResult{Previous: prev, HadPrevious: hadPrev}
	if hadPrev && prev == newGrant || !hadPrev && newGrant == "" {
		return res, nil
	}
	res.Changed = true

	discard("audit", e.Audit.Emit(ctx, auditMsg))

	e.walkMembers(ctx, group, prev, newGrant)
	return res, nil
}

// walkMembers re-derives the grant set of every current member of the
// group after its configuration changed from oldGrant to newGrant
// (either may be empty). Failures are dropped per member.
func (e *Engine) walkMembers(ctx context.Context, group GroupID, oldGrant, newGrant GrantID) {
	members, err := e.Directory.GroupMembers(ctx, group)
	if err != nil {
		discard("member enumeration", err)
		return
	}

	for _, m := range members {
		balance, err := e.Ledger.GetBalance(ctx, m.User)
		if err != nil {
			discard("eligibility read", err)
			continue
		}

		desired := desiredGrants(m.Grants, oldGrant, newGrant, Eligible(balance))
		if grantSetsEqual(m.Grants, desired) {
			continue
		}
		discard("grant replace", e.Directory.ReplaceGrants(ctx, group, m.User, desired))
	}
}

// desiredGrants is current minus old, plus new iff the member is
// eligible and a new grant was supplied.
func desiredGrants(current []GrantID, oldGrant, newGrant GrantID, eligible bool) []GrantID {
	desired := make([]GrantID, 0, len(current)+1)
	for _, g := range current {
		if g != oldGrant && g != newGrant {
			desired = append(desired, g)
		}
	}
	if eligible && newGrant != "" {
		desired = append(desired, newGrant)
	}
	return desired
}

func grantSetsEqual(a, b []GrantID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[GrantID]struct{}, len(a))
	for _, g := range a {
		seen[g] = struct{}{}
	}
	for _, g := range b {
		if _, ok := seen[g]; !ok {
			return false
		}
	}
	return true
}
