/*
directory.go - External collaborator contracts

PURPOSE:
  The engine talks to two external systems: the membership/grant
  directory (look up users, enumerate group members, add/remove/replace
  grants) and the audit sink. Both are abstract here; any call may fail
  and every engine call site treats failure as swallow-and-continue.

ERROR DISCIPLINE:
  Fan-out call sites discard errors through the explicit discard
  helper below, never through ignored return values, so the choice to
  drop an error is visible at each site.
*/
package donor

import (
	"context"
	"log"
)

// =============================================================================
// MEMBERSHIP / GRANT DIRECTORY
// =============================================================================

// Member is a user's membership in one group, with their current grants.
type Member struct {
	User   UserID
	Grants []GrantID
}

// Directory is the membership and grant collaborator. All calls may
// fail with permission, not-found, or transient errors; callers in this
// package treat every failure as non-fatal.
type Directory interface {
	// ResolveMember resolves a user's membership in a group.
	ResolveMember(ctx context.Context, group GroupID, user UserID) (Member, error)

	// GroupMembers enumerates the current members of a group.
	GroupMembers(ctx context.Context, group GroupID) ([]Member, error)

	// AddGrant grants a member the given marker within the group.
	AddGrant(ctx context.Context, group GroupID, user UserID, grant GrantID) error

	// RemoveGrant removes the marker from the member within the group.
	RemoveGrant(ctx context.Context, group GroupID, user UserID, grant GrantID) error

	// ReplaceGrants replaces the member's full grant set. Idempotent.
	ReplaceGrants(ctx context.Context, group GroupID, user UserID, grants []GrantID) error
}

// =============================================================================
// AUDIT SINK
// =============================================================================

// Auditor receives one-line audit notifications. Emission is
// fire-and-forget: the engine discards any error.
type Auditor interface {
	Emit(ctx context.Context, line string) error
}

// AuditorFunc adapts a function to the Auditor interface.
type AuditorFunc func(ctx context.Context, line string) error

func (f AuditorFunc) Emit(ctx context.Context, line string) error { return f(ctx, line) }

// NopAuditor discards every audit line.
var NopAuditor = AuditorFunc(func(context.Context, string) error { return nil })

// =============================================================================
// EXPLICIT ERROR DISCARD
// =============================================================================

// discard logs and drops an error from a best-effort call. Using it
// marks the call site as intentionally fire-and-forget.
func discard(what string, err error) {
	if err != nil {
		log.Printf("ignored %s failure: %v", what, err)
	}
}
