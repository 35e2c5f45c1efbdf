/*
privilege.go - Elevated-privilege check

PURPOSE:
  Gates ledger mutations and allowlist changes. A user is privileged
  when they are the fixed owner identity, OR on the durable allowlist,
  OR hold the designated elevated grant in the reference group.
*/
package donor

import "context"

// Checker decides whether a user may perform privileged operations.
type Checker struct {
	// Owner is the fixed owner identity; always privileged, never
	// stored on the allowlist.
	Owner UserID

	Admins    AdminStore
	Directory Directory

	// ReferenceGroup and ElevatedGrant designate the membership that
	// confers privilege without an allowlist entry. Either may be empty
	// to disable this path.
	ReferenceGroup GroupID
	ElevatedGrant  GrantID
}

// IsPrivileged reports whether user may perform privileged operations.
// A directory failure on the elevated-grant path denies rather than
// errors; allowlist read failures surface as store errors.
func (c *Checker) IsPrivileged(ctx context.Context, user UserID) (bool, error) {
	if user == c.Owner {
		return true, nil
	}

	listed, err := c.Admins.ContainsAdmin(ctx, user)
	if err != nil {
		return false, storeErr("admin", err)
	}
	if listed {
		return true, nil
	}

	if c.ReferenceGroup == "" || c.ElevatedGrant == "" {
		return false, nil
	}
	member, err := c.Directory.ResolveMember(ctx, c.ReferenceGroup, user)
	if err != nil {
		discard("privilege lookup", err)
		return false, nil
	}
	for _, g := range member.Grants {
		if g == c.ElevatedGrant {
			return true, nil
		}
	}
	return false, nil
}

// IsOwner reports whether user is the fixed owner identity. Allowlist
// mutation itself is owner-only.
func (c *Checker) IsOwner(user UserID) bool {
	return user == c.Owner
}
