package donor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledge/donor-engine/donor"
	memstore "github.com/pledge/donor-engine/donor/store"
)

func newTestChecker(t *testing.T) (*donor.Checker, *memstore.Memory, *fakeDirectory) {
	t.Helper()

	st := memstore.NewMemory()
	dir := newFakeDirectory()
	checker := &donor.Checker{
		Owner:          "owner",
		Admins:         st,
		Directory:      dir,
		ReferenceGroup: "home-guild",
		ElevatedGrant:  "staff",
	}
	return checker, st, dir
}

func TestChecker_OwnerAlwaysPrivileged(t *testing.T) {
	checker, _, _ := newTestChecker(t)

	ok, err := checker.IsPrivileged(context.Background(), "owner")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, checker.IsOwner("owner"))
	assert.False(t, checker.IsOwner("someone"))
}

func TestChecker_AllowlistedUser(t *testing.T) {
	// GIVEN: A user on the durable allowlist
	// WHEN: Checking privilege
	// THEN: Privileged, without any directory lookup

	checker, st, _ := newTestChecker(t)
	ctx := context.Background()

	_, err := st.AddAdmin(ctx, "trusted")
	require.NoError(t, err)

	ok, err := checker.IsPrivileged(ctx, "trusted")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_ElevatedGrantInReferenceGroup(t *testing.T) {
	// GIVEN: A user holding the designated grant in the reference group
	// WHEN: Checking privilege
	// THEN: Privileged via the grant path

	checker, _, dir := newTestChecker(t)
	dir.join("home-guild", "mod", "staff", "gold")

	ok, err := checker.IsPrivileged(context.Background(), "mod")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_PlainUserDenied(t *testing.T) {
	checker, _, dir := newTestChecker(t)
	dir.join("home-guild", "member", "gold")

	ok, err := checker.IsPrivileged(context.Background(), "member")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_DirectoryFailureDenies(t *testing.T) {
	// GIVEN: A user not on the allowlist and unknown to the directory
	// WHEN: Checking privilege
	// THEN: Denied without error; the grant path fails closed

	checker, _, _ := newTestChecker(t)

	ok, err := checker.IsPrivileged(context.Background(), "stranger")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_GrantPathDisabled(t *testing.T) {
	// GIVEN: No reference group configured
	// WHEN: Checking a user who holds the grant
	// THEN: Denied; only the allowlist and owner paths remain

	checker, _, dir := newTestChecker(t)
	checker.ReferenceGroup = ""
	dir.join("home-guild", "mod", "staff")

	ok, err := checker.IsPrivileged(context.Background(), "mod")
	require.NoError(t, err)
	assert.False(t, ok)
}
