package donor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledge/donor-engine/donor"
	memstore "github.com/pledge/donor-engine/donor/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type grantCall struct {
	Group donor.GroupID
	User  donor.UserID
	Grant donor.GrantID
}

type replaceCall struct {
	Group  donor.GroupID
	User   donor.UserID
	Grants []donor.GrantID
}

// fakeDirectory is an in-memory membership/grant collaborator that
// records every mutation attempt against it.
type fakeDirectory struct {
	mu      sync.Mutex
	members map[donor.GroupID]map[donor.UserID][]donor.GrantID

	adds     []grantCall
	removes  []grantCall
	replaces []replaceCall

	// replaceErr fails ReplaceGrants for specific users.
	replaceErr map[donor.UserID]error

	// blockResolve, when non-nil, makes ResolveMember wait until the
	// channel is closed. Used to hold the engine inside its fan-out.
	blockResolve chan struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members:    make(map[donor.GroupID]map[donor.UserID][]donor.GrantID),
		replaceErr: make(map[donor.UserID]error),
	}
}

func (d *fakeDirectory) join(group donor.GroupID, user donor.UserID, grants ...donor.GrantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[group] == nil {
		d.members[group] = make(map[donor.UserID][]donor.GrantID)
	}
	d.members[group][user] = grants
}

func (d *fakeDirectory) ResolveMember(_ context.Context, group donor.GroupID, user donor.UserID) (donor.Member, error) {
	if d.blockResolve != nil {
		<-d.blockResolve
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	grants, ok := d.members[group][user]
	if !ok {
		return donor.Member{}, errors.New("not a member")
	}
	return donor.Member{User: user, Grants: append([]donor.GrantID(nil), grants...)}, nil
}

func (d *fakeDirectory) GroupMembers(_ context.Context, group donor.GroupID) ([]donor.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var members []donor.Member
	for user, grants := range d.members[group] {
		members = append(members, donor.Member{User: user, Grants: append([]donor.GrantID(nil), grants...)})
	}
	return members, nil
}

func (d *fakeDirectory) AddGrant(_ context.Context, group donor.GroupID, user donor.UserID, grant donor.GrantID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.members[group][user]; !ok {
		return errors.New("not a member")
	}
	d.adds = append(d.adds, grantCall{Group: group, User: user, Grant: grant})
	d.members[group][user] = append(d.members[group][user], grant)
	return nil
}

func (d *fakeDirectory) RemoveGrant(_ context.Context, group donor.GroupID, user donor.UserID, grant donor.GrantID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.members[group][user]; !ok {
		return errors.New("not a member")
	}
	d.removes = append(d.removes, grantCall{Group: group, User: user, Grant: grant})

	kept := d.members[group][user][:0]
	for _, g := range d.members[group][user] {
		if g != grant {
			kept = append(kept, g)
		}
	}
	d.members[group][user] = kept
	return nil
}

func (d *fakeDirectory) ReplaceGrants(_ context.Context, group donor.GroupID, user donor.UserID, grants []donor.GrantID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.replaceErr[user]; err != nil {
		return err
	}
	d.replaces = append(d.replaces, replaceCall{Group: group, User: user, Grants: append([]donor.GrantID(nil), grants...)})
	d.members[group][user] = append([]donor.GrantID(nil), grants...)
	return nil
}

// recordingAuditor captures every emitted line.
type recordingAuditor struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (a *recordingAuditor) Emit(_ context.Context, line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, line)
	return a.err
}

func (a *recordingAuditor) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lines...)
}

func newTestEngine(t *testing.T) (*donor.Engine, *memstore.Memory, *fakeDirectory, *recordingAuditor) {
	t.Helper()

	st := memstore.NewMemory()
	dir := newFakeDirectory()
	audit := &recordingAuditor{}
	engine := donor.NewEngine(donor.NewLockRegistry(), st, st, st, dir, audit)
	engine.Now = func() time.Time { return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC) }
	return engine, st, dir, audit
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// BALANCE UPDATE - CORE SEQUENCE
// =============================================================================

func TestApplyBalanceChange_IncrementFromZero(t *testing.T) {
	// GIVEN: A user with no ledger row and one configured group they belong to
	// WHEN: Incrementing by 25.00
	// THEN: Balance is 25.00, one history record exists, and a grant add
	//       was attempted in the configured group (0 -> 25 crossed zero)

	engine, st, dir, audit := newTestEngine(t)
	ctx := context.Background()

	_, _, err := st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	dir.join("guild-1", "alice")

	res, err := engine.ApplyBalanceChange(ctx, "op-1", "alice", donor.OpIncrement, dec("25.00"))
	require.NoError(t, err)

	assert.True(t, res.Previous.IsZero())
	assert.True(t, res.New.Equal(dec("25.00")))

	balance, err := st.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("25.00")))

	records, err := st.ListHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, donor.OpIncrement, records[0].Op)
	assert.Equal(t, donor.UserID("op-1"), records[0].Actor)
	assert.True(t, records[0].Amount.Equal(dec("25.00")))

	require.Len(t, dir.adds, 1)
	assert.Equal(t, grantCall{Group: "guild-1", User: "alice", Grant: "gold"}, dir.adds[0])
	assert.Empty(t, dir.removes)

	require.Len(t, audit.all(), 1)
	assert.Equal(t, "op-1: INCREMENT alice $25.00 (0.00 => 25.00)", audit.all()[0])
}

func TestApplyBalanceChange_SetToZeroRemovesGrants(t *testing.T) {
	// GIVEN: A user with balance 25.00 and two configured groups
	// WHEN: Setting the balance to 0
	// THEN: One grant remove is attempted per configured group
	//       (25 -> 0 crossed into non-positive; zero does not confer)

	engine, st, dir, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := st.UpsertSet(ctx, "bob", dec("25.00"))
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-2", "backer")
	require.NoError(t, err)
	dir.join("guild-1", "bob", "gold")
	dir.join("guild-2", "bob", "backer")

	res, err := engine.ApplyBalanceChange(ctx, "op-1", "bob", donor.OpSet, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.New.IsZero())

	assert.Empty(t, dir.adds)
	require.Len(t, dir.removes, 2)

	records, err := st.ListHistory(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, donor.OpSet, records[0].Op)
}

func TestApplyBalanceChange_SameSignNoFanOut(t *testing.T) {
	// GIVEN: A user with positive balance in a configured group
	// WHEN: Incrementing by a positive amount (stays positive)
	// THEN: No grant mutation is attempted

	engine, st, dir, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := st.UpsertSet(ctx, "carol", dec("10"))
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	dir.join("guild-1", "carol", "gold")

	_, err = engine.ApplyBalanceChange(ctx, "op-1", "carol", donor.OpIncrement, dec("5"))
	require.NoError(t, err)

	assert.Empty(t, dir.adds)
	assert.Empty(t, dir.removes)
}

func TestApplyBalanceChange_SetToSameValueStillRecorded(t *testing.T) {
	// GIVEN: A user with balance 10.00
	// WHEN: Setting the balance to 10.00 again
	// THEN: History and audit still happen (no short-circuit) but no
	//       fan-out occurs since no zero boundary was crossed

	engine, st, dir, audit := newTestEngine(t)
	ctx := context.Background()

	_, err := st.UpsertSet(ctx, "dave", dec("10.00"))
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	dir.join("guild-1", "dave", "gold")

	res, err := engine.ApplyBalanceChange(ctx, "op-1", "dave", donor.OpSet, dec("10.00"))
	require.NoError(t, err)
	assert.True(t, res.Previous.Equal(res.New))

	records, err := st.ListHistory(ctx, "dave")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, audit.all(), 1)

	assert.Empty(t, dir.adds)
	assert.Empty(t, dir.removes)
}

func TestApplyBalanceChange_NegativeIncrementCrossesDown(t *testing.T) {
	// GIVEN: A user with balance 5.00
	// WHEN: Incrementing by -7.50 (balance goes negative)
	// THEN: Grant removal is attempted; the ledger holds the negative value

	engine, st, dir, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := st.UpsertSet(ctx, "erin", dec("5.00"))
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	dir.join("guild-1", "erin", "gold")

	res, err := engine.ApplyBalanceChange(ctx, "op-1", "erin", donor.OpIncrement, dec("-7.50"))
	require.NoError(t, err)
	assert.True(t, res.New.Equal(dec("-2.50")))
	require.Len(t, dir.removes, 1)
}

// =============================================================================
// FAN-OUT FAILURE ISOLATION
// =============================================================================

func TestApplyBalanceChange_NonMemberGroupSkipped(t *testing.T) {
	// GIVEN: Two configured groups; the user belongs to only one
	// WHEN: The balance crosses zero
	// THEN: The non-member group fails silently and the member group
	//       still receives its grant add; the ledger write stands

	engine, st, dir, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-2", "backer")
	require.NoError(t, err)
	dir.join("guild-2", "frank")

	_, err = engine.ApplyBalanceChange(ctx, "op-1", "frank", donor.OpIncrement, dec("1"))
	require.NoError(t, err)

	require.Len(t, dir.adds, 1)
	assert.Equal(t, donor.GroupID("guild-2"), dir.adds[0].Group)

	balance, err := st.GetBalance(ctx, "frank")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1")))
}

func TestApplyBalanceChange_AuditFailureSwallowed(t *testing.T) {
	// GIVEN: An auditor that always fails
	// WHEN: Applying a balance change
	// THEN: The operation still succeeds

	engine, st, _, audit := newTestEngine(t)
	audit.err = errors.New("audit sink down")
	ctx := context.Background()

	_, err := engine.ApplyBalanceChange(ctx, "op-1", "gina", donor.OpIncrement, dec("3"))
	require.NoError(t, err)

	balance, err := st.GetBalance(ctx, "gina")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("3")))
}

// =============================================================================
// LOCKING
// =============================================================================

func TestApplyBalanceChange_BusyUserRejected(t *testing.T) {
	// GIVEN: The target user's key is already held
	// WHEN: Applying a balance change
	// THEN: ErrEntityBusy, and no ledger or history write occurred

	engine, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.True(t, engine.Locks.TryAcquire("held"))
	defer engine.Locks.Release("held")

	_, err := engine.ApplyBalanceChange(ctx, "op-1", "held", donor.OpIncrement, dec("5"))
	assert.ErrorIs(t, err, donor.ErrEntityBusy)

	balance, err := st.GetBalance(ctx, "held")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	records, err := st.ListHistory(ctx, "held")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestApplyBalanceChange_ConcurrentSameUser(t *testing.T) {
	// GIVEN: A first change held mid-fan-out (directory blocked)
	// WHEN: A second change for the same user arrives
	// THEN: It observes ErrEntityBusy; after the first completes, a
	//       third change for the same user succeeds

	engine, st, dir, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	dir.join("guild-1", "hank")

	block := make(chan struct{})
	dir.blockResolve = block

	done := make(chan error, 1)
	go func() {
		_, err := engine.ApplyBalanceChange(ctx, "op-1", "hank", donor.OpIncrement, dec("5"))
		done <- err
	}()

	// Wait until the first operation holds the lock inside its fan-out.
	require.Eventually(t, func() bool { return engine.Locks.Held("hank") }, time.Second, time.Millisecond)

	_, err = engine.ApplyBalanceChange(ctx, "op-2", "hank", donor.OpIncrement, dec("5"))
	assert.ErrorIs(t, err, donor.ErrEntityBusy)

	close(block)
	require.NoError(t, <-done)

	dir.blockResolve = nil
	_, err = engine.ApplyBalanceChange(ctx, "op-3", "hank", donor.OpIncrement, dec("5"))
	require.NoError(t, err)

	balance, err := st.GetBalance(ctx, "hank")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10")))
}

func TestApplyBalanceChange_DistinctUsersIndependent(t *testing.T) {
	// GIVEN: One user's key is held
	// WHEN: A change for a different user arrives
	// THEN: It proceeds normally

	engine, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.True(t, engine.Locks.TryAcquire("busy-user"))
	defer engine.Locks.Release("busy-user")

	_, err := engine.ApplyBalanceChange(ctx, "op-1", "other-user", donor.OpIncrement, dec("2"))
	require.NoError(t, err)

	balance, err := st.GetBalance(ctx, "other-user")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("2")))
}

// =============================================================================
// LEDGER / HISTORY AGREEMENT
// =============================================================================

func TestLedgerHistoryAgreement(t *testing.T) {
	// GIVEN: A mixed sequence of increments and sets
	// WHEN: Replaying the history from zero
	// THEN: The replayed total equals the ledger balance exactly

	engine, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	steps := []struct {
		op     donor.Op
		amount string
	}{
		{donor.OpIncrement, "10.25"},
		{donor.OpIncrement, "-3.75"},
		{donor.OpSet, "100"},
		{donor.OpIncrement, "0.01"},
		{donor.OpSet, "0"},
		{donor.OpIncrement, "42"},
	}
	for _, s := range steps {
		_, err := engine.ApplyBalanceChange(ctx, "op-1", "ivy", s.op, dec(s.amount))
		require.NoError(t, err)
	}

	records, err := st.ListHistory(ctx, "ivy")
	require.NoError(t, err)
	require.Len(t, records, len(steps))

	balance, err := st.GetBalance(ctx, "ivy")
	require.NoError(t, err)
	assert.True(t, donor.ReplayBalance(records).Equal(balance),
		"replayed %s, ledger %s", donor.ReplayBalance(records), balance)
}

func TestApplyBalanceChange_UnknownOpRejected(t *testing.T) {
	// GIVEN: A mutation with an op outside the known set
	// WHEN: Applying it
	// THEN: A classified client error, no lock held, nothing written

	engine, st, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.ApplyBalanceChange(ctx, "op-1", "judy", donor.Op("divide"), dec("2"))
	assert.ErrorIs(t, err, donor.ErrUnknownOp)
	assert.True(t, donor.IsClientError(err))
	assert.False(t, engine.Locks.Held("judy"))

	records, err := st.ListHistory(ctx, "judy")
	require.NoError(t, err)
	assert.Empty(t, records)
}
