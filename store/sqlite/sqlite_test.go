package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledge/donor-engine/donor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dec(s string) decimal.Decimal {
	return donor.MustParseDecimal(s)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_UpsertReturnsPrevious(t *testing.T) {
	// GIVEN: A user with no ledger row
	// WHEN: Incrementing twice, then setting
	// THEN: Each call returns the balance observed before its write

	st := newTestStore(t)
	ctx := context.Background()

	prev, err := st.UpsertIncrement(ctx, "alice", dec("10.50"))
	require.NoError(t, err)
	assert.True(t, prev.IsZero())

	prev, err = st.UpsertIncrement(ctx, "alice", dec("-3"))
	require.NoError(t, err)
	assert.True(t, prev.Equal(dec("10.50")))

	prev, err = st.UpsertSet(ctx, "alice", dec("100"))
	require.NoError(t, err)
	assert.True(t, prev.Equal(dec("7.50")))

	balance, err := st.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100")))
}

func TestLedger_UnknownUserReadsZero(t *testing.T) {
	st := newTestStore(t)

	balance, err := st.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestLedger_DecimalPrecisionSurvives(t *testing.T) {
	// Balances are stored as decimal strings; fractional cents must round
	// trip exactly.
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertSet(ctx, "alice", dec("0.1"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = st.UpsertIncrement(ctx, "alice", dec("0.1"))
		require.NoError(t, err)
	}

	balance, err := st.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1.1")), "got %s", balance)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_AppendAndListInOrder(t *testing.T) {
	// GIVEN: Three appended records
	// WHEN: Listing the user's history
	// THEN: Records come back complete, in insertion order

	st := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	recs := []donor.HistoryRecord{
		{ID: "01A", Time: at, Actor: "op-1", Op: donor.OpIncrement, Amount: dec("25")},
		{ID: "01B", Time: at.Add(time.Minute), Actor: "op-2", Op: donor.OpSet, Amount: dec("0")},
		{ID: "01C", Time: at.Add(2 * time.Minute), Actor: donor.SystemActor, Op: donor.OpIncrement, Amount: dec("10")},
	}
	for _, rec := range recs {
		require.NoError(t, st.AppendHistory(ctx, "alice", rec))
	}
	require.NoError(t, st.AppendHistory(ctx, "bob", donor.HistoryRecord{
		ID: "01D", Time: at, Actor: "op-1", Op: donor.OpIncrement, Amount: dec("1"),
	}))

	got, err := st.ListHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range recs {
		assert.Equal(t, rec.ID, got[i].ID)
		assert.Equal(t, rec.Actor, got[i].Actor)
		assert.Equal(t, rec.Op, got[i].Op)
		assert.True(t, rec.Amount.Equal(got[i].Amount))
		assert.True(t, rec.Time.Equal(got[i].Time))
	}
}

func TestHistory_CorruptRowsSurfaceAsErrors(t *testing.T) {
	// GIVEN: History rows with an unparseable amount or timestamp
	// WHEN: Listing the user's history
	// THEN: An error naming the corruption, never a silently zeroed record

	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.db.Exec(`
		INSERT INTO history (id, user_id, at, actor, op, amount)
		VALUES ('01A', 'alice', '2025-06-01T12:00:00Z', 'op-1', 'increment', 'not-a-number')
	`)
	require.NoError(t, err)

	_, err = st.ListHistory(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt history amount")

	_, err = st.db.Exec(`
		INSERT INTO history (id, user_id, at, actor, op, amount)
		VALUES ('01B', 'bob', 'yesterday', 'op-1', 'increment', '5')
	`)
	require.NoError(t, err)

	_, err = st.ListHistory(ctx, "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt history time")
}

func TestHistory_EmptyForUnknownUser(t *testing.T) {
	st := newTestStore(t)

	got, err := st.ListHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// GROUP CONFIG
// =============================================================================

func TestGroupGrants_SetReturnsPrevious(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	prev, had, err := st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)
	assert.False(t, had)
	assert.Empty(t, prev)

	prev, had, err = st.SetGroupGrant(ctx, "guild-1", "silver")
	require.NoError(t, err)
	assert.True(t, had)
	assert.Equal(t, donor.GrantID("gold"), prev)

	grant, ok, err := st.GetGroupGrant(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, donor.GrantID("silver"), grant)
}

func TestGroupGrants_DeleteReturnsPrevious(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, _, err := st.SetGroupGrant(ctx, "guild-1", "gold")
	require.NoError(t, err)

	prev, had, err := st.DeleteGroupGrant(ctx, "guild-1")
	require.NoError(t, err)
	assert.True(t, had)
	assert.Equal(t, donor.GrantID("gold"), prev)

	_, ok, err := st.GetGroupGrant(ctx, "guild-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, had, err = st.DeleteGroupGrant(ctx, "guild-1")
	require.NoError(t, err)
	assert.False(t, had)
}

func TestGroupGrants_ListSortedByGroup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, _, err := st.SetGroupGrant(ctx, "guild-b", "silver")
	require.NoError(t, err)
	_, _, err = st.SetGroupGrant(ctx, "guild-a", "gold")
	require.NoError(t, err)

	configs, err := st.ListGroupGrants(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, donor.GroupID("guild-a"), configs[0].Group)
	assert.Equal(t, donor.GroupID("guild-b"), configs[1].Group)
}

// =============================================================================
// ADMIN ALLOWLIST
// =============================================================================

func TestAdmins_AddRemoveReportChange(t *testing.T) {
	// GIVEN: An empty allowlist
	// WHEN: Adding a user twice and removing them twice
	// THEN: Each call reports whether the set actually changed

	st := newTestStore(t)
	ctx := context.Background()

	wasPresent, err := st.AddAdmin(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, wasPresent)

	wasPresent, err = st.AddAdmin(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, wasPresent)

	listed, err := st.ContainsAdmin(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, listed)

	removed, err := st.RemoveAdmin(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = st.RemoveAdmin(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, removed)

	listed, err = st.ContainsAdmin(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, listed)
}
