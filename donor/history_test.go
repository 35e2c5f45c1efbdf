package donor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledge/donor-engine/donor"
)

func TestReplayTotals_MixedOps(t *testing.T) {
	// GIVEN: An increment, a set, and a negative increment
	// WHEN: Replaying from zero
	// THEN: Each line carries the correct before/after totals

	records := []donor.HistoryRecord{
		{ID: "1", Op: donor.OpIncrement, Amount: dec("10")},
		{ID: "2", Op: donor.OpSet, Amount: dec("100")},
		{ID: "3", Op: donor.OpIncrement, Amount: dec("-25.50")},
	}

	lines := donor.ReplayTotals(records)
	require.Len(t, lines, 3)

	assert.True(t, lines[0].Before.IsZero())
	assert.True(t, lines[0].After.Equal(dec("10")))

	assert.True(t, lines[1].Before.Equal(dec("10")))
	assert.True(t, lines[1].After.Equal(dec("100")))

	assert.True(t, lines[2].Before.Equal(dec("100")))
	assert.True(t, lines[2].After.Equal(dec("74.50")))

	assert.True(t, donor.ReplayBalance(records).Equal(dec("74.50")))
}

func TestReplayTotals_Empty(t *testing.T) {
	assert.Empty(t, donor.ReplayTotals(nil))
	assert.True(t, donor.ReplayBalance(nil).IsZero())
}

func TestEligible_ZeroDoesNotConfer(t *testing.T) {
	assert.True(t, donor.Eligible(dec("0.01")))
	assert.False(t, donor.Eligible(dec("0")))
	assert.False(t, donor.Eligible(dec("-0.01")))
}

func TestCrossedZero(t *testing.T) {
	// Zero sits on the non-positive side, so 0 -> positive and
	// positive -> 0 both count as crossings.
	assert.True(t, donor.CrossedZero(dec("0"), dec("5")))
	assert.True(t, donor.CrossedZero(dec("5"), dec("0")))
	assert.True(t, donor.CrossedZero(dec("-3"), dec("1")))
	assert.False(t, donor.CrossedZero(dec("1"), dec("2")))
	assert.False(t, donor.CrossedZero(dec("-3"), dec("0")))
	assert.False(t, donor.CrossedZero(dec("0"), dec("-3")))
}
