package axis_test

import (
	"testing"

	"github.com/hidemune/understeer-go/axis"
	"github.com/stretchr/testify/require"
)

func newFixedTracker() *axis.Tracker {
	return axis.NewTracker(
		axis.Range{Min: 0, Max: 1000},
		axis.Range{Min: -32767, Max: 32767},
		false,
	)
}

func TestUpdateAtCenterEqualsVirtualCenter(t *testing.T) {
	tr := newFixedTracker()
	require.EqualValues(t, 0, tr.Update(500))
}

func TestUpdateAtExtremesEqualsVirtualExtremes(t *testing.T) {
	tr := newFixedTracker()
	require.EqualValues(t, 32767, tr.Update(1000))

	tr = newFixedTracker()
	require.EqualValues(t, -32767, tr.Update(0))
}

func TestUpdateIsMonotonic(t *testing.T) {
	tr := newFixedTracker()

	out1 := tr.Update(300)

	tr = newFixedTracker()
	out2 := tr.Update(700)

	require.LessOrEqual(t, out1, out2)
}

func TestUpdateReverseInvertsAroundMidpoint(t *testing.T) {
	raw := int32(650)

	forward := axis.NewTracker(
		axis.Range{Min: 0, Max: 1000},
		axis.Range{Min: -32767, Max: 32767},
		false,
	).Update(raw)

	reversed := axis.NewTracker(
		axis.Range{Min: 0, Max: 1000},
		axis.Range{Min: -32767, Max: 32767},
		true,
	).Update(raw)

	require.InDelta(t, -32767+32767-int(forward), int(reversed), 1)
}

func TestNarrowNormalizedRangeIsWidened(t *testing.T) {
	require.True(t, axis.NarrowNormalized(axis.Range{Min: 0, Max: 1}))
	require.False(t, axis.NarrowNormalized(axis.Range{Min: 0, Max: 1000}))

	widened := axis.WidenedSigned15()
	require.Equal(t, int32(-32767), widened.Min)
	require.Equal(t, int32(32767), widened.Max)
}
