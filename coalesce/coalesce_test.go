package coalesce_test

import (
	"testing"
	"time"

	"github.com/hidemune/understeer-go/coalesce"
	"github.com/stretchr/testify/require"
)

func TestButtonsEmitsOnlyOnTransitions(t *testing.T) {
	b := coalesce.NewButtons()

	edge, ok := b.Update(1, true)
	require.True(t, ok)
	require.True(t, edge, "first press is a rising edge")

	_, ok = b.Update(1, true)
	require.False(t, ok, "second press from another source emits nothing")

	_, ok = b.Update(1, false)
	require.False(t, ok, "release while another source still holds emits nothing")

	edge, ok = b.Update(1, false)
	require.True(t, ok)
	require.False(t, edge, "last release is a falling edge")
}

func TestButtonsCountNeverGoesNegative(t *testing.T) {
	b := coalesce.NewButtons()

	_, ok := b.Update(1, false)
	require.False(t, ok)

	edge, ok := b.Update(1, true)
	require.True(t, ok)
	require.True(t, edge)
}

func TestHatPriorityFirstNonZeroWins(t *testing.T) {
	h := coalesce.NewHat(coalesce.HatPriority)
	now := time.Unix(0, 0)

	out, _ := h.Update("A", 1, now)
	require.EqualValues(t, 1, out)

	out, changed := h.Update("B", -1, now)
	require.EqualValues(t, 1, out, "A was declared first and is non-zero")
	require.False(t, changed)

	out, changed = h.Update("A", 0, now)
	require.EqualValues(t, -1, out)
	require.True(t, changed)
}

func TestHatLastMostRecentChangeWins(t *testing.T) {
	h := coalesce.NewHat(coalesce.HatLast)
	t1 := time.Unix(0, 0)
	t2 := t1.Add(time.Millisecond)

	h.Update("A", 1, t1)
	out, changed := h.Update("B", -1, t2)

	require.EqualValues(t, -1, out)
	require.True(t, changed)
}

func TestHatBothZeroIsZero(t *testing.T) {
	h := coalesce.NewHat(coalesce.HatPriority)
	now := time.Unix(0, 0)

	h.Update("A", 0, now)
	out, _ := h.Update("B", 0, now)

	require.EqualValues(t, 0, out)
}
