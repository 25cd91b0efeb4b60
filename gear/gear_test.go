package gear_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hidemune/understeer-go/gear"
	"github.com/hidemune/understeer-go/linux/input"
	"github.com/stretchr/testify/require"
)

func writeGearFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gears.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestResolveLowestIndexedGearWins(t *testing.T) {
	path := writeGearFile(t, "G1: BTN_A\nG2 = BTN_A BTN_B\nNEUTRAL: BTN_C\n")

	m, err := gear.Load(path)
	require.NoError(t, err)

	m.SetPressed(input.BTN_A, true)
	m.SetPressed(input.BTN_B, true)

	normalized, changed := m.Resolve()
	require.True(t, changed)
	require.EqualValues(t, input.BTN_0, normalized, "G1 is the lowest-indexed satisfied gear")
}

func TestResolveFallsBackToNeutral(t *testing.T) {
	path := writeGearFile(t, "G1: BTN_A\n")

	m, err := gear.Load(path)
	require.NoError(t, err)

	normalized, _ := m.Resolve()
	require.EqualValues(t, gear.DeadKey, normalized)
}

func TestResolveOnlyReportsChangeOnTransition(t *testing.T) {
	path := writeGearFile(t, "G1: BTN_A\n")

	m, err := gear.Load(path)
	require.NoError(t, err)

	m.SetPressed(input.BTN_A, true)

	_, changed := m.Resolve()
	require.True(t, changed)

	_, changed = m.Resolve()
	require.False(t, changed)
}
