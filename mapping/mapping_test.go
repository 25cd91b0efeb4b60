package mapping_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hidemune/understeer-go/mapping"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTSV(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "axes.tsv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadGroupsReverseOption(t *testing.T) {
	contents := "a\tb\twheel\tABS\tABS_X\t0\tABS_X\t-1\t\n" +
		"\n" +
		"a\tb\tshift\tABS\tABS_Y\t1\tABS_Y\t-1\t\n" +
		"a\tb\twheel\tABS\tABS_RZ\t5\tABS_RZ\t-1\tREVERSE\n"

	path := writeTSV(t, contents)

	table, err := mapping.Load(discardLogger(), path, "")
	require.NoError(t, err)

	virtX, ok := table.AbsSrcToVirt[mapping.Source{Role: mapping.RoleWheel, Code: 0}]
	require.True(t, ok)

	virtY, ok := table.AbsSrcToVirt[mapping.Source{Role: mapping.RoleShift, Code: 1}]
	require.True(t, ok)

	virtRZ, ok := table.AbsSrcToVirt[mapping.Source{Role: mapping.RoleWheel, Code: 5}]
	require.True(t, ok)
	require.Equal(t, virtY, virtRZ, "group 1 binds both shift/1 and wheel/5 to the same virtual axis")
	require.NotEqual(t, virtX, virtRZ)

	opts := table.Options[mapping.Source{Role: mapping.RoleWheel, Code: 5}]
	require.True(t, opts.Reverse)
}

func TestLoadSkipsColumnMisalignment(t *testing.T) {
	path := writeTSV(t, "a\tb\tnotarole\tABS\tABS_X\t0\tABS_X\t-1\t\n")

	table, err := mapping.Load(discardLogger(), path, "")
	require.NoError(t, err)
	require.Empty(t, table.AbsSrcToVirt)
}

func TestLoadSkipsShortLines(t *testing.T) {
	path := writeTSV(t, "a\tb\twheel\n")

	table, err := mapping.Load(discardLogger(), path, "")
	require.NoError(t, err)
	require.Empty(t, table.AbsSrcToVirt)
}

func TestLoadIgnoresGroupsPastOrderLength(t *testing.T) {
	var contents string

	for range len(mapping.VirtualAxesOrder) + 1 {
		contents += "a\tb\twheel\tABS\tABS_X\t0\tABS_X\t-1\t\n\n"
	}

	path := writeTSV(t, contents)

	table, err := mapping.Load(discardLogger(), path, "")
	require.NoError(t, err)
	require.Len(t, table.VirtToSources, len(mapping.VirtualAxesOrder))
}

func TestLoadCombinedSplitsByType(t *testing.T) {
	contents := "a\tb\twheel\tABS\tABS_X\t0\tABS_X\t-1\t\n" +
		"a\tb\twheel\tKEY\tBTN_A\t304\tBTN_A\t-1\t\n"

	path := writeTSV(t, contents)

	table, err := mapping.LoadCombined(discardLogger(), path)
	require.NoError(t, err)

	_, hasAxis := table.AbsSrcToVirt[mapping.Source{Role: mapping.RoleWheel, Code: 0}]
	require.True(t, hasAxis)

	_, hasKey := table.KeySrcToVirt[mapping.Source{Role: mapping.RoleWheel, Code: 304}]
	require.True(t, hasKey)
}
