// Package mapping loads the tab-separated routing tables that bind a
// physical wheel/shifter/gamepad's axis and button codes onto the
// bridge's fixed virtual layout.
package mapping

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hidemune/understeer-go/linux/input"
)

// VirtualAxesOrder is the fixed order virtual axis groups are assigned
// to, by group index. A physical axes file's i-th group binds to
// VirtualAxesOrder[i]; groups past the end of this list are ignored.
var VirtualAxesOrder = []string{
	"ABS_X", "ABS_Y", "ABS_Z", "ABS_RX", "ABS_RY", "ABS_RZ",
	"ABS_HAT0X", "ABS_HAT0Y", "ABS_THROTTLE", "ABS_RUDDER",
}

// VirtualButtonsOrder is the fixed order virtual button groups are
// assigned to, by group index.
var VirtualButtonsOrder = []string{
	"BTN_A", "BTN_B", "BTN_X", "BTN_Y",
	"BTN_TL", "BTN_TR", "BTN_SELECT", "BTN_START", "BTN_MODE", "BTN_THUMBL", "BTN_THUMBR",
	"BTN_TRIGGER", "BTN_THUMB", "BTN_THUMB2", "BTN_TOP", "BTN_TOP2",
	"BTN_PINKIE", "BTN_BASE", "BTN_BASE2", "BTN_BASE3", "BTN_BASE4", "BTN_BASE5", "BTN_BASE6",
	"BTN_0", "BTN_1", "BTN_2", "BTN_3", "BTN_4", "BTN_5", "BTN_6", "BTN_7", "BTN_8", "BTN_9",
	"BTN_DEAD",
}

// Role identifies which physical subdevice a source code belongs to.
type Role string

// The three roles a mapping line may name.
const (
	RoleWheel Role = "wheel"
	RoleShift Role = "shift"
	RolePad   Role = "pad"
)

// Source is a physical event source: a role plus the raw source code
// on that role's device.
type Source struct {
	Role Role
	Code uint16
}

// SourceOptions carries the per-line options parsed from a mapping
// file's final column.
type SourceOptions struct {
	Reverse bool
}

// Table is the set of routing structures §3 of the data model names,
// built from one pair of axes/buttons TSV files.
type Table struct {
	// VirtToSources maps a virtual code to its ordered list of
	// physical sources.
	VirtToSources map[uint16][]Source

	// SourceToVirts maps a physical source to the virtual codes it
	// feeds (usually one, but a source may feed more than one
	// virtual target).
	SourceToVirts map[Source][]uint16

	// AbsSrcToVirt is the axis-only fast lookup, source → virtual code.
	AbsSrcToVirt map[Source]uint16

	// KeySrcToVirt is the key-only fast lookup, source → virtual code.
	KeySrcToVirt map[Source]uint16

	// Options carries the parsed per-source options, keyed the same
	// way as SourceToVirts.
	Options map[Source]SourceOptions
}

func newTable() *Table {
	return &Table{
		VirtToSources: make(map[uint16][]Source),
		SourceToVirts: make(map[Source][]uint16),
		AbsSrcToVirt:  make(map[Source]uint16),
		KeySrcToVirt:  make(map[Source]uint16),
		Options:       make(map[Source]SourceOptions),
	}
}

// row is one parsed, column-validated line of a mapping TSV.
type row struct {
	role    Role
	typ     string // "ABS" or "KEY"
	code    uint16
	options SourceOptions
}

// group is a blank-line-delimited run of rows sharing one virtual target.
type group []row

// parseFile reads path and splits it into groups, applying the same
// defensive right-padding the original prototype uses so a short line
// never panics on index-out-of-range.
func parseFile(log *slog.Logger, path string) ([]group, error) {
	var (
		file    *os.File
		scanner *bufio.Scanner
		groups  []group
		cur     group
		line    string
		err     error
	)

	file, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping.parseFile: %w", err)
	}
	defer file.Close()

	scanner = bufio.NewScanner(file)
	for scanner.Scan() {
		line = scanner.Text() + "\t\t\t\t\t"

		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				groups = append(groups, cur)
				cur = nil
			}

			continue
		}

		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		r, ok := parseRow(log, path, line)
		if !ok {
			continue
		}

		cur = append(cur, r)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("mapping.parseFile: %w", err)
	}

	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	return groups, nil
}

func parseRow(log *slog.Logger, path, line string) (row, bool) {
	var (
		cols    []string
		role    Role
		typ     string
		codeStr string
		code    uint16
		ok      bool
	)

	cols = strings.Split(line, "\t")
	if len(cols) < 8 {
		return row{}, false
	}

	role = Role(strings.ToLower(strings.TrimSpace(cols[2])))
	if role != RoleWheel && role != RoleShift && role != RolePad {
		log.Warn("mapping: column misalignment, skipping line", "path", path, "role", cols[2])
		return row{}, false
	}

	typ = strings.ToUpper(strings.TrimSpace(cols[3]))

	codeStr = strings.TrimSpace(cols[5])
	if codeStr == "" {
		codeStr = strings.TrimSpace(cols[4])
	}

	code, ok = resolveCode(codeStr)
	if !ok {
		log.Warn("mapping: unresolvable source code, skipping line", "path", path, "code", codeStr)
		return row{}, false
	}

	return row{
		role:    role,
		typ:     typ,
		code:    code,
		options: parseOptions(cols[8]),
	}, true
}

func resolveCode(s string) (uint16, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err == nil {
		return uint16(n), true
	}

	return input.ResolveCode(s)
}

func parseOptions(cell string) SourceOptions {
	var (
		opts   SourceOptions
		tokens []string
		token  string
	)

	tokens = strings.Fields(cell)
	for _, token = range tokens {
		switch strings.ToUpper(token) {
		case "REVERSE", "INV", "INVERT", "INVERTED":
			opts.Reverse = true
		}
	}

	return opts
}

func fillTable(table *Table, groups []group, order []string, fast func(*Table) map[Source]uint16) {
	var (
		i   int
		grp group
		vc  uint16
		ok  bool
		r   row
	)

	for i, grp = range groups {
		if i >= len(order) || len(grp) == 0 {
			continue
		}

		vc, ok = input.ResolveCode(order[i])
		if !ok {
			continue
		}

		for _, r = range grp {
			src := Source{Role: r.role, Code: r.code}

			table.VirtToSources[vc] = append(table.VirtToSources[vc], src)
			table.SourceToVirts[src] = append(table.SourceToVirts[src], vc)
			table.Options[src] = r.options
			fast(table)[src] = vc
		}
	}
}

// Load parses separate axes and buttons TSV files and returns the
// combined routing table. Either path may be empty to skip that file.
func Load(log *slog.Logger, axesPath, buttonsPath string) (*Table, error) {
	var (
		table            = newTable()
		axesGroups       []group
		buttonGroups     []group
		err              error
	)

	if axesPath != "" {
		axesGroups, err = parseFile(log, axesPath)
		if err != nil {
			return nil, fmt.Errorf("mapping.Load: %w", err)
		}
	}

	if buttonsPath != "" {
		buttonGroups, err = parseFile(log, buttonsPath)
		if err != nil {
			return nil, fmt.Errorf("mapping.Load: %w", err)
		}
	}

	fillTable(table, axesGroups, VirtualAxesOrder, func(t *Table) map[Source]uint16 { return t.AbsSrcToVirt })
	fillTable(table, buttonGroups, VirtualButtonsOrder, func(t *Table) map[Source]uint16 { return t.KeySrcToVirt })

	return table, nil
}

// LoadCombined parses a single TSV carrying both axes and buttons,
// distinguished by the "type" column (ABS or KEY), for parity with
// the companion exporter tool's single-file output. It splits rows
// into axes/buttons groups before delegating to the same per-kind
// grouping logic Load uses.
func LoadCombined(log *slog.Logger, path string) (*Table, error) {
	var (
		groups []group
		axes   []group
		btns   []group
		err    error
		table  = newTable()
	)

	groups, err = parseFile(log, path)
	if err != nil {
		return nil, fmt.Errorf("mapping.LoadCombined: %w", err)
	}

	for _, grp := range groups {
		var (
			axesRows []row
			keyRows  []row
			r        row
		)

		for _, r = range grp {
			if r.typ == "ABS" {
				axesRows = append(axesRows, r)
			} else {
				keyRows = append(keyRows, r)
			}
		}

		if len(axesRows) > 0 {
			axes = append(axes, axesRows)
		}

		if len(keyRows) > 0 {
			btns = append(btns, keyRows)
		}
	}

	fillTable(table, axes, VirtualAxesOrder, func(t *Table) map[Source]uint16 { return t.AbsSrcToVirt })
	fillTable(table, btns, VirtualButtonsOrder, func(t *Table) map[Source]uint16 { return t.KeySrcToVirt })

	return table, nil
}
