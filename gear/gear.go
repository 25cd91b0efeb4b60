// Package gear parses gear-definition files and tracks pressed-state
// for their referenced codes to produce a normalized gear indication.
package gear

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hidemune/understeer-go/linux/input"
)

// DeadKey is the fixed virtual key used to signal neutral.
const DeadKey = input.BTN_DEAD

// Definition is one parsed gear line: a required set of source codes
// that must all be pressed for this gear to be selected.
type Definition struct {
	Name     string
	Required []uint16
}

// Mapper tracks pressed-state for every code referenced by a gear
// file and resolves the currently selected, normalized gear.
type Mapper struct {
	gears      []Definition
	neutral    []uint16
	pressed    map[uint16]bool
	lastNormal int // -1 for neutral, else index into gears
}

// Load parses a gear-definition file: lines of the form "G1: BTN_A" or
// "G1 = BTN_A BTN_B", one gear per line, plus an optional
// "NEUTRAL: code [code...]" line. Codes may be symbolic names or
// integers.
func Load(path string) (*Mapper, error) {
	var (
		file    *os.File
		scanner *bufio.Scanner
		mapper  = &Mapper{
			pressed:    make(map[uint16]bool),
			lastNormal: -1,
		}
		err error
	)

	file, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gear.Load: %w", err)
	}
	defer file.Close()

	scanner = bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, codesStr, ok := splitGearLine(line)
		if !ok {
			continue
		}

		codes := resolveCodes(codesStr)
		if len(codes) == 0 {
			continue
		}

		if strings.EqualFold(name, "NEUTRAL") {
			mapper.neutral = codes
			continue
		}

		mapper.gears = append(mapper.gears, Definition{Name: name, Required: codes})
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("gear.Load: %w", err)
	}

	return mapper, nil
}

func splitGearLine(line string) (name, codes string, ok bool) {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
	}

	if idx := strings.Index(line, "="); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
	}

	return "", "", false
}

func resolveCodes(s string) []uint16 {
	var (
		tokens = strings.Fields(s)
		codes  = make([]uint16, 0, len(tokens))
		token  string
	)

	for _, token = range tokens {
		if n, err := strconv.ParseInt(token, 10, 32); err == nil {
			codes = append(codes, uint16(n))
			continue
		}

		if code, ok := input.ResolveCode(token); ok {
			codes = append(codes, code)
		}
	}

	return codes
}

// SetPressed records the current pressed-state of a source code that
// appears in this mapper's gear/neutral definitions.
func (m *Mapper) SetPressed(code uint16, pressed bool) {
	m.pressed[code] = pressed
}

// Tracks reports whether code is referenced by any gear or the
// neutral definition, so the pump knows to route it here instead of
// passing it through untranslated.
func (m *Mapper) Tracks(code uint16) bool {
	var c uint16

	for _, c = range m.neutral {
		if c == code {
			return true
		}
	}

	for _, def := range m.gears {
		for _, c = range def.Required {
			if c == code {
				return true
			}
		}
	}

	return false
}

// Resolve picks the lowest-indexed gear whose full required-set is
// pressed; if none qualify, neutral is explicit (defined and pressed)
// or implicit. It returns the normalized virtual key to assert
// (input.BTN_0..BTN_N for a gear, DeadKey for neutral) and whether
// the result changed since the last call.
func (m *Mapper) Resolve() (normalized uint16, changed bool) {
	var selected = -1

	for i, def := range m.gears {
		if m.allPressed(def.Required) {
			selected = i
			break
		}
	}

	changed = selected != m.lastNormal
	m.lastNormal = selected

	if selected < 0 {
		return DeadKey, changed
	}

	return input.BTN_0 + uint16(selected), changed
}

func (m *Mapper) allPressed(codes []uint16) bool {
	var code uint16

	for _, code = range codes {
		if !m.pressed[code] {
			return false
		}
	}

	return true
}
