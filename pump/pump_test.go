package pump

import (
	"io"
	"log/slog"
	"testing"

	"github.com/hidemune/understeer-go/axis"
	"github.com/hidemune/understeer-go/coalesce"
	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/mapping"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVirtual struct {
	events []input.Event
	syncs  int
}

func (f *fakeVirtual) WriteEvent(typ, code uint16, value int32) error {
	f.events = append(f.events, input.Event{Type: typ, Code: code, Value: value})
	return nil
}

func (f *fakeVirtual) Sync() error {
	f.syncs++
	return nil
}

type fakeEffects struct{}

func (fakeEffects) LookupPhysical(int16) (int, bool) { return 0, false }

func newTestTable() *mapping.Table {
	table := &mapping.Table{
		VirtToSources: make(map[uint16][]mapping.Source),
		SourceToVirts: make(map[mapping.Source][]uint16),
		AbsSrcToVirt:  make(map[mapping.Source]uint16),
		KeySrcToVirt:  make(map[mapping.Source]uint16),
		Options:       make(map[mapping.Source]mapping.SourceOptions),
	}

	wheelButtonA := mapping.Source{Role: mapping.RoleWheel, Code: input.BTN_A}
	shiftButtonA := mapping.Source{Role: mapping.RoleShift, Code: input.BTN_B}
	table.KeySrcToVirt[wheelButtonA] = input.BTN_TRIGGER
	table.KeySrcToVirt[shiftButtonA] = input.BTN_TRIGGER

	wheelAxis := mapping.Source{Role: mapping.RoleWheel, Code: input.ABS_X}
	table.AbsSrcToVirt[wheelAxis] = input.ABS_X

	return table
}

func TestHandleKeyEmitsOnlyOnTransition(t *testing.T) {
	table := newTestTable()
	virtual := &fakeVirtual{}

	p := New(discardLogger(), table, virtual, virtual, fakeEffects{}, nil, coalesce.HatPriority)

	wheelSrc := Source{Role: mapping.RoleWheel}
	shiftSrc := Source{Role: mapping.RoleShift}

	p.handleKey(wheelSrc, input.BTN_A, 1)
	p.handleKey(shiftSrc, input.BTN_B, 1)
	p.handleKey(wheelSrc, input.BTN_A, 0)
	p.handleKey(shiftSrc, input.BTN_B, 0)

	var presses, releases int
	for _, e := range virtual.events {
		if e.Code != input.BTN_TRIGGER {
			continue
		}

		if e.Value == 1 {
			presses++
		} else {
			releases++
		}
	}

	require.Equal(t, 1, presses)
	require.Equal(t, 1, releases)
}

func TestHandleAbsRescalesThroughTracker(t *testing.T) {
	table := newTestTable()
	virtual := &fakeVirtual{}

	p := New(discardLogger(), table, virtual, virtual, fakeEffects{}, nil, coalesce.HatPriority)

	src := mapping.Source{Role: mapping.RoleWheel, Code: input.ABS_X}
	p.BindAxis(src, axis.Range{Min: 0, Max: 1023}, axis.Range{Min: -32767, Max: 32767})

	wheelSrc := Source{Role: mapping.RoleWheel}
	p.handleAbs(wheelSrc, input.ABS_X, 1023)

	require.NotEmpty(t, virtual.events)
	last := virtual.events[len(virtual.events)-1]
	require.EqualValues(t, input.ABS_X, last.Code)
	require.EqualValues(t, 32767, last.Value)
}
