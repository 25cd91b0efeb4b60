// Package coalesce implements the button OR-coalescer and hat
// priority/last coalescer that collapse multiple physical sources
// bound to one virtual code into a single state-change stream.
package coalesce

import "time"

// Buttons reference-counts presses per virtual key code across
// however many physical sources are bound to it, emitting only on the
// 0→1 and 1→0 transitions.
type Buttons struct {
	counts map[uint16]int
}

// NewButtons returns an empty button coalescer.
func NewButtons() *Buttons {
	return &Buttons{counts: make(map[uint16]int)}
}

// Update records a press (pressed=true) or release for vcode and
// reports whether this update is a rising (true) or falling (false)
// edge that should be emitted; ok is false when the update is an
// interior press/release that shouldn't produce output.
func (b *Buttons) Update(vcode uint16, pressed bool) (edge, ok bool) {
	var count int

	count = b.counts[vcode]

	if pressed {
		count++
		b.counts[vcode] = count

		if count == 1 {
			return true, true
		}

		return false, false
	}

	if count <= 0 {
		return false, false
	}

	count--
	b.counts[vcode] = count

	if count == 0 {
		return false, true
	}

	return false, false
}

// HatMode selects how a hat coalescer picks its representative value
// when more than one physical source feeds the same virtual hat axis.
type HatMode int

// The two hat coalescing modes named in the spec.
const (
	HatPriority HatMode = iota
	HatLast
)

type hatSourceState struct {
	value int32
	at    time.Time
}

// Hat coalesces tri-valued (-1, 0, +1) inputs from multiple sources
// bound to the same virtual hat axis into a single representative
// stream, using either declaration-order priority or most-recent-change
// semantics.
type Hat struct {
	mode    HatMode
	order   []string
	states  map[string]hatSourceState
	lastOut int32
	primed  bool
}

// NewHat returns a Hat coalescer in the given mode.
func NewHat(mode HatMode) *Hat {
	return &Hat{
		mode:   mode,
		states: make(map[string]hatSourceState),
	}
}

// Update records a new value for sourceKey at time now, and reports
// the new representative value along with whether it changed from the
// previously emitted one.
func (h *Hat) Update(sourceKey string, value int32, now time.Time) (out int32, changed bool) {
	if _, known := h.states[sourceKey]; !known {
		h.order = append(h.order, sourceKey)
	}

	h.states[sourceKey] = hatSourceState{value: value, at: now}

	out = h.representative()

	changed = !h.primed || out != h.lastOut
	h.primed = true
	h.lastOut = out

	return out, changed
}

func (h *Hat) representative() int32 {
	switch h.mode {
	case HatLast:
		return h.representativeLast()
	default:
		return h.representativePriority()
	}
}

func (h *Hat) representativePriority() int32 {
	var key string

	for _, key = range h.order {
		if v := h.states[key].value; v != 0 {
			return v
		}
	}

	return 0
}

func (h *Hat) representativeLast() int32 {
	var (
		key      string
		best     int32
		bestTime time.Time
		found    bool
	)

	for _, key = range h.order {
		state := h.states[key]
		if state.value == 0 {
			continue
		}

		if !found || state.at.After(bestTime) {
			best = state.value
			bestTime = state.at
			found = true
		}
	}

	if !found {
		return 0
	}

	return best
}
