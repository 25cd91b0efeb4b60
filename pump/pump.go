// Package pump reads events asynchronously from physical input
// devices, applies the mapping, axis rescaling, and coalescing stages,
// and writes the synchronized result to the virtual device. It also
// mirrors force-feedback gain/autocenter/play/stop events back to the
// physical wheel through the effect-ID map the ffb proxy maintains.
package pump

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hidemune/understeer-go/axis"
	"github.com/hidemune/understeer-go/coalesce"
	"github.com/hidemune/understeer-go/gear"
	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/mapping"
)

// ErrDeviceGone signals that a physical reader's device disappeared
// (typically ENODEV on read), which terminates that reader alone.
var ErrDeviceGone = errors.New("pump: device gone")

// EffectLookup resolves a virtual force-feedback effect ID to its
// physical slot, satisfied by *ffb.Proxy.
type EffectLookup interface {
	LookupPhysical(virt int16) (int, bool)
}

// Source is one physical reader's configuration: its role, the device
// to read from, and (for hat axes) which source codes are hat
// directions bound to a coalesced virtual hat.
type Source struct {
	Role       mapping.Role
	Device     *input.Device
	HatSources map[uint16]string // source code -> coalescer source key
}

// Pump owns the routing table, axis trackers, coalescers, gear mapper,
// and virtual/physical device handles needed to run one or more
// physical readers against a single virtual device.
type Pump struct {
	log     *slog.Logger
	table   *mapping.Table
	virtual VirtualDevice
	wheel   WheelWriter
	effects EffectLookup
	gear    *gear.Mapper

	axes    map[mapping.Source]*axis.Tracker
	buttons *coalesce.Buttons
	hats    map[uint16]*coalesce.Hat
	hatMode coalesce.HatMode

	telemetry telemetryGate
}

// VirtualDevice is the write surface the pump targets: the synthetic
// joystick games read from.
type VirtualDevice interface {
	WriteEvent(typ, code uint16, value int32) error
	Sync() error
}

// WheelWriter is the physical wheel's event-write surface, used only
// for FFB gain/autocenter/play/stop pass-through.
type WheelWriter interface {
	WriteEvent(typ, code uint16, value int32) error
}

// New builds a Pump. hatMode selects priority or last-wins semantics
// for every coalesced hat axis; gearMapper may be nil to disable gear
// logic entirely.
func New(log *slog.Logger, table *mapping.Table, virtual VirtualDevice, wheel WheelWriter, effects EffectLookup, gearMapper *gear.Mapper, hatMode coalesce.HatMode) *Pump {
	return &Pump{
		log:     log,
		table:   table,
		virtual: virtual,
		wheel:   wheel,
		effects: effects,
		gear:    gearMapper,
		axes:    make(map[mapping.Source]*axis.Tracker),
		buttons: coalesce.NewButtons(),
		hats:    make(map[uint16]*coalesce.Hat),
		hatMode: hatMode,
	}
}

// BindAxis registers the source/virtual range pair the axis tracker
// for src should rescale through, with the reverse flag drawn from the
// mapping's per-source options.
func (p *Pump) BindAxis(src mapping.Source, sourceRange, virtualRange axis.Range) {
	reverse := p.table.Options[src].Reverse
	p.axes[src] = axis.NewTracker(sourceRange, virtualRange, reverse)
}

// hatVirtualCodes is the set of virtual hat axis codes whose hat
// sources are routed through a hat coalescer instead of an axis
// tracker.
var hatVirtualCodes = map[uint16]bool{
	input.ABS_HAT0X: true, input.ABS_HAT0Y: true,
	input.ABS_HAT1X: true, input.ABS_HAT1Y: true,
	input.ABS_HAT2X: true, input.ABS_HAT2Y: true,
	input.ABS_HAT3X: true, input.ABS_HAT3Y: true,
}

func (p *Pump) hatFor(vcode uint16) *coalesce.Hat {
	h, ok := p.hats[vcode]
	if !ok {
		h = coalesce.NewHat(p.hatMode)
		p.hats[vcode] = h
	}

	return h
}

// RunReader services one physical device until it returns
// ErrDeviceGone or a read error, applying the map/scale/coalesce
// pipeline to each event and synchronizing the virtual device after
// every decoded event, per the pump's per-device processing rule.
func (p *Pump) RunReader(src Source) error {
	for {
		event, err := src.Device.ReadEvent()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceGone, err)
		}

		p.handleEvent(src, event)
	}
}

func (p *Pump) handleEvent(src Source, event input.Event) {
	switch event.Type {
	case input.EV_KEY:
		p.handleKey(src, event.Code, event.Value)
	case input.EV_ABS:
		p.handleAbs(src, event.Code, event.Value)
	case input.EV_FF:
		p.handleFF(event.Code, event.Value)
	default:
		return
	}

	if err := p.virtual.Sync(); err != nil {
		p.log.Debug("pump: virtual sync failed", "err", err)
	}
}

func (p *Pump) handleKey(src Source, code uint16, value int32) {
	pressed := value != 0

	if p.gear != nil && p.gear.Tracks(code) {
		p.gear.SetPressed(code, pressed)

		normalized, changed := p.gear.Resolve()
		if changed {
			p.writeKey(normalized, true)
		}

		return
	}

	source := mapping.Source{Role: src.Role, Code: code}

	vcode, ok := p.table.KeySrcToVirt[source]
	if !ok {
		p.writeKeyRaw(code, value)
		return
	}

	edge, emit := p.buttons.Update(vcode, pressed)
	if emit {
		p.writeKey(vcode, edge)
	}
}

func (p *Pump) writeKey(vcode uint16, pressed bool) {
	var value int32
	if pressed {
		value = 1
	}

	p.writeKeyRaw(vcode, value)
}

func (p *Pump) writeKeyRaw(code uint16, value int32) {
	if err := p.virtual.WriteEvent(input.EV_KEY, code, value); err != nil {
		p.log.Debug("pump: key write failed", "code", input.CodeName(code), "err", err)
	}
}

func (p *Pump) handleAbs(src Source, code uint16, value int32) {
	if hatKey, ok := src.HatSources[code]; ok {
		source := mapping.Source{Role: src.Role, Code: code}
		vcode, ok := p.table.AbsSrcToVirt[source]

		if ok && hatVirtualCodes[vcode] {
			out, changed := p.hatFor(vcode).Update(hatKey, normalizeHat(value), time.Now())
			if changed {
				p.writeAbsRaw(vcode, out)
			}

			return
		}
	}

	source := mapping.Source{Role: src.Role, Code: code}

	vcode, ok := p.table.AbsSrcToVirt[source]
	if !ok {
		return
	}

	tracker, ok := p.axes[source]
	if !ok {
		return
	}

	out := tracker.Update(value)
	p.writeAbsRaw(vcode, out)

	p.telemetry.maybeLog(p.log, vcode, out)
}

func normalizeHat(value int32) int32 {
	switch {
	case value < 0:
		return -1
	case value > 0:
		return 1
	default:
		return 0
	}
}

func (p *Pump) writeAbsRaw(code uint16, value int32) {
	if err := p.virtual.WriteEvent(input.EV_ABS, code, value); err != nil {
		p.log.Debug("pump: abs write failed", "code", input.CodeName(code), "err", err)
	}
}

// handleFF mirrors gain/autocenter/play/stop force-feedback events the
// kernel delivers on the virtual device to the physical wheel,
// translating the virtual effect id (event.Code) to its physical slot
// via the effect map.
func (p *Pump) handleFF(code uint16, value int32) {
	switch code {
	case input.FF_GAIN, input.FF_AUTOCENTER:
		p.mirrorWithRetry(input.EV_FF, code, clampUint16(value))
		return
	}

	phys, ok := p.effects.LookupPhysical(int16(code))
	if !ok {
		return
	}

	p.mirrorWithRetry(input.EV_FF, uint16(phys), value)
}

func clampUint16(v int32) int32 {
	switch {
	case v < 0:
		return 0
	case v > 0xFFFF:
		return 0xFFFF
	default:
		return v
	}
}

// mirrorWithRetry writes one FF pass-through event to the wheel,
// retrying on transient failure with the bounded exponential-ish
// backoff named for FFB writes (20ms, 40ms, 80ms, then give up).
func (p *Pump) mirrorWithRetry(typ, code uint16, value int32) {
	backoff := 20 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		if err := p.wheel.WriteEvent(typ, code, value); err == nil {
			return
		}

		time.Sleep(backoff)
		backoff *= 2
	}

	p.log.Debug("pump: ff mirror exhausted retries", "code", input.CodeName(code))
}
