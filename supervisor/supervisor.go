// Package supervisor ties together device enumeration, mapping,
// virtual device synthesis, the FFB proxy, and the event pump readers
// into one process lifecycle: startup order, signal handling, and
// shutdown ordering, guarded by a single-instance advisory lock.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/hidemune/understeer-go/axis"
	"github.com/hidemune/understeer-go/config"
	"github.com/hidemune/understeer-go/device"
	"github.com/hidemune/understeer-go/ffb"
	"github.com/hidemune/understeer-go/gear"
	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/mapping"
	"github.com/hidemune/understeer-go/pump"
	"github.com/hidemune/understeer-go/linux/uinput"
	"github.com/hidemune/understeer-go/xdg"
)

// Supervisor owns every long-lived resource for one run of the bridge:
// the physical devices, the virtual device, the FFB proxy, and the
// pump readers.
type Supervisor struct {
	log *slog.Logger
	cfg config.Config

	lock *flock.Flock

	wheel *input.Device
	shift *input.Device

	virtual *uinput.Device
	proxy   *ffb.Proxy

	readers sync.WaitGroup
}

// New constructs a Supervisor; Run drives its full lifecycle.
func New(log *slog.Logger, cfg config.Config) *Supervisor {
	return &Supervisor{log: log, cfg: cfg}
}

// Run enumerates and selects physical devices, builds the virtual
// device and FFB proxy, starts the pump readers, and blocks until ctx
// is cancelled or a termination signal arrives, then shuts everything
// down in reverse order.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := s.openDevices(); err != nil {
		return err
	}
	defer s.closeDevices()

	table, gearMapper, err := s.loadMapping()
	if err != nil {
		return err
	}

	caps := s.buildCapabilities(table, gearMapper)

	s.virtual, err = uinput.Create(s.identity(), caps)
	if err != nil {
		return fmt.Errorf("supervisor.Run: %w", err)
	}
	defer s.virtual.Close()

	backend := ffb.NewWheelBackend(s.wheel)
	s.proxy = ffb.New(s.log, s.virtual, backend)
	s.proxy.InitialCleanup(s.cfg.InitialGainPercent, s.cfg.InitialAutocenterPercent)

	ffbCtx, ffbCancel := context.WithCancel(runCtx)
	defer ffbCancel()

	go s.proxy.Run(ffbCtx)
	defer s.proxy.Stop()

	p := pump.New(s.log, table, s.virtual, s.wheel, s.proxy, gearMapper, s.cfg.HatMode)
	s.bindAxes(p, table, caps.Axes)

	s.startReaders(p)
	defer s.readers.Wait()

	<-runCtx.Done()
	s.log.Info("supervisor: shutting down")

	return nil
}

func (s *Supervisor) identity() uinput.Identity {
	id := s.cfg.Identity
	if id == (config.Identity{}) {
		return uinput.DefaultIdentity
	}

	return uinput.Identity{
		Bustype: id.Bustype,
		Vendor:  id.Vendor,
		Product: id.Product,
		Version: id.Version,
		Name:    id.Name,
	}
}

func (s *Supervisor) acquireLock() error {
	path := xdg.ConfigPath("understeer/supervisor.lock")

	s.lock = flock.New(path)

	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("supervisor.acquireLock: %w", err)
	}

	if !locked {
		return fmt.Errorf("supervisor.acquireLock: another instance is already running")
	}

	return nil
}

func (s *Supervisor) releaseLock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

func (s *Supervisor) openDevices() error {
	infos, err := device.List()
	if err != nil {
		return fmt.Errorf("supervisor.openDevices: %w", err)
	}

	wheelInfo, ok := device.Select(infos, s.cfg.WheelPath, s.cfg.WheelName)
	if !ok {
		return fmt.Errorf("supervisor.openDevices: no wheel device matched")
	}

	s.wheel, err = input.NewDevice(wheelInfo.Path)
	if err != nil {
		return fmt.Errorf("supervisor.openDevices: %w", err)
	}

	if !s.cfg.NoGrab {
		if err = s.wheel.Grab(true); err != nil {
			s.log.Warn("supervisor: failed to grab wheel", "err", err)
		}
	}

	if s.cfg.ShiftPath != "" || s.cfg.ShiftName != "" {
		shiftInfo, ok := device.Select(infos, s.cfg.ShiftPath, s.cfg.ShiftName)
		if ok {
			s.shift, err = input.NewDevice(shiftInfo.Path)
			if err != nil {
				s.log.Warn("supervisor: failed to open shifter", "err", err)
			} else if !s.cfg.NoGrab {
				if err = s.shift.Grab(true); err != nil {
					s.log.Warn("supervisor: failed to grab shifter", "err", err)
				}
			}
		}
	}

	return nil
}

func (s *Supervisor) closeDevices() {
	if s.shift != nil {
		_ = s.shift.Grab(false)
		_ = s.shift.Close()
	}

	if s.wheel != nil {
		_ = s.wheel.Grab(false)
		_ = s.wheel.Close()
	}
}

func (s *Supervisor) loadMapping() (*mapping.Table, *gear.Mapper, error) {
	table, err := mapping.Load(s.log, s.cfg.AxesMapping, s.cfg.ButtonsMapping)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor.loadMapping: %w", err)
	}

	var gearMapper *gear.Mapper

	if s.cfg.GearFile != "" {
		gearMapper, err = gear.Load(s.cfg.GearFile)
		if err != nil {
			s.log.Warn("supervisor: failed to load gear file, gear logic disabled", "err", err)
			gearMapper = nil
		}
	}

	return table, gearMapper, nil
}

// buildCapabilities merges the axes and keys referenced by the mapping
// table with physical devices' advertised range metadata (first-win)
// and, when FF pass-through is enabled, the wheel's FF feature bits.
func (s *Supervisor) buildCapabilities(table *mapping.Table, gearMapper *gear.Mapper) uinput.Capabilities {
	caps := uinput.Capabilities{
		Axes:       make(map[uint16]input.AbsInfo),
		MaxEffects: uint32(s.cfg.MaxEffects),
	}

	for vcode, sources := range table.VirtToSources {
		if len(sources) == 0 {
			continue
		}

		info, ok := s.resolveAbsInfoFor(sources[0].Role, sources[0].Code)
		if !ok {
			continue
		}

		if axis.NarrowNormalized(axis.Range{Min: info.Minimum, Max: info.Maximum}) {
			widened := axis.WidenedSigned15()
			info.Minimum, info.Maximum = widened.Min, widened.Max
		}

		caps.Axes[vcode] = info
	}

	keySeen := make(map[uint16]bool)
	for vcode := range table.VirtToSources {
		if _, isAxis := caps.Axes[vcode]; isAxis {
			continue
		}

		if !keySeen[vcode] {
			keySeen[vcode] = true
			caps.Keys = append(caps.Keys, vcode)
		}
	}

	if gearMapper != nil {
		for i := 0; i < 10; i++ {
			code := input.BTN_0 + uint16(i)
			if !keySeen[code] {
				keySeen[code] = true
				caps.Keys = append(caps.Keys, code)
			}
		}

		if !keySeen[gear.DeadKey] {
			caps.Keys = append(caps.Keys, gear.DeadKey)
		}
	}

	if s.cfg.FFPassthrough != config.FFModeOff {
		caps.FFFeatures = s.wheelFFFeatures()
	}

	return caps
}

func (s *Supervisor) deviceForRole(role mapping.Role) *input.Device {
	if role == mapping.RoleShift && s.shift != nil {
		return s.shift
	}

	return s.wheel
}

func (s *Supervisor) resolveAbsInfoFor(role mapping.Role, sourceCode uint16) (input.AbsInfo, bool) {
	dev := s.deviceForRole(role)
	if dev == nil {
		return input.AbsInfo{}, false
	}

	info, err := dev.AbsInfo(sourceCode)
	if err != nil {
		return input.AbsInfo{}, false
	}

	info.Fuzz = 0
	info.Flat = 0

	return info, true
}

func (s *Supervisor) wheelFFFeatures() []uint16 {
	if s.wheel == nil {
		return nil
	}

	codes, err := s.wheel.Codes(input.EV_FF)
	if err != nil {
		return nil
	}

	ignore := make(map[uint16]bool, len(s.cfg.FFIgnore))
	for _, name := range s.cfg.FFIgnore {
		if code, ok := input.ResolveCode(name); ok {
			ignore[code] = true
		}
	}

	if s.cfg.FFPassthrough == config.FFModeEasy {
		return filterFF([]uint16{input.FF_GAIN, input.FF_AUTOCENTER}, ignore)
	}

	return filterFF(codes, ignore)
}

func filterFF(codes []uint16, ignore map[uint16]bool) []uint16 {
	var out []uint16

	for _, code := range codes {
		if !ignore[code] {
			out = append(out, code)
		}
	}

	return out
}

// bindAxes registers an axis.Tracker for every (source, virtual code)
// pair the mapping declares, using the virtual range already settled
// on during capability merging (first-win, widened when the source was
// a narrow [0,1] normalized axis).
func (s *Supervisor) bindAxes(p *pump.Pump, table *mapping.Table, virtualAxes map[uint16]input.AbsInfo) {
	for vcode, sources := range table.VirtToSources {
		virtualInfo, ok := virtualAxes[vcode]
		if !ok {
			continue
		}

		virtualRange := absRange(virtualInfo)

		for _, src := range sources {
			sourceInfo, ok := s.resolveAbsInfoFor(src.Role, src.Code)
			if !ok {
				continue
			}

			sourceRange := absRange(sourceInfo)

			p.BindAxis(mapping.Source{Role: src.Role, Code: src.Code}, sourceRange, virtualRange)
		}
	}
}

func absRange(info input.AbsInfo) axis.Range {
	return axis.Range{Min: info.Minimum, Max: info.Maximum}
}

func (s *Supervisor) startReaders(p *pump.Pump) {
	if s.wheel != nil {
		s.startReader(p, mapping.RoleWheel, s.wheel)
	}

	if s.shift != nil {
		s.startReader(p, mapping.RoleShift, s.shift)
	}
}

func (s *Supervisor) startReader(p *pump.Pump, role mapping.Role, dev *input.Device) {
	s.readers.Add(1)

	go func() {
		defer s.readers.Done()

		src := pump.Source{Role: role, Device: dev}

		if err := p.RunReader(src); err != nil {
			s.log.Info("supervisor: reader exited", "role", role, "err", err)
		}
	}()
}
