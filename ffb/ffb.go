// Package ffb implements the force-feedback proxy: it services
// upload/erase requests a game issues against the virtual device's
// kernel callback queue, forwards them as effect ioctls against the
// physical wheel, and maintains the virtual↔physical effect-ID map.
package ffb

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/linux/uinput"
	"golang.org/x/sys/unix"
)

// Sentinel errors surfaced by the proxy's wheel-facing calls.
var (
	ErrNoSpace  = errors.New("ffb: no free effect slots")
	ErrStalled  = errors.New("ffb: ioctl stalled past its budget")
	ErrNotFound = errors.New("ffb: effect id not found")
)

// erase/upload stall budgets named in the concurrency model.
const (
	eraseTimeout  = 500 * time.Millisecond
	uploadTimeout = 2500 * time.Millisecond
	minRequestGap = 2 * time.Millisecond
)

// Backend is the wheel-facing half of the proxy: issuing the actual
// upload/erase ioctls and reporting slot capacity. Production code
// wires this to *input.Device; tests wire it to a fake that can
// simulate slot exhaustion and stalls.
type Backend interface {
	UploadEffect(ctx context.Context, effect *input.FFEffect) error
	EraseEffect(ctx context.Context, id int) error
	WriteEvent(typ, code uint16, value int32) error
}

// Control is the virtual-device-facing half: draining begin/end
// upload/erase requests. Production code wires this to
// *uinput.Device; tests wire it to a fake request source.
type Control interface {
	BeginUpload() (uinput.UploadRequest, bool, error)
	EndUpload(*uinput.UploadRequest) error
	BeginErase() (uinput.EraseRequest, bool, error)
	EndErase(*uinput.EraseRequest) error
	Sync() error
}

// effectMap is the bidirectional virtual↔physical effect-ID map with
// last-used timestamps for LRU eviction, guarded by the proxy's mutex.
type effectMap struct {
	virtToPhys map[int16]int
	physToVirt map[int]int16
	lastUsed   map[int]time.Time
}

func newEffectMap() *effectMap {
	return &effectMap{
		virtToPhys: make(map[int16]int),
		physToVirt: make(map[int]int16),
		lastUsed:   make(map[int]time.Time),
	}
}

func (m *effectMap) insert(virt int16, phys int) {
	m.virtToPhys[virt] = phys
	m.physToVirt[phys] = virt
	m.lastUsed[phys] = time.Now()
}

func (m *effectMap) forgetByVirt(virt int16) {
	phys, ok := m.virtToPhys[virt]
	if !ok {
		return
	}

	delete(m.virtToPhys, virt)
	delete(m.physToVirt, phys)
	delete(m.lastUsed, phys)
}

func (m *effectMap) lru() (int, bool) {
	var (
		best    int
		bestAt  time.Time
		found   bool
		phys    int
		usedAt  time.Time
	)

	for phys, usedAt = range m.lastUsed {
		if !found || usedAt.Before(bestAt) {
			best, bestAt, found = phys, usedAt, true
		}
	}

	return best, found
}

// Proxy services the FFB request loop for one physical wheel.
type Proxy struct {
	log     *slog.Logger
	control Control
	backend Backend
	mu      sync.Mutex
	effects *effectMap
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Proxy. InitialCleanup should be called once before Run.
func New(log *slog.Logger, control Control, backend Backend) *Proxy {
	return &Proxy{
		log:     log,
		control: control,
		backend: backend,
		effects: newEffectMap(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// InitialCleanup erases physical effect slots 0..63, tolerating
// errors, then sets the initial gain and autocenter to the given
// percentages (0-100, mapped to the 16-bit unsigned FF range).
func (p *Proxy) InitialCleanup(gainPercent, autocenterPercent int) {
	var slot int

	for slot = range 64 {
		ctx, cancel := context.WithTimeout(context.Background(), eraseTimeout)
		err := p.backend.EraseEffect(ctx, slot)
		cancel()

		if err != nil {
			p.log.Debug("ffb: initial cleanup erase failed, ignoring", "slot", slot, "err", err)
		}
	}

	p.setPercent(input.FF_GAIN, gainPercent)
	p.setPercent(input.FF_AUTOCENTER, autocenterPercent)
}

func (p *Proxy) setPercent(code uint16, percent int) {
	var value = clampPercent(percent) * 0xFFFF / 100

	err := p.backend.WriteEvent(input.EV_FF, code, int32(value))
	if err != nil {
		p.log.Warn("ffb: failed to set initial ff value", "code", input.CodeName(code), "err", err)
	}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Stop signals the request loop to exit and waits for it to do so.
func (p *Proxy) Stop() {
	close(p.stop)
	<-p.done
}

// Run drains begin/end upload/erase requests until Stop is called.
// ctx additionally bounds the loop's lifetime.
func (p *Proxy) Run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		drained := p.drainOnce(ctx)

		if drained {
			if err := p.control.Sync(); err != nil {
				p.log.Debug("ffb: sync after drain failed", "err", err)
			}
		}

		time.Sleep(minRequestGap)
	}
}

// drainOnce repeatedly attempts a non-blocking begin-upload, then a
// non-blocking begin-erase, until both would-block, and reports
// whether anything was drained.
func (p *Proxy) drainOnce(ctx context.Context) bool {
	var drained bool

	for {
		req, ok, err := p.control.BeginUpload()
		if err != nil {
			p.log.Debug("ffb: begin upload failed", "err", err)
			break
		}

		if !ok {
			break
		}

		drained = true
		p.handleUpload(ctx, &req)

		if err := p.control.EndUpload(&req); err != nil {
			p.log.Debug("ffb: end upload failed", "err", err)
		}
	}

	for {
		req, ok, err := p.control.BeginErase()
		if err != nil {
			p.log.Debug("ffb: begin erase failed", "err", err)
			break
		}

		if !ok {
			break
		}

		drained = true
		p.handleErase(ctx, &req)

		if err := p.control.EndErase(&req); err != nil {
			p.log.Debug("ffb: end erase failed", "err", err)
		}
	}

	return drained
}

func (p *Proxy) handleUpload(ctx context.Context, req *uinput.UploadRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	effect := &req.Effect

	if effect.Type == input.FF_PERIODIC && periodicMagnitude(effect) == 0 {
		req.Retval = 0
		return
	}

	normalize(effect)

	virt := effect.Id

	if phys, ok := p.effects.virtToPhys[virt]; ok {
		effect.Id = int16(phys)

		if err := p.uploadWithRetry(ctx, effect); err != nil {
			req.Retval = -1
			return
		}

		p.effects.lastUsed[phys] = time.Now()
		req.Retval = 0
		return
	}

	effect.Id = -1

	if err := p.uploadWithRetry(ctx, effect); err != nil {
		req.Retval = -1
		return
	}

	p.effects.insert(virt, int(effect.Id))
	req.Retval = 0
}

// uploadWithRetry issues the physical upload ioctl bounded by the
// stall timeout; on ErrNoSpace it evicts the LRU physical slot and
// retries exactly once.
func (p *Proxy) uploadWithRetry(ctx context.Context, effect *input.FFEffect) error {
	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	err := p.backend.UploadEffect(uploadCtx, effect)
	cancel()

	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrNoSpace) {
		return err
	}

	phys, ok := p.effects.lru()
	if !ok {
		return err
	}

	eraseCtx, eraseCancel := context.WithTimeout(ctx, eraseTimeout)
	_ = p.backend.EraseEffect(eraseCtx, phys)
	eraseCancel()

	if virt, ok := p.effects.physToVirt[phys]; ok {
		p.effects.forgetByVirt(virt)
	}

	retryCtx, retryCancel := context.WithTimeout(ctx, uploadTimeout)
	defer retryCancel()

	return p.backend.UploadEffect(retryCtx, effect)
}

func (p *Proxy) handleErase(ctx context.Context, req *uinput.EraseRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	virt := int16(req.EffectID)

	phys, ok := p.effects.virtToPhys[virt]
	if !ok {
		req.Retval = 0
		return
	}

	eraseCtx, cancel := context.WithTimeout(ctx, eraseTimeout)
	err := p.backend.EraseEffect(eraseCtx, phys)
	cancel()

	p.effects.forgetByVirt(virt)

	if err != nil && !errors.Is(err, ErrNotFound) {
		p.log.Debug("ffb: erase returned benign error", "err", err)
	}

	req.Retval = 0
}

// LookupPhysical translates a virtual effect ID to its physical slot,
// for the pump's gain/autocenter/play/stop mirroring path.
func (p *Proxy) LookupPhysical(virt int16) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	phys, ok := p.effects.virtToPhys[virt]

	return phys, ok
}

// wheelDevice is the subset of *input.Device the physical-wheel
// backend needs; declared here so tests can substitute a narrower fake
// without importing the linux/input package's device-opening machinery.
type wheelDevice interface {
	UploadEffect(effect *input.FFEffect) error
	EraseEffect(id int) error
	WriteEvent(typ, code uint16, value int32) error
}

// WheelBackend adapts a physical wheel's blocking ioctl calls to the
// context-bounded Backend interface, per the stall-protection model:
// each call runs on its own goroutine and the result is read through a
// buffered channel so a hung ioctl never blocks the proxy past ctx's
// deadline. A goroutine left behind by a timeout is never killed; its
// eventual result is simply discarded.
type WheelBackend struct {
	dev wheelDevice
}

// NewWheelBackend wraps dev as an ffb.Backend.
func NewWheelBackend(dev wheelDevice) *WheelBackend {
	return &WheelBackend{dev: dev}
}

func (w *WheelBackend) UploadEffect(ctx context.Context, effect *input.FFEffect) error {
	result := make(chan error, 1)

	go func() {
		result <- w.dev.UploadEffect(effect)
	}()

	select {
	case err := <-result:
		if errors.Is(err, unix.ENOSPC) {
			return ErrNoSpace
		}

		return err
	case <-ctx.Done():
		return ErrStalled
	}
}

func (w *WheelBackend) EraseEffect(ctx context.Context, id int) error {
	result := make(chan error, 1)

	go func() {
		result <- w.dev.EraseEffect(id)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ErrStalled
	}
}

func (w *WheelBackend) WriteEvent(typ, code uint16, value int32) error {
	return w.dev.WriteEvent(typ, code, value)
}

func asPeriodic(effect *input.FFEffect) *input.FFPeriodicEffect {
	return (*input.FFPeriodicEffect)(unsafe.Pointer(&effect.U[0]))
}

// asConditions views effect.U as the kernel does for spring/friction/
// damper/inertia: a two-element array, one entry per axis.
func asConditions(effect *input.FFEffect) *[2]input.FFConditionEffect {
	return (*[2]input.FFConditionEffect)(unsafe.Pointer(&effect.U[0]))
}

func periodicMagnitude(effect *input.FFEffect) int16 {
	return asPeriodic(effect).Magnitude
}

// normalize clamps and fixes up effect-kind-specific parameters before
// the physical upload ioctl, per the condition/periodic rules.
func normalize(effect *input.FFEffect) {
	switch effect.Type {
	case input.FF_PERIODIC:
		normalizePeriodic(effect)
	case input.FF_SPRING, input.FF_FRICTION, input.FF_DAMPER, input.FF_INERTIA:
		normalizeCondition(effect)
	}

	if effect.Replay.Length == 0 {
		effect.Replay.Length = 1
	}
}

func normalizePeriodic(effect *input.FFEffect) {
	p := asPeriodic(effect)

	if p.Period < 1 {
		p.Period = 1
	}

	p.Magnitude = clampInt16(p.Magnitude, 1, 32767)
	p.Offset = clampInt16(p.Offset, -32767, 32767)

	if p.Envelope.AttackLevel > 0x7fff {
		p.Envelope.AttackLevel = 0x7fff
	}

	if p.Envelope.FadeLevel > 0x7fff {
		p.Envelope.FadeLevel = 0x7fff
	}

	p.CustomLen = 0
	p.CustomData = nil
}

func clampInt16(v, lo, hi int16) int16 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// normalizeCondition initializes both axis entries of the condition
// array with safe defaults, since the source mapping may have only
// supplied one axis.
func normalizeCondition(effect *input.FFEffect) {
	conditions := asConditions(effect)

	for i := range conditions {
		c := &conditions[i]

		if c.RightSaturation == 0 && c.LeftSaturation == 0 && c.RightCoeff == 0 && c.LeftCoeff == 0 {
			c.RightSaturation = 0x7fff
			c.LeftSaturation = 0x7fff
			c.RightCoeff = 0
			c.LeftCoeff = 0
			c.Deadband = 0
			c.Center = 0
		}
	}
}
