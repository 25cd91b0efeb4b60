package ffb_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hidemune/understeer-go/ffb"
	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/linux/uinput"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend simulates the physical wheel: a fixed number of slots,
// optional stall on upload, and call counting for exhaustion tests.
type fakeBackend struct {
	mu          sync.Mutex
	nextSlot    int
	maxSlots    int
	used        map[int]bool
	uploadCalls int
	stall       bool
	events      []struct {
		typ, code uint16
		value     int32
	}
}

func newFakeBackend(maxSlots int) *fakeBackend {
	return &fakeBackend{maxSlots: maxSlots, used: make(map[int]bool)}
}

func (f *fakeBackend) UploadEffect(ctx context.Context, effect *input.FFEffect) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploadCalls++

	if f.stall {
		<-ctx.Done()
		return ctx.Err()
	}

	if effect.Id >= 0 {
		return nil // update in place
	}

	if len(f.used) >= f.maxSlots {
		return ffb.ErrNoSpace
	}

	slot := f.nextSlot
	f.nextSlot++
	f.used[slot] = true
	effect.Id = int16(slot)

	return nil
}

func (f *fakeBackend) EraseEffect(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.used, id)

	return nil
}

func (f *fakeBackend) WriteEvent(typ, code uint16, value int32) error {
	f.events = append(f.events, struct {
		typ, code uint16
		value     int32
	}{typ, code, value})

	return nil
}

// fakeControl feeds a scripted queue of upload/erase requests to the
// proxy, standing in for the uinput control descriptor.
type fakeControl struct {
	mu      sync.Mutex
	uploads []uinput.UploadRequest
	erases  []uinput.EraseRequest
	synced  int
}

func (c *fakeControl) BeginUpload() (uinput.UploadRequest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.uploads) == 0 {
		return uinput.UploadRequest{}, false, nil
	}

	req := c.uploads[0]
	c.uploads = c.uploads[1:]

	return req, true, nil
}

func (c *fakeControl) EndUpload(*uinput.UploadRequest) error { return nil }

func (c *fakeControl) BeginErase() (uinput.EraseRequest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.erases) == 0 {
		return uinput.EraseRequest{}, false, nil
	}

	req := c.erases[0]
	c.erases = c.erases[1:]

	return req, true, nil
}

func (c *fakeControl) EndErase(*uinput.EraseRequest) error { return nil }

func (c *fakeControl) Sync() error {
	c.synced++
	return nil
}

func periodicEffect(virt int16, magnitude int16) input.FFEffect {
	var effect input.FFEffect

	effect.Type = input.FF_PERIODIC
	effect.Id = virt

	periodic := struct {
		Waveform, Period uint16
		Magnitude, Offset int16
	}{Magnitude: magnitude}

	effect.U[0] = byte(periodic.Waveform)
	effect.U[2] = byte(periodic.Period)
	effect.U[4] = byte(uint16(periodic.Magnitude))
	effect.U[5] = byte(uint16(periodic.Magnitude) >> 8)

	return effect
}

func TestUploadThenEraseMapIsConsistent(t *testing.T) {
	backend := newFakeBackend(4)
	control := &fakeControl{
		uploads: []uinput.UploadRequest{{Effect: periodicEffect(0, 100)}},
		erases:  []uinput.EraseRequest{{EffectID: 0}},
	}

	proxy := ffb.New(discardLogger(), control, backend)
	proxy.InitialCleanup(50, 50)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go proxy.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	proxy.Stop()

	require.Positive(t, backend.uploadCalls)

	_, mapped := proxy.LookupPhysical(0)
	require.False(t, mapped, "erase removes the virtual effect from the map")
	require.Empty(t, backend.used, "erase frees the physical slot")
}

func TestSlotExhaustionEvictsLRUAndRetries(t *testing.T) {
	backend := newFakeBackend(1)

	control := &fakeControl{
		uploads: []uinput.UploadRequest{
			{Effect: periodicEffect(0, 100)},
			{Effect: periodicEffect(1, 100)},
		},
	}

	proxy := ffb.New(discardLogger(), control, backend)

	runCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go proxy.Run(runCtx)
	time.Sleep(50 * time.Millisecond)
	proxy.Stop()

	require.Equal(t, 3, backend.uploadCalls, "exhaustion should trigger eviction and one retry")

	_, evicted := proxy.LookupPhysical(0)
	require.False(t, evicted, "the least recently used effect is evicted")

	_, mapped := proxy.LookupPhysical(1)
	require.True(t, mapped, "the retried upload is mapped")
}

func TestPeriodicZeroMagnitudeShortCircuits(t *testing.T) {
	backend := newFakeBackend(4)
	control := &fakeControl{
		uploads: []uinput.UploadRequest{{Effect: periodicEffect(-1, 0)}},
	}

	proxy := ffb.New(discardLogger(), control, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go proxy.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	proxy.Stop()

	require.Zero(t, backend.uploadCalls, "magnitude=0 never reaches the physical backend")
}
