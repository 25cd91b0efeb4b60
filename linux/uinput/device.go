//go:build linux

package uinput

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/linux/ioctl"
	"golang.org/x/sys/unix"
)

func structBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// Identity configures the virtual device's reported bus/vendor/product
// identity and display name.
type Identity struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
	Name    string
}

// DefaultIdentity is the factory's built-in device identity, used
// unless overridden by configuration.
var DefaultIdentity = Identity{
	Bustype: input.BUS_USB,
	Vendor:  0x1234,
	Product: 0xbeef,
	Version: 1,
	Name:    "understeer virtual wheel",
}

// Capabilities is the merged capability set the factory declares
// before creating the virtual device.
type Capabilities struct {
	Keys       []uint16
	Axes       map[uint16]input.AbsInfo
	FFFeatures []uint16
	MaxEffects uint32
}

// Device owns a created virtual input device: the uinput control
// descriptor used for writes and FFB-callback servicing, and (when
// discovered) the event-node path the kernel assigned it.
type Device struct {
	control   *os.File
	eventPath string
}

// Create runs the strict capability-declaration-then-create sequence
// against /dev/uinput: event-type bits, then key bits, then
// absolute-axis bits (with full range via [UI_ABS_SETUP]), then FF
// bits, then identity and the creation ioctl itself. No capability
// declaration is permitted after Create returns successfully.
func Create(identity Identity, caps Capabilities) (*Device, error) {
	var (
		control *os.File
		dev     *Device
		before  []string
		err     error
	)

	control, err = os.OpenFile("/dev/uinput", os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("uinput.Create: %w", err)
	}

	dev = &Device{control: control}

	err = declareCapabilities(control, caps)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("uinput.Create: %w", err)
	}

	before, err = eventNodeList()
	if err != nil {
		before = nil
	}

	err = applyIdentity(control, identity, caps.MaxEffects)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("uinput.Create: %w", err)
	}

	err = ioctl.Any[int](control.Fd(), UI_DEV_CREATE, nil)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("uinput.Create: %w", err)
	}

	dev.eventPath = discoverEventNode(before)

	return dev, nil
}

func declareCapabilities(control *os.File, caps Capabilities) error {
	var (
		types = []uint16{input.EV_KEY, input.EV_ABS, input.EV_SYN}
		code  uint16
		err   error
	)

	if len(caps.FFFeatures) > 0 {
		types = append(types, input.EV_FF)
	}

	for _, code = range types {
		err = setBit(control, UI_SET_EVBIT, code)
		if err != nil {
			return err
		}
	}

	for _, code = range caps.Keys {
		err = setBit(control, UI_SET_KEYBIT, code)
		if err != nil {
			return err
		}
	}

	for code = range caps.Axes {
		err = setBit(control, UI_SET_ABSBIT, code)
		if err != nil {
			return err
		}

		err = setupAxis(control, code, caps.Axes[code])
		if err != nil {
			return err
		}
	}

	for _, code = range caps.FFFeatures {
		err = setBit(control, UI_SET_FFBIT, code)
		if err != nil {
			return err
		}
	}

	return nil
}

func setBit(control *os.File, req uint, code uint16) error {
	var (
		arg = int(code)
		err error
	)

	err = ioctl.Any(control.Fd(), req, &arg)
	if err != nil {
		return fmt.Errorf("uinput.setBit: %w", err)
	}

	return nil
}

func setupAxis(control *os.File, code uint16, info input.AbsInfo) error {
	var (
		setup AbsSetup
		err   error
	)

	setup.Code = code
	setup.AbsInfo = info

	err = ioctl.Any(control.Fd(), UI_ABS_SETUP, &setup)
	if err != nil {
		return fmt.Errorf("uinput.setupAxis: %w", err)
	}

	return nil
}

func applyIdentity(control *os.File, identity Identity, maxEffects uint32) error {
	var (
		setup Setup
		err   error
	)

	setup.ID = input.ID{
		Bustype: identity.Bustype,
		Vendor:  identity.Vendor,
		Product: identity.Product,
		Version: identity.Version,
	}
	setup.FFEffectsMax = maxEffects
	copy(setup.Name[:], identity.Name)

	err = ioctl.Any(control.Fd(), UI_DEV_SETUP, &setup)
	if err != nil {
		return fmt.Errorf("uinput.applyIdentity: %w", err)
	}

	return nil
}

func eventNodeList() ([]string, error) {
	return filepath.Glob("/dev/input/event*")
}

// discoverEventNode diffs the pre/post device list for up to ~2s with
// short sleeps, returning the newly appeared node or "" if none shows
// up in that window. A missing node is not treated as creation
// failure: writes still work through the control descriptor.
func discoverEventNode(before []string) string {
	var (
		beforeSet = make(map[string]bool, len(before))
		deadline  = time.Now().Add(2 * time.Second)
		path      string
	)

	for _, path = range before {
		beforeSet[path] = true
	}

	for time.Now().Before(deadline) {
		after, err := eventNodeList()
		if err == nil {
			for _, path = range after {
				if !beforeSet[path] {
					return path
				}
			}
		}

		time.Sleep(50 * time.Millisecond)
	}

	return ""
}

// Fd returns the uinput control descriptor's file descriptor, used
// for both event writes and FFB-callback polling.
func (d *Device) Fd() uintptr {
	return d.control.Fd()
}

// EventPath returns the discovered /dev/input/eventN node, or "" if
// discovery timed out.
func (d *Device) EventPath() string {
	return d.eventPath
}

// WriteEvent writes a raw input_event to the control descriptor.
func (d *Device) WriteEvent(typ, code uint16, value int32) error {
	var (
		now time.Time
		raw struct {
			Sec, Usec int64
			Type, Code uint16
			Value      int32
		}
		buf []byte
		err error
	)

	now = time.Now()
	raw.Sec = now.Unix()
	raw.Usec = int64(now.Nanosecond() / 1000)
	raw.Type = typ
	raw.Code = code
	raw.Value = value

	buf = structBytes(&raw)

	_, err = d.control.Write(buf)
	if err != nil {
		return fmt.Errorf("Device.WriteEvent: %w", err)
	}

	return nil
}

// Sync writes an EV_SYN/SYN_REPORT boundary event.
func (d *Device) Sync() error {
	return d.WriteEvent(input.EV_SYN, input.SYN_REPORT, 0)
}

// BeginUpload attempts a non-blocking retrieval of a pending
// force-feedback upload request. ok is false on would-block.
func (d *Device) BeginUpload() (UploadRequest, bool, error) {
	var (
		req UploadRequest
		err error
	)

	err = ioctl.Any(d.control.Fd(), UI_BEGIN_FF_UPLOAD, &req)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return UploadRequest{}, false, nil
	}

	if err != nil {
		return UploadRequest{}, false, fmt.Errorf("Device.BeginUpload: %w", err)
	}

	return req, true, nil
}

// EndUpload completes a force-feedback upload request.
func (d *Device) EndUpload(req *UploadRequest) error {
	var err error

	err = ioctl.Any(d.control.Fd(), UI_END_FF_UPLOAD, req)
	if err != nil {
		return fmt.Errorf("Device.EndUpload: %w", err)
	}

	return nil
}

// BeginErase attempts a non-blocking retrieval of a pending
// force-feedback erase request. ok is false on would-block.
func (d *Device) BeginErase() (EraseRequest, bool, error) {
	var (
		req EraseRequest
		err error
	)

	err = ioctl.Any(d.control.Fd(), UI_BEGIN_FF_ERASE, &req)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return EraseRequest{}, false, nil
	}

	if err != nil {
		return EraseRequest{}, false, fmt.Errorf("Device.BeginErase: %w", err)
	}

	return req, true, nil
}

// EndErase completes a force-feedback erase request.
func (d *Device) EndErase(req *EraseRequest) error {
	var err error

	err = ioctl.Any(d.control.Fd(), UI_END_FF_ERASE, req)
	if err != nil {
		return fmt.Errorf("Device.EndErase: %w", err)
	}

	return nil
}

// Close destroys the virtual device and closes the control descriptor.
func (d *Device) Close() error {
	var err error

	ioctl.Any[int](d.control.Fd(), UI_DEV_DESTROY, nil)

	err = d.control.Close()
	if err != nil {
		return fmt.Errorf("Device.Close: %w", err)
	}

	return nil
}
