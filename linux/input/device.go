//go:build linux

package input

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/hidemune/understeer-go/linux/ioctl"
	"golang.org/x/sys/unix"
)

// Device represents an evdev input device.
// It wraps the opened /dev/input/eventN file.
type Device struct {
	file *os.File
	fd   uintptr
}

// NewDevice opens the evdev device at the given path and returns a Device.
// The path is cleaned before opening, and the device file is opened
// in read-write mode. The caller is responsible for closing the device
// when no longer needed.
func NewDevice(path string) (*Device, error) {
	var (
		device *Device
		file   *os.File
		err    error
	)

	file, err = os.OpenFile(filepath.Clean(path), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("input.NewDevice: %w", err)
	}

	device = &Device{
		file: file,
		fd:   file.Fd(),
	}

	return device, nil
}

// Devices scans /dev/input for event devices, opens each one, and
// returns a slice of Device pointers. A device that fails to open
// (commonly EACCES on a device the caller doesn't own) is skipped
// rather than aborting the whole scan, since enumeration is meant to
// work for an unprivileged "list devices" invocation too.
func Devices() ([]*Device, error) {
	var (
		devices []*Device
		device  *Device
		paths   []string
		path    string
		err     error
	)

	paths, err = filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("input.Devices: %w", err)
	}

	devices = make([]*Device, 0, len(paths))
	for _, path = range paths {
		device, err = NewDevice(path)
		if err != nil {
			continue
		}

		devices = append(devices, device)
	}

	return devices, nil
}

// Path returns the device node path this Device was opened from.
func (dev *Device) Path() string {
	return dev.file.Name()
}

// Fd returns the underlying file descriptor, for ioctls and poll(2)
// callers outside this package.
func (dev *Device) Fd() uintptr {
	return dev.fd
}

// SetNonblock toggles O_NONBLOCK on the device's file descriptor.
func (dev *Device) SetNonblock(nonblocking bool) error {
	var err error

	err = unix.SetNonblock(int(dev.fd), nonblocking)
	if err != nil {
		return fmt.Errorf("Device.SetNonblock: %w", err)
	}

	return nil
}

// Grab acquires (or releases, when grab is false) an exclusive grab on
// the device via EVIOCGRAB, preventing other processes (including the
// desktop's input stack) from seeing its events while held.
func (dev *Device) Grab(grab bool) error {
	var (
		arg int
		err error
	)

	if grab {
		arg = 1
	}

	err = ioctl.Any(dev.fd, EVIOCGRAB(), &arg)
	if err != nil {
		return fmt.Errorf("Device.Grab: %w", err)
	}

	return nil
}

// Name returns the human-readable name of the evdev device.
// It sends the [EVIOCGNAME] ioctl to read up to 256 bytes and
// converts the null-terminated result into a Go string.
func (dev *Device) Name() (string, error) {
	var (
		buf []byte
		err error
	)

	buf = make([]byte, 256)

	err = ioctl.Any(dev.fd, EVIOCGNAME(256), &buf[0])
	if err != nil {
		return "", fmt.Errorf("Device.Name: %w", err)
	}

	return unix.ByteSliceToString(buf), nil
}

// ID returns the bus/vendor/product/version identifier for this evdev
// device via the EVIOCGID ioctl.
func (dev *Device) ID() (ID, error) {
	var (
		id  ID
		err error
	)

	err = ioctl.Any(dev.fd, EVIOCGID, &id)
	if err != nil {
		return ID{}, fmt.Errorf("Device.ID: %w", err)
	}

	return id, nil
}

// Phys returns the device's physical location path via EVIOCGPHYS, or
// "" if the driver doesn't report one.
func (dev *Device) Phys() string {
	var buf = make([]byte, 256)

	if ioctl.Any(dev.fd, EVIOCGPHYS(256), &buf[0]) != nil {
		return ""
	}

	return unix.ByteSliceToString(buf)
}

// Uniq returns the device's unique identifier (often a serial number)
// via EVIOCGUNIQ, or "" if the driver doesn't report one.
func (dev *Device) Uniq() string {
	var buf = make([]byte, 256)

	if ioctl.Any(dev.fd, EVIOCGUNIQ(256), &buf[0]) != nil {
		return ""
	}

	return unix.ByteSliceToString(buf)
}

// EventTypes returns a slice of all supported event types for the device.
func (dev *Device) EventTypes() ([]uint16, error) {
	var (
		buf       []byte
		events    []uint16
		eventType uint16
		err       error
	)

	buf = make([]byte, (EV_MAX+7)/8)

	err = ioctl.Any(dev.fd, EVIOCGBIT(0, uint(len(buf))), &buf[0])
	if err != nil {
		return nil, fmt.Errorf("Device.EventTypes: %w", err)
	}

	events = make([]uint16, 0, EV_CNT)

	for eventType = range uint16(EV_CNT) {
		if !TestBit(buf, uint(eventType)) {
			continue
		}

		events = append(events, eventType)
	}

	return events, nil
}

// Codes returns all supported event codes for the given eventType.
func (dev *Device) Codes(eventType uint16) ([]uint16, error) {
	var (
		buf            []byte
		codes          []uint16
		maxCodes, code uint
		ok             bool
		err            error
	)

	maxCodes, ok = MaxCodes(eventType)
	if !ok {
		return nil, fmt.Errorf("Device.Codes: %w %d", ErrInvalidEventType, eventType)
	}

	buf = make([]byte, (maxCodes+7)/8)

	err = ioctl.Any(dev.fd, EVIOCGBIT(uint(eventType), uint(len(buf))), &buf[0])
	if err != nil {
		return nil, fmt.Errorf("Device.Codes: %w", err)
	}

	codes = make([]uint16, 0, maxCodes+1)

	for code = range maxCodes + 1 {
		if !TestBit(buf, code) {
			continue
		}

		codes = append(codes, uint16(code))
	}

	return codes, nil
}

// AbsInfo returns the range/fuzz/flat/resolution metadata for an
// absolute axis via EVIOCGABS.
func (dev *Device) AbsInfo(code uint16) (AbsInfo, error) {
	var (
		info AbsInfo
		err  error
	)

	err = ioctl.Any(dev.fd, EVIOCGABS(uint(code)), &info)
	if err != nil {
		return AbsInfo{}, fmt.Errorf("Device.AbsInfo: %w", err)
	}

	return info, nil
}

// ReadEvent blocks (unless the fd is non-blocking) until the next raw
// input_event is available and returns it decoded.
func (dev *Device) ReadEvent() (Event, error) {
	var (
		raw rawEvent
		buf []byte
		n   int
		err error
	)

	buf = unsafe.Slice((*byte)(unsafe.Pointer(&raw)), unsafe.Sizeof(raw))

	n, err = dev.file.Read(buf)
	if err != nil {
		return Event{}, fmt.Errorf("Device.ReadEvent: %w", err)
	}

	if n != len(buf) {
		return Event{}, fmt.Errorf("Device.ReadEvent: short read %d/%d", n, len(buf))
	}

	return Event{
		Sec:   uint64(raw.Sec),
		Usec:  uint64(raw.Usec),
		Type:  raw.Type,
		Code:  raw.Code,
		Value: raw.Value,
	}, nil
}

// WriteEvent writes a raw input_event to the device, stamping the
// current time. Used both to drive the virtual device and to mirror
// FFB gain/autocenter/play/stop events to the physical wheel.
func (dev *Device) WriteEvent(typ, code uint16, value int32) error {
	var (
		now time.Time
		raw rawEvent
		buf []byte
		err error
	)

	now = time.Now()
	raw = rawEvent{
		Sec:   int64(now.Unix()),
		Usec:  int64(now.Nanosecond() / 1000),
		Type:  typ,
		Code:  code,
		Value: value,
	}

	buf = unsafe.Slice((*byte)(unsafe.Pointer(&raw)), unsafe.Sizeof(raw))

	_, err = dev.file.Write(buf)
	if err != nil {
		return fmt.Errorf("Device.WriteEvent: %w", err)
	}

	return nil
}

// Sync writes an EV_SYN/SYN_REPORT event, the boundary marker evdev
// consumers expect after a batch of state changes.
func (dev *Device) Sync() error {
	return dev.WriteEvent(EV_SYN, SYN_REPORT, 0)
}

// UploadEffect issues the EVIOCSFF ioctl, uploading or updating a
// force-feedback effect. On success, effect.Id is populated (or left
// unchanged for an update) with the kernel-assigned physical slot id.
func (dev *Device) UploadEffect(effect *FFEffect) error {
	var err error

	err = ioctl.Any(dev.fd, EVIOCSFF(), effect)
	if err != nil {
		return fmt.Errorf("Device.UploadEffect: %w", err)
	}

	return nil
}

// EraseEffect issues the EVIOCRMFF ioctl, removing a previously
// uploaded effect by its physical slot id.
func (dev *Device) EraseEffect(id int) error {
	var err error

	err = ioctl.Any(dev.fd, EVIOCRMFF(), &id)
	if err != nil {
		return fmt.Errorf("Device.EraseEffect: %w", err)
	}

	return nil
}

// EffectsMax returns how many force-feedback effect slots the device
// can hold simultaneously via EVIOCGEFFECTS.
func (dev *Device) EffectsMax() (int, error) {
	var (
		max int
		err error
	)

	err = ioctl.Any(dev.fd, EVIOCGEFFECTS(), &max)
	if err != nil {
		return 0, fmt.Errorf("Device.EffectsMax: %w", err)
	}

	return max, nil
}

// File exposes the underlying *os.File for callers that need raw
// poll(2)/select(2) access beyond what this package wraps.
func (dev *Device) File() *os.File {
	return dev.file
}

// Close closes the evdev device by closing its underlying file handle.
func (dev *Device) Close() error {
	var err error

	err = dev.file.Close()
	if err != nil {
		return fmt.Errorf("Device.Close: %w", err)
	}

	return nil
}

// rawEvent mirrors struct input_event's on-wire layout on a 64-bit
// Linux kernel (tv_sec/tv_usec are long, i.e. 8 bytes on amd64/arm64).
type rawEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}
