// Package device enumerates accessible evdev input devices and
// resolves the identity and sibling-node information the supervisor
// needs to pick a wheel and a shifter.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hidemune/understeer-go/linux/input"
)

// Info describes one enumerated physical input device.
type Info struct {
	// Path is the /dev/input/eventN node this device was opened from.
	Path string

	// Name is the driver-reported device name.
	Name string

	// ID is the bus/vendor/product/version identifier.
	ID input.ID

	// Phys is the physical location path, if the driver reports one.
	Phys string

	// Uniq is the device's unique identifier, if the driver reports one.
	Uniq string

	// HidrawPath is the sibling /dev/hidrawN node for raw HID access,
	// or "" if no such sibling was found.
	HidrawPath string
}

// List enumerates every accessible /dev/input/eventN device and
// returns its resolved identity. Devices that fail to open (typically
// due to insufficient permissions) are skipped.
func List() ([]Info, error) {
	var (
		devices []*input.Device
		infos   []Info
		dev     *input.Device
		err     error
	)

	devices, err = input.Devices()
	if err != nil {
		return nil, fmt.Errorf("device.List: %w", err)
	}

	infos = make([]Info, 0, len(devices))
	for _, dev = range devices {
		info, describeErr := describe(dev)
		dev.Close()

		if describeErr != nil {
			continue
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func describe(dev *input.Device) (Info, error) {
	var (
		name string
		id   input.ID
		err  error
	)

	name, err = dev.Name()
	if err != nil {
		return Info{}, fmt.Errorf("device.describe: %w", err)
	}

	id, err = dev.ID()
	if err != nil {
		return Info{}, fmt.Errorf("device.describe: %w", err)
	}

	return Info{
		Path:       dev.Path(),
		Name:       name,
		ID:         id,
		Phys:       dev.Phys(),
		Uniq:       dev.Uniq(),
		HidrawPath: findHidraw(dev.Path()),
	}, nil
}

// findHidraw looks for a sibling hidrawN character device in the same
// sysfs input device directory as eventPath, which is how raw HID
// access can be discovered alongside the evdev node.
func findHidraw(eventPath string) string {
	var (
		eventName string
		sysBase   string
		entries   []os.DirEntry
		entry     os.DirEntry
		err       error
	)

	eventName = filepath.Base(eventPath)
	sysBase = filepath.Join("/sys/class/input", eventName, "device")

	entries, err = os.ReadDir(sysBase)
	if err != nil {
		return ""
	}

	for _, entry = range entries {
		if strings.HasPrefix(entry.Name(), "hidraw") {
			return filepath.Join("/dev", entry.Name())
		}
	}

	return ""
}

// Select picks the device whose Name contains substr (case-insensitive),
// or whose Path equals explicit when explicit is non-empty. An explicit
// path always wins over substring matching.
func Select(infos []Info, explicit, substr string) (Info, bool) {
	var info Info

	if explicit != "" {
		for _, info = range infos {
			if info.Path == explicit {
				return info, true
			}
		}

		return Info{}, false
	}

	if substr == "" {
		return Info{}, false
	}

	for _, info = range infos {
		if strings.Contains(strings.ToLower(info.Name), strings.ToLower(substr)) {
			return info, true
		}
	}

	return Info{}, false
}
