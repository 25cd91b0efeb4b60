//go:build linux

package uinput

import (
	"github.com/hidemune/understeer-go/linux/input"
	"github.com/hidemune/understeer-go/linux/ioctl"
)

// maxNameSize matches UINPUT_MAX_NAME_SIZE in linux/uinput.h.
const maxNameSize = 80

// Setup mirrors struct uinput_setup, the payload for [UI_DEV_SETUP].
type Setup struct {
	ID      input.ID
	Name    [maxNameSize]byte
	FFEffectsMax uint32
}

// AbsSetup mirrors struct uinput_abs_setup, the payload for
// [UI_ABS_SETUP].
type AbsSetup struct {
	Code    uint16
	_       [2]byte // alignment padding to match the kernel's struct layout
	AbsInfo input.AbsInfo
}

const (
	// uiMagic is the ioctl magic ('U') shared by every uinput request
	// below.
	uiMagic = 'U'
)

var (
	// UI_DEV_CREATE finalizes virtual device creation. No capability
	// declaration ioctl may be issued after this one succeeds.
	UI_DEV_CREATE = ioctl.IO(uiMagic, 1)

	// UI_DEV_DESTROY tears down a created virtual device.
	UI_DEV_DESTROY = ioctl.IO(uiMagic, 2)

	// UI_DEV_SETUP applies device identity (bus type, vendor, product,
	// version, name, max FF effects) before creation.
	UI_DEV_SETUP = ioctl.IOW(uiMagic, 3, Setup{})

	// UI_ABS_SETUP declares one absolute axis's full range metadata.
	UI_ABS_SETUP = ioctl.IOW(uiMagic, 4, AbsSetup{})

	// UI_SET_EVBIT declares that the device will emit the given event
	// type.
	UI_SET_EVBIT = ioctl.IOW(uiMagic, 100, int(0))

	// UI_SET_KEYBIT declares one key/button code the device will emit.
	UI_SET_KEYBIT = ioctl.IOW(uiMagic, 101, int(0))

	// UI_SET_RELBIT declares one relative-axis code the device will emit.
	UI_SET_RELBIT = ioctl.IOW(uiMagic, 102, int(0))

	// UI_SET_ABSBIT declares one absolute-axis code the device will
	// carry; full range metadata is supplied separately via
	// [UI_ABS_SETUP].
	UI_SET_ABSBIT = ioctl.IOW(uiMagic, 103, int(0))

	// UI_SET_FFBIT declares one force-feedback effect type the device
	// supports.
	UI_SET_FFBIT = ioctl.IOW(uiMagic, 107, int(0))

	// UI_BEGIN_FF_UPLOAD retrieves a pending force-feedback upload
	// request from the kernel's callback queue.
	UI_BEGIN_FF_UPLOAD = ioctl.IOWR(uiMagic, 200, UploadRequest{})

	// UI_END_FF_UPLOAD completes a force-feedback upload request,
	// returning the (possibly modified) effect and retval to the kernel.
	UI_END_FF_UPLOAD = ioctl.IOW(uiMagic, 201, UploadRequest{})

	// UI_BEGIN_FF_ERASE retrieves a pending force-feedback erase
	// request from the kernel's callback queue.
	UI_BEGIN_FF_ERASE = ioctl.IOWR(uiMagic, 202, EraseRequest{})

	// UI_END_FF_ERASE completes a force-feedback erase request.
	UI_END_FF_ERASE = ioctl.IOW(uiMagic, 203, EraseRequest{})
)

// UploadRequest mirrors struct uinput_ff_upload, the payload
// exchanged via [UI_BEGIN_FF_UPLOAD]/[UI_END_FF_UPLOAD].
type UploadRequest struct {
	RequestID uint32
	Retval    int32
	Effect    input.FFEffect
	Old       input.FFEffect
}

// EraseRequest mirrors struct uinput_ff_erase, the payload exchanged
// via [UI_BEGIN_FF_ERASE]/[UI_END_FF_ERASE].
type EraseRequest struct {
	RequestID uint32
	Retval    int32
	EffectID  uint32
}
