//go:build linux

package ioctl

import (
	"context"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Any performs an ioctl system call on the given file descriptor.
// It wraps the raw [unix.SYS_IOCTL] syscall, passing req as the ioctl
// request code. The arg parameter is an optional pointer to a value of
// type T. If arg is non-nil, its address is sent to the kernel, allowing
// data to be read into or written from *arg. If arg is nil, a zero pointer
// is passed, which is valid for no-data ioctls (e.g [IO]). On success, any
// output data from the kernel is populated into *arg and the error returned
// is nil. On failure, the returned error is the underlying [syscall.Errno].
func Any[T any](fd uintptr, req uint, arg *T) error {
	var errno syscall.Errno

	_, _, errno = unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		uintptr(req),
		uintptr(unsafe.Pointer(arg)),
	)
	if errno != 0 {
		return errno
	}

	return nil
}

// WithTimeout runs an ioctl on its own goroutine and waits up to the
// context's deadline for it to return. Some driver ioctls (erase,
// upload) are known to hang rather than return EINVAL; since the
// syscall itself cannot be interrupted from outside, a hung call is
// simply abandoned — its goroutine leaks until the kernel eventually
// completes it, and ctx.Err() is returned to the caller in its place.
func WithTimeout[T any](ctx context.Context, fd uintptr, req uint, arg *T) error {
	var done = make(chan error, 1)

	go func() {
		done <- Any(fd, req, arg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("ioctl.WithTimeout: %w", ctx.Err())
	}
}
