//go:build linux

package alloc

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blkDiscard is BLKDISCARD from linux/fs.h; golang.org/x/sys/unix
// doesn't expose it as a named ioctl helper, so it's issued directly
// via unix.Syscall the way the retrieved examples issue other
// block-device ioctls that lack a typed wrapper.
const blkDiscard = 0x1277

// LinuxDiscarder issues a BLKDISCARD ioctl against the backing block
// device.
type LinuxDiscarder struct{}

func NewDiscarder() Discarder {
	return LinuxDiscarder{}
}

func (LinuxDiscarder) Discard(device_path string, byte_offset, byte_len int64) error {
	if device_path == "" {
		return nil
	}

	f, err := os.OpenFile(device_path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	rng := [2]uint64{uint64(byte_offset), uint64(byte_len)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkDiscard,
		uintptr(unsafe.Pointer(&rng)))
	if errno != 0 {
		return errno
	}
	return nil
}
