// Package loopdevice attaches regular files as Linux loop block devices,
// adapted from the teacher runtime's loop-device helper for the Mount
// Builder's rootfs_image step (§4.2 step 1). The ioctl sequence and the
// EAGAIN/EBUSY transient-retry behavior are unchanged; what differs is the
// scope — this package only ever attaches a single image read-write (or
// read-only) and does not support the shared-loop-device pool the teacher
// uses for compressed SIF images.
package loopdevice

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
	"unsafe"

	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// Device describes an attached loop device.
type Device struct {
	MaxLoopDevices int
	Info           *Info64
	Number         int
	fd             *int
}

// Loop device flags.
const (
	FlagsReadOnly  = 1
	FlagsAutoClear = 4
)

// Loop device ioctl commands.
const (
	CmdSetFd       = 0x4C00
	CmdClrFd       = 0x4C01
	CmdSetStatus64 = 0x4C04
	CmdGetStatus64 = 0x4C05
)

// Info64 mirrors struct loop_info64 from <linux/loop.h>.
type Info64 struct {
	Device         uint64
	Inode          uint64
	Rdevice        uint64
	Offset         uint64
	SizeLimit      uint64
	Number         uint32
	EncryptType    uint32
	EncryptKeySize uint32
	Flags          uint32
	FileName       [64]byte
	CryptName      [64]byte
	EncryptKey     [32]byte
	Init           [2]uint64
}

var errTransientAttach = errors.New("transient error, please retry")

const (
	maxRetries    = 5
	retryInterval = 250 * time.Millisecond

	// DefaultMaxLoopDevices bounds the /dev/loopN scan when the caller
	// doesn't have a more specific configured limit.
	DefaultMaxLoopDevices = 256
)

// AttachFromPath opens image at the given mode and attaches it to the
// first free (or creatable) /dev/loopN device, up to loop.MaxLoopDevices.
func (loop *Device) AttachFromPath(image string, mode int) error {
	if loop.MaxLoopDevices == 0 {
		loop.MaxLoopDevices = DefaultMaxLoopDevices
	}
	file, err := os.OpenFile(image, mode, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Stat(); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		lastErr = loop.attachLoop(file, mode)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, errTransientAttach) {
			return lastErr
		}
		sylog.Debugf("transient loop-attach error: %s", lastErr)
		time.Sleep(retryInterval)
	}
	return fmt.Errorf("failed to attach loop device: %w", lastErr)
}

func (loop *Device) attachLoop(image *os.File, mode int) error {
	var transientErr error

	for device := 0; device < loop.MaxLoopDevices; device++ {
		loopFd, err := openLoopDev(device, mode, true)
		if err != nil {
			continue
		}

		if _, _, esys := syscall.Syscall(syscall.SYS_IOCTL, uintptr(loopFd), CmdSetFd, image.Fd()); esys != 0 {
			syscall.Close(loopFd)
			continue
		}

		syscall.Syscall(syscall.SYS_FCNTL, uintptr(loopFd), syscall.F_SETFD, syscall.FD_CLOEXEC)

		info := &Info64{}
		if loop.Info != nil {
			*info = *loop.Info
		}
		info.Flags |= FlagsAutoClear
		if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(loopFd), CmdSetStatus64, uintptr(unsafe.Pointer(info))); errno != 0 {
			syscall.Syscall(syscall.SYS_IOCTL, uintptr(loopFd), CmdClrFd, 0)
			if errno == syscall.EAGAIN || errno == syscall.EBUSY {
				transientErr = errno
				continue
			}
			return fmt.Errorf("failed to set loop flags on /dev/loop%d: %s", device, errno)
		}

		loop.fd = new(int)
		*loop.fd = loopFd
		loop.Number = device
		return nil
	}

	if transientErr != nil {
		return fmt.Errorf("%w: %v", errTransientAttach, transientErr)
	}
	return fmt.Errorf("no loop devices available")
}

func openLoopDev(device, mode int, create bool) (int, error) {
	path := fmt.Sprintf("/dev/loop%d", device)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) && !create {
		return -1, err
	}
	if err != nil && !os.IsNotExist(err) {
		return -1, fmt.Errorf("could not stat %s: %w", path, err)
	}
	if os.IsNotExist(err) {
		dev := int((7 << 8) | (device & 0xff) | ((device & 0xfff00) << 12))
		if mkErr := syscall.Mknod(path, syscall.S_IFBLK|0o660, dev); mkErr != nil {
			if errno, ok := mkErr.(syscall.Errno); !ok || errno != syscall.EEXIST {
				return -1, fmt.Errorf("could not mknod %s: %w", path, mkErr)
			}
		}
	} else if fi.Mode()&os.ModeDevice == 0 {
		return -1, fmt.Errorf("%s is not a block device", path)
	}

	return syscall.Open(path, mode, 0o600)
}

// Path returns the /dev/loopN pathname of the attached device.
func (loop *Device) Path() string {
	return fmt.Sprintf("/dev/loop%d", loop.Number)
}

// Close detaches the loop device by closing its control fd, which clears
// it if FlagsAutoClear was set (it always is, here).
func (loop *Device) Close() error {
	if loop.fd == nil {
		return nil
	}
	err := syscall.Close(*loop.fd)
	loop.fd = nil
	return err
}
