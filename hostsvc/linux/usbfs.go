//go:build linux

package linux

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ctrlTransfer mirrors the kernel's struct usbdevfs_ctrltransfer.
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32
	data        uintptr
}

// bulkTransfer mirrors the kernel's struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32
	data     uintptr
}

// connectInfo mirrors the kernel's struct usbdevfs_connectinfo.
type connectInfo struct {
	devnum uint32
	slow   uint8
}

func openUSBFSNode(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func unixClose(fd int) error {
	return unix.Close(fd)
}

func ioctlRaw(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlRetval(fd int, req uintptr, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

func doControlTransfer(fd int, reqType, req uint8, value, index uint16, data []byte, timeoutMs uint32) (int, error) {
	ctrl := ctrlTransfer{
		requestType: reqType,
		request:     req,
		value:       value,
		index:       index,
		length:      uint16(len(data)),
		timeout:     timeoutMs,
	}
	if len(data) > 0 {
		ctrl.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlRetval(fd, ioctlControl, uintptr(unsafe.Pointer(&ctrl)))
}

func doBulkTransfer(fd int, endpoint uint8, data []byte, timeoutMs uint32) (int, error) {
	bulk := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeoutMs,
	}
	if len(data) > 0 {
		bulk.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlRetval(fd, ioctlBulk, uintptr(unsafe.Pointer(&bulk)))
}

func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	return ioctlRaw(fd, ioctlClaimInterface, uintptr(unsafe.Pointer(&n)))
}

func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	return ioctlRaw(fd, ioctlReleaseInterface, uintptr(unsafe.Pointer(&n)))
}

func resetEndpoint(fd int, endpoint uint8) error {
	ep := uint32(endpoint)
	return ioctlRaw(fd, ioctlResetEP, uintptr(unsafe.Pointer(&ep)))
}

func resetDevice(fd int) error {
	return ioctlRaw(fd, ioctlReset, 0)
}

func getConnectInfo(fd int) (connectInfo, error) {
	var info connectInfo
	err := ioctlRaw(fd, ioctlConnectInfo, uintptr(unsafe.Pointer(&info)))
	return info, err
}

func isStall(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && errno == unix.EPIPE
}

func isNoDevice(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && errno == unix.ENODEV
}
