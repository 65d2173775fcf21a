package pkg

import "errors"

// USB transport and SCSI/Block Adapter error sentinels. Each is wrapped into
// a *Fault with a Category at the point of failure; Fault.Errno maps a
// handful of these (plus the Category as a fallback) onto POSIX errno at the
// Block Adapter boundary.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrNoMemory indicates insufficient memory.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrWriteProtected indicates a write was attempted against a
	// write-protected LUN; Fault.Errno maps this to EROFS.
	ErrWriteProtected = errors.New("LUN is write-protected")

	// ErrNoSpace indicates an LBA range that runs past the LUN's reported
	// block_count; Fault.Errno maps this to ENOSPC.
	ErrNoSpace = errors.New("lba range exceeds LUN capacity")
)
