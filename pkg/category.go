package pkg

import (
	"syscall"

	"github.com/pkg/errors"
)

// Category classifies a core failure per the error-handling design:
// Transport, Protocol, Medium, Programming, or Resource.
type Category int

// Failure categories.
const (
	CategoryTransport Category = iota
	CategoryProtocol
	CategoryMedium
	CategoryProgramming
	CategoryResource
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryProtocol:
		return "protocol"
	case CategoryMedium:
		return "medium"
	case CategoryProgramming:
		return "programming"
	case CategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Fault wraps an error with the category the recovery policy cares about.
// Constructed via [NewFault]; satisfies Unwrap so errors.Is/As still see
// through to the underlying sentinel (ErrStall, ErrNoDevice, ...).
type Fault struct {
	Category Category
	Err      error
}

// NewFault wraps err with cat, attaching msg as context via pkg/errors so
// the wrap chain survives errors.Cause() at the SCSI/BOT boundary.
func NewFault(cat Category, err error, msg string) *Fault {
	return &Fault{Category: cat, Err: errors.WithMessage(err, msg)}
}

func (f *Fault) Error() string { return f.Err.Error() }
func (f *Fault) Unwrap() error { return f.Err }

// Errno maps a Fault's category (and a handful of well-known sentinels) onto
// the POSIX error codes the Block Adapter boundary returns to filesystem
// drivers: EIO, ENOSPC, ENODEV, EINVAL, EROFS, ENOMEM.
func (f *Fault) Errno() syscall.Errno {
	switch {
	case errors.Is(f.Err, ErrNoDevice):
		return syscall.ENODEV
	case errors.Is(f.Err, ErrWriteProtected):
		return syscall.EROFS
	case errors.Is(f.Err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(f.Err, ErrInvalidParameter), errors.Is(f.Err, ErrInvalidRequest):
		return syscall.EINVAL
	case errors.Is(f.Err, ErrNoMemory):
		return syscall.ENOMEM
	}
	switch f.Category {
	case CategoryMedium:
		return syscall.EIO
	case CategoryProgramming:
		return syscall.EINVAL
	case CategoryResource:
		return syscall.ENOMEM
	default:
		return syscall.EIO
	}
}

// Is reports whether target is the POSIX errno f.Errno() maps to. This gives
// errors.Is(err, syscall.EROFS)-style checks a genuine path to Errno() without
// the caller needing to type-assert *Fault first.
func (f *Fault) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	if !ok {
		return false
	}
	return f.Errno() == errno
}
