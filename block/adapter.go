package block

import (
	"context"
	"sync"
	"syscall"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/lun"
	"github.com/ardnew/umsh/pkg"
	"github.com/ardnew/umsh/scsi"
	"github.com/ardnew/umsh/transport"
)

// DefaultMaxTransferSize is the chunking boundary for a single Read/Write
// (10/16) command, matching the typical 128 KiB figure filesystem drivers
// use. A var, not a const, so Configure can override it at startup from
// config.Load().
var DefaultMaxTransferSize = 128 * 1024

// Configure overrides DefaultMaxTransferSize, normally called once at
// process startup via config.Config.Apply. A non-positive size leaves the
// existing default in place.
func Configure(maxTransferSize int) {
	if maxTransferSize > 0 {
		DefaultMaxTransferSize = maxTransferSize
	}
}

// lbaSplit is the LBA at or above which 16-byte Read/Write variants are
// required, since the "10" variants only carry a 32-bit LBA.
const lbaSplit = 1 << 32

// Adapter is the Block Adapter: it presents one probed LUN as a flat
// block device to a filesystem driver. Every call acquires lock, the parent
// Drive's mutex, for its own duration — Adapter never holds the lock across
// two calls, so a plain sync.Mutex (rather than a recursive one) is
// sufficient here; any operation that itself needs to span several SCSI
// commands while holding the lock does so inside a single call.
type Adapter struct {
	Session transport.CommandSession
	LUN     *lun.LUN
	LUNIndex uint8

	MaxTransferSize int

	lock *sync.Mutex
}

// NewAdapter constructs a Block Adapter for a probed LUN, sharing the given
// mutex with its parent Drive (and any other Adapter on the same Drive).
func NewAdapter(session transport.CommandSession, l *lun.LUN, lunIndex uint8, lock *sync.Mutex) *Adapter {
	return &Adapter{
		Session:         session,
		LUN:             l,
		LUNIndex:        lunIndex,
		MaxTransferSize: DefaultMaxTransferSize,
		lock:            lock,
	}
}

// AdapterError is the error type every Adapter method returns: it wraps the
// underlying *pkg.Fault and caches its POSIX errno, so a filesystem driver
// above the Block Adapter boundary can read Errno() without importing pkg or
// knowing about Category at all.
type AdapterError struct {
	err   error
	errno syscall.Errno
}

func wrapErrno(err error) error {
	if err == nil {
		return nil
	}
	var f *pkg.Fault
	if errors.As(err, &f) {
		return &AdapterError{err: err, errno: f.Errno()}
	}
	return &AdapterError{err: err, errno: syscall.EIO}
}

func (e *AdapterError) Error() string        { return e.err.Error() }
func (e *AdapterError) Unwrap() error        { return e.err }
func (e *AdapterError) Errno() syscall.Errno { return e.errno }

// BlockSize returns the LUN's block length in bytes.
func (a *Adapter) BlockSize() uint32 { return a.LUN.BlockLength }

// BlockCount returns the LUN's block count.
func (a *Adapter) BlockCount() uint64 { return a.LUN.BlockCount }

// Writable reports whether the LUN currently accepts writes.
func (a *Adapter) Writable() bool { return a.LUN.Writable() }

// validateRange rejects an LBA range that runs past the LUN's reported
// block_count. forWrite selects the errno a caller sees at the Block Adapter
// boundary: a write past capacity is ENOSPC, a read past capacity is EINVAL.
func (a *Adapter) validateRange(lba uint64, count uint32, forWrite bool) error {
	if uint64(count) == 0 {
		return nil
	}
	if lba+uint64(count) > a.LUN.BlockCount {
		if forWrite {
			return pkg.NewFault(pkg.CategoryMedium, pkg.ErrNoSpace, "lba+count exceeds block_count")
		}
		return pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "lba+count exceeds block_count")
	}
	return nil
}

// Read reads count blocks starting at lba into out, which must be sized
// count*block_size. Chunks internally by MaxTransferSize.
func (a *Adapter) Read(ctx context.Context, lba uint64, count uint32, out []byte) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if err := a.validateRange(lba, count, false); err != nil {
		return wrapErrno(err)
	}
	if count == 0 {
		return nil
	}

	blockSize := a.LUN.BlockLength
	maxBlocks := uint32(a.MaxTransferSize) / blockSize
	if maxBlocks == 0 {
		maxBlocks = 1
	}

	off := uint64(0)
	remaining := count
	curLBA := lba
	for remaining > 0 {
		n := remaining
		if n > maxBlocks {
			n = maxBlocks
		}
		xferLen := uint32(n) * blockSize
		buf := out[off : off+uint64(xferLen)]

		var cdb []byte
		if curLBA+uint64(n) > lbaSplit {
			cdb = scsi.Read16(curLBA, n, false)
		} else {
			cdb = scsi.Read10(uint32(curLBA), uint16(n), false)
		}

		res, err := a.Session.ExecuteCommand(ctx, a.LUNIndex, cdb, true, xferLen, buf, transport.DefaultTimeouts(int(xferLen)))
		if err != nil {
			return wrapErrno(pkg.NewFault(pkg.CategoryTransport, err, "read transfer failed"))
		}
		if res.Status != transport.CSWStatusGood {
			return wrapErrno(pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState, "READ command failed"))
		}

		off += uint64(xferLen)
		curLBA += uint64(n)
		remaining -= n
	}
	return nil
}

// Write writes count blocks starting at lba from in, using the FUA bit when
// the LUN's write cache is enabled and the LUN reports FUA support, so data
// reaches the medium synchronously
// (the supplemented per-LUN WCE/FUA gating).
func (a *Adapter) Write(ctx context.Context, lba uint64, count uint32, in []byte) error {
	return a.write(ctx, lba, count, in, a.LUN.WriteCacheOn && a.LUN.FUASupported)
}

// WriteSync is Write with FUA forced on, for callers (e.g. sync()-adjacent
// filesystem metadata writes) that need a synchronous guarantee regardless
// of the cache-enable state the Prober recorded.
func (a *Adapter) WriteSync(ctx context.Context, lba uint64, count uint32, in []byte) error {
	return a.write(ctx, lba, count, in, true)
}

func (a *Adapter) write(ctx context.Context, lba uint64, count uint32, in []byte, fua bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if !a.LUN.Writable() {
		return wrapErrno(pkg.NewFault(pkg.CategoryMedium, pkg.ErrWriteProtected, "LUN is write-protected"))
	}
	if err := a.validateRange(lba, count, true); err != nil {
		return wrapErrno(err)
	}
	if count == 0 {
		return nil
	}

	blockSize := a.LUN.BlockLength
	maxBlocks := uint32(a.MaxTransferSize) / blockSize
	if maxBlocks == 0 {
		maxBlocks = 1
	}

	off := uint64(0)
	remaining := count
	curLBA := lba
	for remaining > 0 {
		n := remaining
		if n > maxBlocks {
			n = maxBlocks
		}
		xferLen := uint32(n) * blockSize
		buf := in[off : off+uint64(xferLen)]

		var cdb []byte
		if curLBA+uint64(n) > lbaSplit {
			cdb = scsi.Write16(curLBA, n, fua)
		} else {
			cdb = scsi.Write10(uint32(curLBA), uint16(n), fua)
		}

		res, err := a.Session.ExecuteCommand(ctx, a.LUNIndex, cdb, false, xferLen, buf, transport.DefaultTimeouts(int(xferLen)))
		if err != nil {
			return wrapErrno(pkg.NewFault(pkg.CategoryTransport, err, "write transfer failed"))
		}
		if res.Status != transport.CSWStatusGood {
			return wrapErrno(pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState, "WRITE command failed"))
		}

		off += uint64(xferLen)
		curLBA += uint64(n)
		remaining -= n
	}
	return nil
}

// Sync issues Synchronize Cache (10) for the whole LUN.
func (a *Adapter) Sync(ctx context.Context) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	res, err := a.Session.ExecuteCommand(ctx, a.LUNIndex, scsi.SynchronizeCache10(), false, 0, nil, transport.DefaultTimeouts(0))
	if err != nil {
		return wrapErrno(pkg.NewFault(pkg.CategoryTransport, err, "synchronize cache failed"))
	}
	if res.Status != transport.CSWStatusGood {
		return wrapErrno(pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState, "SYNCHRONIZE CACHE command failed"))
	}
	return nil
}
