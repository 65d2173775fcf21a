package drive

import (
	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/lun"
)

// FSType tags what a Filesystem Adapter's boot-sector sniff found. The
// core never mounts anything itself; this is
// only what gets reported alongside the mount name.
type FSType int

// Recognised filesystem type tags.
const (
	FSTypeInvalid FSType = iota
	FSTypeUnsupported
	FSTypeFAT
	FSTypeNTFS
	FSTypeExt
)

// String names the tag for logging and the public device listing.
func (t FSType) String() string {
	switch t {
	case FSTypeFAT:
		return "fat"
	case FSTypeNTFS:
		return "ntfs"
	case FSTypeExt:
		return "ext"
	case FSTypeUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// FilesystemAdapter is opaque to the core beyond a handful of named fields: a
// type tag, a process-unique mount name, the LUN index it belongs to
// (non-owning upward reference, per the package doc), and an opaque
// driver-private context. supplemented feature: a LUN may carry more than
// one FilesystemAdapter (multiple partitions/slots), distinguished by
// FSSlot.
type FilesystemAdapter struct {
	FSType    FSType
	MountName string
	LUNIndex  uint8
	FSSlot    int
	Block     *block.Adapter
	Context   any
}

// LUNHandle pairs a probed LUN with the Filesystem Adapters mounted on it.
// It does not reference its parent Drive directly; callers that need the
// Drive look it up in the Registry by InterfaceID.
type LUNHandle struct {
	*lun.LUN
	Adapters []*FilesystemAdapter
}

// HasMountedFilesystem reports whether any adapter on this LUN reached a
// recognised, non-invalid filesystem type — the per-Drive invariant check
// that every Drive keeps registered has at least one LUN with a mountable
// filesystem.
func (h *LUNHandle) HasMountedFilesystem() bool {
	for _, a := range h.Adapters {
		if a.FSType != FSTypeInvalid && a.FSType != FSTypeUnsupported {
			return true
		}
	}
	return false
}
