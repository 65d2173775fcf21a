package devtab

// MountFlags is an opaque, driver-level options bitmask passed through
// unchanged. The core never interprets
// individual bits; it only stores and returns whatever the filesystem
// driver layer has asked to be remembered.
type MountFlags uint32

// Well-known bits a FAT/NTFS/ext driver might consult. The core does not
// act on these itself.
const (
	MountFlagReadOnly MountFlags = 1 << iota
	MountFlagNoATime
	MountFlagSync
	MountFlagCaseInsensitive
)
