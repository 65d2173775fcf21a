package devtab

import (
	"bytes"
	"context"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/drive"
)

const (
	bootSignatureOffset = 510
	bootSignatureLo     = 0x55
	bootSignatureHi     = 0xAA

	fat32FSTypeOffset = 82 // "FAT32   " lives here in the FAT32 extended BPB
	fatFSTypeOffset   = 54 // "FATxx   " lives here in the FAT12/16 BPB

	ntfsOEMOffset = 3 // "NTFS    " OEM ID

	ext4SuperblockOffset = 1024
	ext4MagicOffset      = ext4SuperblockOffset + 56
	ext4MagicLo          = 0x53
	ext4MagicHi          = 0xEF
)

// Sniff reads the boot sector (and, for ext, the first superblock) off a
// Block Adapter and reports the filesystem type tag it finds, without
// mounting or interpreting anything beyond that tag.
func Sniff(ctx context.Context, a *block.Adapter) drive.FSType {
	if a.BlockSize() == 0 || a.BlockCount() == 0 {
		return drive.FSTypeInvalid
	}

	boot := make([]byte, a.BlockSize())
	if err := a.Read(ctx, 0, 1, boot); err != nil {
		return drive.FSTypeInvalid
	}

	if t, ok := sniffExt(ctx, a); ok {
		return t
	}

	if len(boot) <= bootSignatureOffset+1 {
		return drive.FSTypeUnsupported
	}
	if boot[bootSignatureOffset] != bootSignatureLo || boot[bootSignatureOffset+1] != bootSignatureHi {
		return drive.FSTypeUnsupported
	}

	if bytes.HasPrefix(boot[ntfsOEMOffset:], []byte("NTFS    ")) {
		return drive.FSTypeNTFS
	}
	if len(boot) > fat32FSTypeOffset+8 && bytes.HasPrefix(boot[fat32FSTypeOffset:], []byte("FAT32")) {
		return drive.FSTypeFAT
	}
	if len(boot) > fatFSTypeOffset+8 && bytes.HasPrefix(boot[fatFSTypeOffset:], []byte("FAT")) {
		return drive.FSTypeFAT
	}

	return drive.FSTypeUnsupported
}

// sniffExt reads the sector(s) spanning the ext2/3/4 primary superblock
// (always at byte offset 1024 regardless of block size) and checks its
// magic number, grounded on the s_magic field layout of a standard ext
// superblock.
func sniffExt(ctx context.Context, a *block.Adapter) (drive.FSType, bool) {
	bs := a.BlockSize()
	startLBA := uint64(ext4MagicOffset) / uint64(bs)
	span := uint32(2) // the magic never straddles more than two blocks for any realistic block size
	buf := make([]byte, uint64(bs)*uint64(span))
	if err := a.Read(ctx, startLBA, span, buf); err != nil {
		return drive.FSTypeInvalid, false
	}
	off := int(uint64(ext4MagicOffset) % uint64(bs))
	if off+2 > len(buf) {
		return drive.FSTypeInvalid, false
	}
	if buf[off] == ext4MagicLo && buf[off+1] == ext4MagicHi {
		return drive.FSTypeExt, true
	}
	return drive.FSTypeInvalid, false
}
