package scsi

import "encoding/binary"

// CDB is a raw SCSI Command Descriptor Block. Length is always 6, 10, 12, or
// 16 bytes for the command subset this package builds; callers embed it into
// a BOT CommandBlockWrapper or a UASP Command IU.
type CDB []byte

// TestUnitReady builds the 6-byte TEST UNIT READY CDB.
func TestUnitReady() CDB {
	return make(CDB, 6)
}

// RequestSense builds the 6-byte REQUEST SENSE CDB requesting allocLength
// bytes of sense data (18 is the conventional fixed-format length).
func RequestSense(allocLength uint8) CDB {
	cdb := make(CDB, 6)
	cdb[0] = OpRequestSense
	cdb[4] = allocLength
	return cdb
}

// InquiryCDB builds the 6-byte standard INQUIRY CDB (EVPD=0).
func InquiryCDB(allocLength uint8) CDB {
	cdb := make(CDB, 6)
	cdb[0] = OpInquiry
	cdb[4] = allocLength
	return cdb
}

// InquiryEVPD builds a 6-byte vital product data INQUIRY CDB for the given
// page code (e.g. 0x80 Unit Serial Number).
func InquiryEVPD(page byte, allocLength uint8) CDB {
	cdb := make(CDB, 6)
	cdb[0] = OpInquiry
	cdb[1] = 0x01 // EVPD bit
	cdb[2] = page
	cdb[4] = allocLength
	return cdb
}

// ReadCapacity10 builds the 10-byte READ CAPACITY (10) CDB.
func ReadCapacity10() CDB {
	cdb := make(CDB, 10)
	cdb[0] = OpReadCapacity10
	return cdb
}

// ReadCapacity16 builds the 16-byte SERVICE ACTION IN CDB for READ CAPACITY
// (16), with allocLength covering the full 32-byte parameter data.
func ReadCapacity16() CDB {
	cdb := make(CDB, 16)
	cdb[0] = OpServiceActionIn16
	cdb[1] = ServiceActionReadCapacity16
	binary.BigEndian.PutUint32(cdb[10:14], ReadCapacity16Length)
	return cdb
}

// ModeSense6 builds the 6-byte MODE SENSE (6) CDB for the given page code.
// dbd disables the block descriptor in the response when set.
func ModeSense6(page byte, dbd bool, allocLength uint8) CDB {
	cdb := make(CDB, 6)
	cdb[0] = OpModeSense6
	if dbd {
		cdb[1] = 0x08
	}
	cdb[2] = page
	cdb[4] = allocLength
	return cdb
}

// PreventAllowRemoval builds the 6-byte PREVENT ALLOW MEDIUM REMOVAL CDB.
func PreventAllowRemoval(prevent bool) CDB {
	cdb := make(CDB, 6)
	cdb[0] = OpPreventAllowRemoval
	if prevent {
		cdb[4] = 0x01
	}
	return cdb
}

// StartStopUnit builds the 6-byte START STOP UNIT CDB. loej requests the
// medium be loaded/ejected; start selects start vs. stop.
func StartStopUnit(start, loej bool) CDB {
	cdb := make(CDB, 6)
	cdb[0] = OpStartStopUnit
	var b byte
	if start {
		b |= 0x01
	}
	if loej {
		b |= 0x02
	}
	cdb[4] = b
	return cdb
}

// ReadFormatCapacities builds the 10-byte READ FORMAT CAPACITIES CDB.
func ReadFormatCapacities(allocLength uint16) CDB {
	cdb := make(CDB, 10)
	cdb[0] = OpReadFormatCapacities
	binary.BigEndian.PutUint16(cdb[7:9], allocLength)
	return cdb
}

// SynchronizeCache10 builds the 10-byte SYNCHRONIZE CACHE (10) CDB covering
// the whole device (numBlocks 0 means "to the end of the medium").
func SynchronizeCache10() CDB {
	cdb := make(CDB, 10)
	cdb[0] = OpSynchronizeCache10
	return cdb
}

// Read10 builds the 10-byte READ (10) CDB. fua sets the Force Unit Access bit.
func Read10(lba uint32, blocks uint16, fua bool) CDB {
	cdb := make(CDB, 10)
	cdb[0] = OpRead10
	if fua {
		cdb[1] = 0x08
	}
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

// Write10 builds the 10-byte WRITE (10) CDB. fua sets the Force Unit Access bit.
func Write10(lba uint32, blocks uint16, fua bool) CDB {
	cdb := make(CDB, 10)
	cdb[0] = OpWrite10
	if fua {
		cdb[1] = 0x08
	}
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

// Read16 builds the 16-byte READ (16) CDB for LBAs >= 2^32.
func Read16(lba uint64, blocks uint32, fua bool) CDB {
	cdb := make(CDB, 16)
	cdb[0] = OpRead16
	if fua {
		cdb[1] = 0x08
	}
	binary.BigEndian.PutUint64(cdb[2:10], lba)
	binary.BigEndian.PutUint32(cdb[10:14], blocks)
	return cdb
}

// Write16 builds the 16-byte WRITE (16) CDB for LBAs >= 2^32.
func Write16(lba uint64, blocks uint32, fua bool) CDB {
	cdb := make(CDB, 16)
	cdb[0] = OpWrite16
	if fua {
		cdb[1] = 0x08
	}
	binary.BigEndian.PutUint64(cdb[2:10], lba)
	binary.BigEndian.PutUint32(cdb[10:14], blocks)
	return cdb
}

// ReportLUNs builds the 12-byte REPORT LUNS CDB, used by UASP devices
// instead of the BOT class-specific Get-Max-LUN control request.
func ReportLUNs(allocLength uint32) CDB {
	cdb := make(CDB, 12)
	cdb[0] = OpReportLUNs
	binary.BigEndian.PutUint32(cdb[6:10], allocLength)
	return cdb
}
