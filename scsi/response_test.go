package scsi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInquiryDirectAccessDisk(t *testing.T) {
	data := make([]byte, InquiryStandardLength)
	data[0] = DeviceTypeDirectAccess // qualifier 0, type 0
	copy(data[8:16], []byte("VENDOR  "))
	copy(data[16:32], []byte("PRODUCT NAME    "))

	var inq Inquiry
	require.True(t, ParseInquiry(data, &inq))
	require.True(t, inq.IsDirectAccessBlockDevice())
	require.Equal(t, "VENDOR", TrimASCII(inq.Vendor[:]))
	require.Equal(t, "PRODUCT NAME", TrimASCII(inq.Product[:]))
}

func TestParseInquiryRejectsNonConnectedQualifier(t *testing.T) {
	data := make([]byte, InquiryStandardLength)
	data[0] = 0x01 << 5 // qualifier 1: not connected
	var inq Inquiry
	require.True(t, ParseInquiry(data, &inq))
	require.False(t, inq.IsDirectAccessBlockDevice())
}

func TestParseInquiryTooShort(t *testing.T) {
	var inq Inquiry
	require.False(t, ParseInquiry(make([]byte, 10), &inq))
}

func TestReadCapacity10TriggersRC16OnMaxed(t *testing.T) {
	data := make([]byte, ReadCapacity10Length)
	binary.BigEndian.PutUint32(data[0:4], 0xFFFFFFFF)
	binary.BigEndian.PutUint32(data[4:8], 512)

	var cap Capacity
	require.True(t, ParseReadCapacity10(data, &cap))
	require.True(t, cap.IsMaxed())
}

func TestReadCapacity10NormalDoesNotTriggerRC16(t *testing.T) {
	data := make([]byte, ReadCapacity10Length)
	binary.BigEndian.PutUint32(data[0:4], 0x00F00000)
	binary.BigEndian.PutUint32(data[4:8], 512)

	var cap Capacity
	require.True(t, ParseReadCapacity10(data, &cap))
	require.False(t, cap.IsMaxed())
	require.EqualValues(t, 0x00F00000, cap.LastLBA)
}

func TestParseSenseRecoverable(t *testing.T) {
	data := make([]byte, 18)
	data[0] = 0x70
	data[2] = SenseUnitAttention
	var s Sense
	require.True(t, ParseSense(data, &s))
	require.True(t, s.IsRecoverable())
	require.False(t, s.IsMediumNotPresent())
}

func TestParseSenseMediumNotPresent(t *testing.T) {
	data := make([]byte, 18)
	data[0] = 0x70
	data[2] = SenseNotReady
	data[12] = ASCMediumNotPresent
	var s Sense
	require.True(t, ParseSense(data, &s))
	require.True(t, s.IsMediumNotPresent())
	require.False(t, s.IsRecoverable())
}

func TestParseSenseRejectsDescriptorFormat(t *testing.T) {
	data := make([]byte, 18)
	data[0] = 0x72
	var s Sense
	require.False(t, ParseSense(data, &s))
}

func TestParseModeSense6CachingWCE(t *testing.T) {
	// header(4) + block descriptor(8) + caching page(12)
	data := make([]byte, 4+8+12)
	data[3] = 8 // block desc length
	page := data[12:]
	page[0] = ModePageCaching
	page[1] = 0x0A
	page[2] = 0x04 // WCE bit

	var ms ModeSenseCaching
	require.True(t, ParseModeSense6Caching(data, &ms))
	require.True(t, ms.WriteCacheEnabled)
	require.EqualValues(t, 8, ms.BlockDescLen)
}

func TestParseModeSense6CachingDPOFUA(t *testing.T) {
	data := make([]byte, 4+8+12)
	data[2] = 0x10 // DPOFUA bit in the mode parameter header
	data[3] = 8
	page := data[12:]
	page[0] = ModePageCaching
	page[1] = 0x0A

	var ms ModeSenseCaching
	require.True(t, ParseModeSense6Caching(data, &ms))
	require.True(t, ms.FUASupported)
	require.False(t, ms.WriteCacheEnabled)
}

func TestParseModeSense6CachingNoDPOFUA(t *testing.T) {
	data := make([]byte, 4+8+12)
	data[3] = 8
	page := data[12:]
	page[0] = ModePageCaching
	page[1] = 0x0A
	page[2] = 0x04

	var ms ModeSenseCaching
	require.True(t, ParseModeSense6Caching(data, &ms))
	require.False(t, ms.FUASupported)
	require.True(t, ms.WriteCacheEnabled)
}
