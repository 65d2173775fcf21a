package scsi

// Operation codes for the SCSI command subset a Mass Storage host issues.
const (
	OpTestUnitReady        = 0x00
	OpRequestSense         = 0x03
	OpInquiry              = 0x12
	OpModeSense6           = 0x1A
	OpStartStopUnit        = 0x1B
	OpPreventAllowRemoval  = 0x1E
	OpReadFormatCapacities = 0x23
	OpReadCapacity10       = 0x25
	OpRead10               = 0x28
	OpWrite10              = 0x2A
	OpVerify10             = 0x2F
	OpSynchronizeCache10   = 0x35
	OpModeSense10          = 0x5A
	OpRead16               = 0x88
	OpWrite16              = 0x8A
	OpServiceActionIn16    = 0x9E
	OpReportLUNs           = 0xA0
)

// Service action codes carried in the low 5 bits of byte 1 of a
// SERVICE ACTION IN (16) CDB.
const (
	ServiceActionReadCapacity16 = 0x10
)

// Sense keys (SPC response byte 2, low nibble).
const (
	SenseNoSense        = 0x00
	SenseRecoveredError = 0x01
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseUnitAttention  = 0x06
	SenseDataProtect    = 0x07
	SenseBlankCheck     = 0x08
	SenseAbortedCommand = 0x0B
)

// Additional Sense Codes (ASC) used by the probing sequence and recovery
// policy. Only the subset this host actually branches on is named; anything
// else is surfaced to the caller verbatim.
const (
	ASCNoAdditionalInfo      = 0x00
	ASCLogicalUnitNotReady   = 0x04
	ASCInvalidCommand        = 0x20
	ASCLBAOutOfRange         = 0x21
	ASCInvalidFieldInCDB     = 0x24
	ASCWriteProtected        = 0x27
	ASCNotReadyToReadyChange = 0x28
	ASCMediumNotPresent      = 0x3A
)

// Peripheral device type (Inquiry byte 0, low 5 bits). A Drive's LUN is only
// considered a mountable direct-access block device for these three: a
// standard disk, an optical-memory device (0x07, used by some
// flash-translation-layer media), and the RBC "simplified direct access"
// type (0x0E) many USB flash controllers report.
const (
	DeviceTypeDirectAccess = 0x00
	DeviceTypeOptical      = 0x07
	DeviceTypeRBC          = 0x0E
)

// Peripheral qualifier values (Inquiry byte 0, high 3 bits).
const (
	PeripheralQualifierConnected = 0x00
)

// Mode page codes.
const (
	ModePageCaching  = 0x08
	ModePageAllPages = 0x3F
)

// Fixed sizes for the response structures this package parses.
const (
	InquiryStandardLength  = 36
	RequestSenseLength     = 18
	ReadCapacity10Length   = 8
	ReadCapacity16Length   = 32
	ModeSenseCachingLength = 20 // header (4/8) + page 0x08 (up to 12/20 bytes)
)
