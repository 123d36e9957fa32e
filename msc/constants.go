package msc

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes served by the device.
const (
	SCSITestUnitReady        = 0x00 // Test if unit is ready
	SCSIRequestSense         = 0x03 // Request sense data
	SCSIInquiry              = 0x12 // Get device information
	SCSIModeSense6           = 0x1A // Get mode parameters (6-byte)
	SCSIStartStopUnit        = 0x1B // Start/stop unit
	SCSIPreventAllowRemoval  = 0x1E // Prevent/allow medium removal
	SCSIReadFormatCapacities = 0x23 // Read format capacities
	SCSIReadCapacity10       = 0x25 // Read capacity (10-byte)
	SCSIRead10               = 0x28 // Read blocks (10-byte)
	SCSIWrite10              = 0x2A // Write blocks (10-byte)
	SCSIVerify10             = 0x2F // Verify blocks (10-byte)
	SCSISynchronizeCache10   = 0x35 // Synchronize cache (10-byte)
	SCSIServiceActionIn16    = 0x9E // Service action in (16-byte)
)

// Service action codes for SCSI_SERVICE_ACTION_IN_16.
const (
	ServiceActionReadCapacity16 = 0x10 // Read capacity (16-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseDataProtect    = 0x07 // Data protect
	SenseAbortedCommand = 0x0B // Aborted command
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo    = 0x00 // No additional sense information
	ASCWriteError          = 0x0C // Write error
	ASCUnrecoveredReadErr  = 0x11 // Unrecovered read error
	ASCInvalidCommand      = 0x20 // Invalid command operation code
	ASCLBAOutOfRange       = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB   = 0x24 // Invalid field in CDB
	ASCWriteProtected      = 0x27 // Write protected
	ASCMediumNotPresent    = 0x3A // Medium not present
	ASCInternalTargetFault = 0x44 // Internal target failure
)

// Peripheral device type for a direct access block device.
const DeviceTypeDisk = 0x00

// INQUIRY response constants.
const (
	InquiryStandardSize      = 36   // Standard INQUIRY data length
	InquiryVersionSPC4       = 0x06 // SPC-4 version
	InquiryResponseFormatSPC = 0x02 // SPC-compliant response format
	InquiryRMB               = 0x80 // Removable media bit
)

// Fixed-format sense data.
const (
	senseSize         = 18
	senseResponseCode = 0x70 // Current errors, fixed format
)

// MaxPacketSize is the largest bulk packet the device accepts.
const MaxPacketSize = 512

// MaxTransferSize bounds each storage request issued for READ/WRITE (10).
const MaxTransferSize = 65536
