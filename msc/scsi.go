package msc

import (
	"encoding/binary"
	"strings"
)

// InquiryResponse is standard INQUIRY data.
type InquiryResponse struct {
	DeviceType uint8    // Peripheral device type
	RMB        uint8    // Removable media bit (bit 7)
	Version    uint8    // SCSI version
	VendorID   [8]byte  // Vendor identification (ASCII)
	ProductID  [16]byte // Product identification (ASCII)
	ProductRev [4]byte  // Product revision (ASCII)
}

// NewInquiryResponse creates a standard INQUIRY response for a removable
// disk. Strings are truncated or space padded to their field widths.
func NewInquiryResponse(vendor, product, revision string) *InquiryResponse {
	resp := &InquiryResponse{
		DeviceType: DeviceTypeDisk,
		RMB:        InquiryRMB,
		Version:    InquiryVersionSPC4,
	}
	copy(resp.VendorID[:], padString(vendor, 8))
	copy(resp.ProductID[:], padString(product, 16))
	copy(resp.ProductRev[:], padString(revision, 4))
	return resp
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = InquiryResponseFormatSPC
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// ParseInquiry decodes standard INQUIRY data.
func ParseInquiry(data []byte, out *InquiryResponse) bool {
	if len(data) < InquiryStandardSize {
		return false
	}
	out.DeviceType = data[0] & 0x1F
	out.RMB = data[1] & InquiryRMB
	out.Version = data[2]
	copy(out.VendorID[:], data[8:16])
	copy(out.ProductID[:], data[16:32])
	copy(out.ProductRev[:], data[32:36])
	return true
}

// Vendor returns the vendor string without padding.
func (r *InquiryResponse) Vendor() string { return trimField(r.VendorID[:]) }

// Product returns the product string without padding.
func (r *InquiryResponse) Product() string { return trimField(r.ProductID[:]) }

// Revision returns the revision string without padding.
func (r *InquiryResponse) Revision() string { return trimField(r.ProductRev[:]) }

// ReadCapacity10Response represents READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}

	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)

	return 8
}

// ReadCapacity16Response represents READ CAPACITY (16) response.
type ReadCapacity16Response struct {
	LastLBA     uint64 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity16Response) MarshalTo(buf []byte) int {
	if len(buf) < 32 {
		return 0
	}

	clear(buf[:32])
	binary.BigEndian.PutUint64(buf[0:8], r.LastLBA)
	binary.BigEndian.PutUint32(buf[8:12], r.BlockLength)

	return 32
}

// Sense is the key, code and qualifier reported by REQUEST SENSE.
type Sense struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// MarshalTo writes fixed-format sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s Sense) MarshalTo(buf []byte) int {
	if len(buf) < senseSize {
		return 0
	}

	clear(buf[:senseSize])
	buf[0] = senseResponseCode
	buf[2] = s.Key & 0x0F
	buf[7] = senseSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ

	return senseSize
}

// ParseSense decodes fixed-format sense data.
func ParseSense(data []byte) (Sense, bool) {
	if len(data) < 14 || data[0]&0x7F != senseResponseCode {
		return Sense{}, false
	}
	return Sense{Key: data[2] & 0x0F, ASC: data[12], ASCQ: data[13]}, true
}

// modeSense6 writes a MODE SENSE (6) header with no pages.
func modeSense6(buf []byte, writeProtect bool) int {
	if len(buf) < 4 {
		return 0
	}
	buf[0] = 3 // Mode data length, excluding this byte
	buf[1] = 0
	buf[2] = 0
	if writeProtect {
		buf[2] = 0x80
	}
	buf[3] = 0
	return 4
}

// formatCapacities writes a READ FORMAT CAPACITIES list with one
// formatted-media descriptor.
func formatCapacities(buf []byte, blocks, blockSize uint32) int {
	if len(buf) < 12 {
		return 0
	}
	clear(buf[:4])
	buf[3] = 8 // One descriptor
	binary.BigEndian.PutUint32(buf[4:8], blocks)
	buf[8] = 0x02 // Formatted media
	buf[9] = uint8(blockSize >> 16)
	buf[10] = uint8(blockSize >> 8)
	buf[11] = uint8(blockSize)
	return 12
}

// padString pads or truncates a string to the specified length.
func padString(s string, length int) []byte {
	result := make([]byte, length)
	for i := range result {
		if i < len(s) {
			result[i] = s[i]
		} else {
			result[i] = ' '
		}
	}
	return result
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
