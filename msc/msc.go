package msc

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/ardnew/flashdisk/pkg"
)

// Pipe is one end of a pair of bulk endpoints.
//
// Send transmits data as one transfer, split into packets of at most
// MaxPacketSize bytes by the transport. Receive returns the next packet.
type Pipe interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context, buf []byte) (int, error)
}

// MSC serves SCSI commands over Bulk-Only Transport from a Storage.
// Commands are handled one at a time, so the storage sees serialized
// requests.
type MSC struct {
	pipe    Pipe
	storage Storage
	inquiry InquiryResponse

	// Current command state
	currentCBW CommandBlockWrapper

	// Sense data (for REQUEST SENSE)
	sense Sense

	// Buffers
	cbwBuf  [MaxPacketSize]byte
	cswBuf  [CSWSize]byte
	dataBuf [MaxTransferSize]byte
}

// New creates a mass-storage device over pipe backed by storage.
func New(pipe Pipe, storage Storage) *MSC {
	vendor, product, revision := storage.Inquiry()
	return &MSC{
		pipe:    pipe,
		storage: storage,
		inquiry: *NewInquiryResponse(vendor, product, revision),
	}
}

// Reset clears pending sense data, as for a Bulk-Only Mass Storage Reset.
func (m *MSC) Reset() {
	pkg.LogDebug(pkg.ComponentMSC, "reset")
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
}

// Run reads CBWs, processes SCSI commands and sends CSWs until ctx is
// done or the pipe fails.
func (m *MSC) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentMSC, "serving",
		"vendor", m.inquiry.Vendor(),
		"product", m.inquiry.Product())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.processCBW(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, pkg.ErrInvalidRequest) {
				return err
			}
			pkg.LogWarn(pkg.ComponentMSC, "CBW processing error",
				"error", err)
		}
	}
}

// processCBW reads and processes one Command Block Wrapper.
func (m *MSC) processCBW(ctx context.Context) error {
	n, err := m.pipe.Receive(ctx, m.cbwBuf[:])
	if err != nil {
		return err
	}

	if n != CBWSize {
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW size",
			"expected", CBWSize,
			"got", n)
		return pkg.ErrInvalidRequest
	}

	if !ParseCBW(m.cbwBuf[:n], &m.currentCBW) {
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW signature")
		return pkg.ErrInvalidRequest
	}

	pkg.LogDebug(pkg.ComponentMSC, "CBW received",
		"tag", m.currentCBW.Tag,
		"dataLen", m.currentCBW.DataTransferLength,
		"flags", m.currentCBW.Flags,
		"lun", m.currentCBW.LUN,
		"opcode", m.currentCBW.CB[0])

	status, residue := m.handleSCSICommand(ctx, &m.currentCBW)

	return m.sendCSW(ctx, m.currentCBW.Tag, status, residue)
}

// sendCSW sends a Command Status Wrapper.
func (m *MSC) sendCSW(ctx context.Context, tag uint32, status uint8, residue uint32) error {
	csw := NewCSW(tag, residue, status)
	n := csw.MarshalTo(m.cswBuf[:])

	if err := m.pipe.Send(ctx, m.cswBuf[:n]); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentMSC, "CSW sent",
		"tag", tag,
		"residue", residue,
		"status", status)

	return nil
}

// setSense sets sense data for the next REQUEST SENSE command.
func (m *MSC) setSense(key, asc, ascq uint8) {
	m.sense = Sense{Key: key, ASC: asc, ASCQ: ascq}
}

// setSenseFor records the sense data matching a storage error.
func (m *MSC) setSenseFor(err error) {
	switch {
	case errors.Is(err, pkg.ErrEraseFailed), errors.Is(err, pkg.ErrProgramFailed),
		errors.Is(err, pkg.ErrShortProgram), errors.Is(err, pkg.ErrNotErased):
		m.setSense(SenseMediumError, ASCWriteError, 0)
	case errors.Is(err, pkg.ErrInvalidLBA), errors.Is(err, pkg.ErrOutOfRange):
		m.setSense(SenseIllegalRequest, ASCLBAOutOfRange, 0)
	case errors.Is(err, pkg.ErrInvalidOffset), errors.Is(err, pkg.ErrZeroLength),
		errors.Is(err, pkg.ErrInvalidParameter):
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
	case errors.Is(err, pkg.ErrReadFailed):
		m.setSense(SenseMediumError, ASCUnrecoveredReadErr, 0)
	default:
		m.setSense(SenseHardwareError, ASCInternalTargetFault, 0)
	}
}

// parseU16BE parses a big-endian uint16 from data at offset.
func parseU16BE(data []byte, offset int) uint16 {
	if offset+2 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint16(data[offset:])
}

// parseU32BE parses a big-endian uint32 from data at offset.
func parseU32BE(data []byte, offset int) uint32 {
	if offset+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[offset:])
}
