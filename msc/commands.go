package msc

import (
	"context"

	"github.com/ardnew/flashdisk/pkg"
)

// handleSCSICommand processes a SCSI command from CBW.
// Returns command status and data residue.
func (m *MSC) handleSCSICommand(ctx context.Context, cbw *CommandBlockWrapper) (status uint8, residue uint32) {
	opcode := cbw.CB[0]

	if cbw.LUN != 0 {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return m.fail(ctx, cbw, 0)
	}

	switch opcode {
	case SCSITestUnitReady:
		m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return CSWStatusGood, cbw.DataTransferLength

	case SCSIRequestSense:
		return m.handleRequestSense(ctx, cbw)

	case SCSIInquiry:
		return m.handleInquiry(ctx, cbw)

	case SCSIReadCapacity10:
		return m.handleReadCapacity10(ctx, cbw)

	case SCSIRead10:
		return m.handleRead10(ctx, cbw)

	case SCSIWrite10:
		return m.handleWrite10(ctx, cbw)

	case SCSIModeSense6:
		n := modeSense6(m.dataBuf[:], false)
		return m.respond(ctx, cbw, m.dataBuf[:n], int(cbw.CB[4]))

	case SCSIPreventAllowRemoval, SCSIStartStopUnit, SCSIVerify10:
		pkg.LogDebug(pkg.ComponentMSC, "acknowledged",
			"opcode", opcode,
			"param", cbw.CB[4])
		m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return CSWStatusGood, cbw.DataTransferLength

	case SCSISynchronizeCache10:
		return m.handleSynchronizeCache10(ctx, cbw)

	case SCSIReadFormatCapacities:
		blocks, size := m.storage.Capacity()
		n := formatCapacities(m.dataBuf[:], blocks, size)
		return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU16BE(cbw.CB[:], 7)))

	case SCSIServiceActionIn16:
		if cbw.CB[1]&0x1F == ServiceActionReadCapacity16 {
			return m.handleReadCapacity16(ctx, cbw)
		}
		fallthrough

	default:
		pkg.LogWarn(pkg.ComponentMSC, "unsupported SCSI command",
			"opcode", opcode)
		m.setSense(SenseIllegalRequest, ASCInvalidCommand, 0)
		return m.fail(ctx, cbw, 0)
	}
}

// respond sends up to allocLength bytes of data in the data-in phase.
func (m *MSC) respond(ctx context.Context, cbw *CommandBlockWrapper, data []byte, allocLength int) (uint8, uint32) {
	n := len(data)
	if allocLength < n {
		n = allocLength
	}
	if uint32(n) > cbw.DataTransferLength {
		n = int(cbw.DataTransferLength)
	}
	if n == 0 {
		return CSWStatusGood, cbw.DataTransferLength
	}

	if err := m.pipe.Send(ctx, data[:n]); err != nil {
		m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}

	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, residue(cbw.DataTransferLength, uint32(n))
}

// fail ends a command whose data phase was not completed. Pending
// data-out bytes are consumed and discarded so the next CBW stays aligned.
func (m *MSC) fail(ctx context.Context, cbw *CommandBlockWrapper, transferred uint32) (uint8, uint32) {
	if !cbw.IsDataIn() {
		m.discard(ctx, residue(cbw.DataTransferLength, transferred))
	}
	return CSWStatusFailed, residue(cbw.DataTransferLength, transferred)
}

// discard receives and drops n bytes from the host.
func (m *MSC) discard(ctx context.Context, n uint32) {
	for n > 0 {
		chunk := min(n, uint32(len(m.dataBuf)))
		got, err := m.receiveData(ctx, m.dataBuf[:chunk])
		if err != nil || got == 0 {
			return
		}
		n -= uint32(got)
	}
}

// handleRequestSense processes REQUEST SENSE command.
func (m *MSC) handleRequestSense(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	allocLength := int(cbw.CB[4])
	if allocLength == 0 {
		allocLength = senseSize
	}

	var buf [senseSize]byte
	n := m.sense.MarshalTo(buf[:])
	return m.respond(ctx, cbw, buf[:n], allocLength)
}

// handleInquiry processes INQUIRY command.
func (m *MSC) handleInquiry(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if cbw.CB[1]&0x01 != 0 {
		// Vital product data pages are not provided.
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return m.fail(ctx, cbw, 0)
	}

	n := m.inquiry.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU16BE(cbw.CB[:], 3)))
}

// handleReadCapacity10 processes READ CAPACITY (10) command.
func (m *MSC) handleReadCapacity10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	blocks, size := m.storage.Capacity()
	if blocks == 0 {
		m.setSense(SenseNotReady, ASCMediumNotPresent, 0)
		return m.fail(ctx, cbw, 0)
	}

	resp := ReadCapacity10Response{
		LastLBA:     blocks - 1,
		BlockLength: size,
	}
	n := resp.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], n)
}

// handleReadCapacity16 processes READ CAPACITY (16) command.
func (m *MSC) handleReadCapacity16(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	blocks, size := m.storage.Capacity()
	if blocks == 0 {
		m.setSense(SenseNotReady, ASCMediumNotPresent, 0)
		return m.fail(ctx, cbw, 0)
	}

	resp := ReadCapacity16Response{
		LastLBA:     uint64(blocks) - 1,
		BlockLength: size,
	}
	n := resp.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU32BE(cbw.CB[:], 10)))
}

// transfer validates a READ/WRITE (10) CDB and returns its block range.
func (m *MSC) transfer(cbw *CommandBlockWrapper) (lba, blocks, blockSize uint32, ok bool) {
	lba = parseU32BE(cbw.CB[:], 2)
	blocks = uint32(parseU16BE(cbw.CB[:], 7))

	count, size := m.storage.Capacity()
	if uint64(lba)+uint64(blocks) > uint64(count) {
		m.setSense(SenseIllegalRequest, ASCLBAOutOfRange, 0)
		return 0, 0, 0, false
	}
	if size > MaxTransferSize || uint64(blocks)*uint64(size) > uint64(cbw.DataTransferLength) {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, 0, 0, false
	}
	return lba, blocks, size, true
}

// handleRead10 processes READ (10) command in chunks of at most
// MaxTransferSize bytes.
func (m *MSC) handleRead10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	lba, blocks, blockSize, ok := m.transfer(cbw)
	if !ok {
		return m.fail(ctx, cbw, 0)
	}

	pkg.LogDebug(pkg.ComponentMSC, "READ(10)",
		"lba", lba,
		"blocks", blocks)

	total := blocks * blockSize
	perChunk := chunkBlocks(blockSize)
	var sent uint32
	for sent < total {
		n := min(total-sent, perChunk*blockSize)
		got, err := m.storage.Read(lba+sent/blockSize, 0, m.dataBuf[:n])
		if got > 0 {
			if serr := m.pipe.Send(ctx, m.dataBuf[:got]); serr != nil {
				m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
				return CSWStatusFailed, residue(cbw.DataTransferLength, sent)
			}
			sent += uint32(got)
		}
		if err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "read error",
				"lba", lba,
				"sent", sent,
				"error", err)
			m.setSenseFor(err)
			return CSWStatusFailed, residue(cbw.DataTransferLength, sent)
		}
	}

	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, residue(cbw.DataTransferLength, sent)
}

// handleWrite10 processes WRITE (10) command. Each chunk is received and
// passed to storage as a single write. The residue counts only bytes the
// storage committed.
func (m *MSC) handleWrite10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	lba, blocks, blockSize, ok := m.transfer(cbw)
	if !ok {
		return m.fail(ctx, cbw, 0)
	}

	pkg.LogDebug(pkg.ComponentMSC, "WRITE(10)",
		"lba", lba,
		"blocks", blocks)

	total := blocks * blockSize
	perChunk := chunkBlocks(blockSize)
	var received, committed uint32
	for received < total {
		n := min(total-received, perChunk*blockSize)
		got, err := m.receiveData(ctx, m.dataBuf[:n])
		if err != nil {
			m.setSense(SenseAbortedCommand, ASCNoAdditionalInfo, 0)
			return CSWStatusFailed, residue(cbw.DataTransferLength, committed)
		}

		w, err := m.storage.Write(lba+received/blockSize, 0, m.dataBuf[:got])
		received += uint32(got)
		committed += uint32(max(w, 0))
		if err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "write error",
				"lba", lba,
				"committed", committed,
				"error", err)
			m.setSenseFor(err)
			m.discard(ctx, residue(cbw.DataTransferLength, received))
			return CSWStatusFailed, residue(cbw.DataTransferLength, committed)
		}
	}

	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, residue(cbw.DataTransferLength, committed)
}

// handleSynchronizeCache10 processes SYNCHRONIZE CACHE (10) command.
func (m *MSC) handleSynchronizeCache10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if s, ok := m.storage.(Syncer); ok {
		if err := s.Sync(); err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "sync error",
				"error", err)
			m.setSenseFor(err)
			return m.fail(ctx, cbw, 0)
		}
	}

	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength
}

// receiveData fills buf from the host. It returns fewer bytes only when
// the host ends the transfer with a short packet.
func (m *MSC) receiveData(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := m.pipe.Receive(ctx, buf[total:])
		if err != nil {
			return total, err
		}
		total += n
		if n < MaxPacketSize {
			break
		}
	}
	return total, nil
}

// chunkBlocks returns the number of blocks per storage request.
func chunkBlocks(blockSize uint32) uint32 {
	if blockSize >= MaxTransferSize {
		return 1
	}
	return MaxTransferSize / blockSize
}

func residue(expected, actual uint32) uint32 {
	if actual >= expected {
		return 0
	}
	return expected - actual
}
