package msc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/flashdisk/pkg"
)

// CommandError reports a command that completed with a failed or phase
// error status.
type CommandError struct {
	Opcode uint8
	Status uint8
	Sense  Sense
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("scsi opcode %#02x status %d sense %#x/%#02x/%#02x",
		e.Opcode, e.Status, e.Sense.Key, e.Sense.ASC, e.Sense.ASCQ)
}

// Unwrap returns ErrPhaseError or ErrCommandFailed.
func (e *CommandError) Unwrap() error {
	if e.Status == CSWStatusPhaseError {
		return pkg.ErrPhaseError
	}
	return pkg.ErrCommandFailed
}

// Client issues SCSI commands to a Bulk-Only Transport device. It is the
// host side of the pipe served by MSC. A Client is not safe for concurrent
// use.
type Client struct {
	pipe      Pipe
	tag       uint32
	blockSize uint32

	cbwBuf [CBWSize]byte
	pkt    [MaxPacketSize]byte
}

// NewClient creates a client over the host end of pipe.
func NewClient(pipe Pipe) *Client {
	return &Client{pipe: pipe}
}

// exec runs one command. For data-in commands data is filled; for data-out
// commands it is sent. It returns the CSW residue.
func (c *Client) exec(ctx context.Context, cdb []byte, in bool, data []byte) (uint32, error) {
	c.tag++
	cbw := CommandBlockWrapper{
		Tag:                c.tag,
		DataTransferLength: uint32(len(data)),
		CBLength:           uint8(len(cdb)),
	}
	if in {
		cbw.Flags = CBWFlagDataIn
	}
	copy(cbw.CB[:], cdb)
	n := cbw.MarshalTo(c.cbwBuf[:])

	if err := c.pipe.Send(ctx, c.cbwBuf[:n]); err != nil {
		return 0, err
	}

	var csw CommandStatusWrapper
	haveCSW := false
	switch {
	case len(data) == 0:
	case in:
		got, err := c.receiveIn(ctx, data, &csw)
		if err != nil {
			return 0, err
		}
		haveCSW = got
	default:
		if err := c.pipe.Send(ctx, data); err != nil {
			return 0, err
		}
	}

	if !haveCSW {
		if err := c.receiveCSW(ctx, &csw); err != nil {
			return 0, err
		}
	}

	if csw.Status != CSWStatusGood {
		cerr := &CommandError{Opcode: cdb[0], Status: csw.Status}
		if cdb[0] != SCSIRequestSense {
			if sense, err := c.RequestSense(ctx); err == nil {
				cerr.Sense = sense
			}
		}
		return csw.DataResidue, cerr
	}

	return csw.DataResidue, nil
}

// receiveIn reads the data-in phase. A device may end the phase early
// by sending its CSW; receiveIn reports that through csw and true.
func (c *Client) receiveIn(ctx context.Context, data []byte, csw *CommandStatusWrapper) (bool, error) {
	total := 0
	for total < len(data) {
		n, err := c.pipe.Receive(ctx, c.pkt[:])
		if err != nil {
			return false, err
		}
		if ParseCSW(c.pkt[:n], csw) && csw.Tag == c.tag {
			return true, nil
		}
		total += copy(data[total:], c.pkt[:n])
		if n < MaxPacketSize {
			break
		}
	}
	return false, nil
}

func (c *Client) receiveCSW(ctx context.Context, csw *CommandStatusWrapper) error {
	n, err := c.pipe.Receive(ctx, c.pkt[:])
	if err != nil {
		return err
	}
	if !ParseCSW(c.pkt[:n], csw) {
		return fmt.Errorf("%w: malformed CSW of %d bytes", pkg.ErrProtocol, n)
	}
	if csw.Tag != c.tag {
		return fmt.Errorf("%w: CSW tag %d, expected %d", pkg.ErrProtocol, csw.Tag, c.tag)
	}
	return nil
}

// TestUnitReady checks that the device is ready.
func (c *Client) TestUnitReady(ctx context.Context) error {
	_, err := c.exec(ctx, []byte{SCSITestUnitReady, 0, 0, 0, 0, 0}, false, nil)
	return err
}

// RequestSense returns the sense data of the last command.
func (c *Client) RequestSense(ctx context.Context) (Sense, error) {
	var buf [senseSize]byte
	if _, err := c.exec(ctx, []byte{SCSIRequestSense, 0, 0, 0, senseSize, 0}, true, buf[:]); err != nil {
		return Sense{}, err
	}
	sense, ok := ParseSense(buf[:])
	if !ok {
		return Sense{}, fmt.Errorf("%w: malformed sense data", pkg.ErrProtocol)
	}
	return sense, nil
}

// Inquiry returns the device identification.
func (c *Client) Inquiry(ctx context.Context) (*InquiryResponse, error) {
	var buf [InquiryStandardSize]byte
	cdb := []byte{SCSIInquiry, 0, 0, 0, InquiryStandardSize, 0}
	if _, err := c.exec(ctx, cdb, true, buf[:]); err != nil {
		return nil, err
	}
	var resp InquiryResponse
	ParseInquiry(buf[:], &resp)
	return &resp, nil
}

// ReadCapacity returns the number of blocks and the block size, and
// remembers the block size for later transfers.
func (c *Client) ReadCapacity(ctx context.Context) (blocks, blockSize uint32, err error) {
	var buf [8]byte
	cdb := make([]byte, 10)
	cdb[0] = SCSIReadCapacity10
	if _, err := c.exec(ctx, cdb, true, buf[:]); err != nil {
		return 0, 0, err
	}
	last := binary.BigEndian.Uint32(buf[0:4])
	c.blockSize = binary.BigEndian.Uint32(buf[4:8])
	return last + 1, c.blockSize, nil
}

// Read10 reads len(buf) bytes starting at block lba. The length must be a
// multiple of the block size.
func (c *Client) Read10(ctx context.Context, lba uint32, buf []byte) (int, error) {
	blocks, err := c.blocks(len(buf))
	if err != nil {
		return 0, err
	}
	residue, err := c.exec(ctx, rw10(SCSIRead10, lba, blocks), true, buf)
	return len(buf) - int(residue), err
}

// Write10 writes data starting at block lba and returns the number of
// bytes the device committed. The length must be a multiple of the block
// size.
func (c *Client) Write10(ctx context.Context, lba uint32, data []byte) (int, error) {
	blocks, err := c.blocks(len(data))
	if err != nil {
		return 0, err
	}
	residue, err := c.exec(ctx, rw10(SCSIWrite10, lba, blocks), false, data)
	return len(data) - int(residue), err
}

// WriteBlocks writes data starting at block lba in transfers of at most
// MaxTransferSize bytes. A trailing partial block is padded with zeros.
func (c *Client) WriteBlocks(ctx context.Context, lba uint32, data []byte) error {
	if c.blockSize == 0 {
		if _, _, err := c.ReadCapacity(ctx); err != nil {
			return err
		}
	}
	bs := int(c.blockSize)
	if rem := len(data) % bs; rem != 0 {
		data = append(data[:len(data):len(data)], make([]byte, bs-rem)...)
	}

	step := MaxTransferSize - MaxTransferSize%bs
	for off := 0; off < len(data); off += step {
		end := min(off+step, len(data))
		if _, err := c.Write10(ctx, lba+uint32(off/bs), data[off:end]); err != nil {
			return fmt.Errorf("write block %d: %w", lba+uint32(off/bs), err)
		}
	}
	return nil
}

// SynchronizeCache asks the device to flush buffered writes.
func (c *Client) SynchronizeCache(ctx context.Context) error {
	cdb := make([]byte, 10)
	cdb[0] = SCSISynchronizeCache10
	_, err := c.exec(ctx, cdb, false, nil)
	return err
}

func (c *Client) blocks(n int) (uint16, error) {
	if c.blockSize == 0 {
		return 0, fmt.Errorf("%w: block size unknown, read capacity first", pkg.ErrNotConfigured)
	}
	if n == 0 || n%int(c.blockSize) != 0 || n/int(c.blockSize) > 0xFFFF {
		return 0, fmt.Errorf("%w: transfer of %d bytes", pkg.ErrInvalidParameter, n)
	}
	return uint16(n / int(c.blockSize)), nil
}

func rw10(opcode uint8, lba uint32, blocks uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = opcode
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}
