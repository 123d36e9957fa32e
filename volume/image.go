package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/flashdisk/pkg"
)

// Image is the writable in-memory copy of a Template.
// It is not safe for concurrent use; the block translator is its only user.
type Image struct {
	buf       []byte
	blockSize uint32
	blocks    uint32
}

// New builds the template into a new image.
func New(t Template) (*Image, error) {
	buf, err := t.Build()
	if err != nil {
		return nil, err
	}

	return &Image{
		buf:       buf,
		blockSize: t.BlockSize,
		blocks:    t.BlockCount,
	}, nil
}

// BlockSize returns the block size in bytes.
func (im *Image) BlockSize() uint32 {
	return im.blockSize
}

// BlockCount returns the number of blocks held in memory.
func (im *Image) BlockCount() uint32 {
	return im.blocks
}

// PatchCapacity rewrites the boot sector's total-sectors field so the volume
// spans totalBlocks blocks. Counts that do not fit the 16-bit field go to the
// 32-bit field instead.
func (im *Image) PatchCapacity(totalBlocks uint32) {
	boot := im.buf[:im.blockSize]
	if totalBlocks <= 0xFFFF {
		binary.LittleEndian.PutUint16(boot[offTotalSectors16:], uint16(totalBlocks))
		binary.LittleEndian.PutUint32(boot[offTotalSectors32:], 0)
	} else {
		binary.LittleEndian.PutUint16(boot[offTotalSectors16:], 0)
		binary.LittleEndian.PutUint32(boot[offTotalSectors32:], totalBlocks)
	}

	pkg.LogDebug(pkg.ComponentVolume, "capacity patched",
		"totalBlocks", totalBlocks)
}

// TotalSectors returns the sector count currently advertised by the boot
// sector.
func (im *Image) TotalSectors() uint32 {
	boot := im.buf[:im.blockSize]
	if n := binary.LittleEndian.Uint16(boot[offTotalSectors16:]); n != 0 {
		return uint32(n)
	}
	return binary.LittleEndian.Uint32(boot[offTotalSectors32:])
}

// Read copies len(buf) bytes starting at offset within block lba.
func (im *Image) Read(lba, offset uint32, buf []byte) (int, error) {
	start, err := im.span(lba, offset, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, im.buf[start:]), nil
}

// Write stores data starting at offset within block lba.
func (im *Image) Write(lba, offset uint32, data []byte) (int, error) {
	start, err := im.span(lba, offset, len(data))
	if err != nil {
		return 0, err
	}
	return copy(im.buf[start:], data), nil
}

// Bytes returns a copy of the whole image.
func (im *Image) Bytes() []byte {
	out := make([]byte, len(im.buf))
	copy(out, im.buf)
	return out
}

// span validates an access and returns its starting byte index.
func (im *Image) span(lba, offset uint32, n int) (int, error) {
	if offset >= im.blockSize {
		return 0, fmt.Errorf("offset %d: %w", offset, pkg.ErrInvalidOffset)
	}
	if lba >= im.blocks {
		return 0, fmt.Errorf("block %d of %d: %w", lba, im.blocks, pkg.ErrInvalidLBA)
	}
	start := uint64(lba)*uint64(im.blockSize) + uint64(offset)
	if start+uint64(n) > uint64(len(im.buf)) {
		return 0, fmt.Errorf("block %d+%d length %d: %w", lba, offset, n, pkg.ErrOutOfRange)
	}
	return int(start), nil
}
