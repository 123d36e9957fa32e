package partition

import (
	"fmt"

	"github.com/ardnew/flashdisk/pkg"
)

// Flash geometry defaults.
const (
	DefaultSectorSize = 4096 // Smallest erasable unit
	ErasedByte        = 0xFF // Value of every byte after erase
)

// Info describes a named flash region.
type Info struct {
	Name       string // Partition label (e.g. "storage")
	Address    uint32 // Absolute start address in flash
	Size       uint32 // Size in bytes
	SectorSize uint32 // Erase granularity in bytes
}

// Partition is the flash partition service consumed by the block translator.
// Offsets are relative to the start of the partition.
type Partition interface {
	// Info returns the partition attributes.
	Info() Info

	// Erase erases size bytes starting at offset.
	// Both values must be multiples of the sector size.
	Erase(offset, size uint32) error

	// Program writes data at offset into erased flash.
	// Returns the number of bytes actually committed, which is less than
	// len(data) whenever an error is returned.
	Program(offset uint32, data []byte) (int, error)

	// Read reads len(buf) bytes starting at offset.
	Read(offset uint32, buf []byte) (int, error)
}

// checkErase validates an erase range against the partition geometry.
func checkErase(info Info, offset, size uint32) error {
	if uint64(offset)+uint64(size) > uint64(info.Size) {
		return fmt.Errorf("erase [%#x, %#x) of %s: %w",
			offset, uint64(offset)+uint64(size), info.Name, pkg.ErrOutOfRange)
	}
	if info.SectorSize != 0 && (offset%info.SectorSize != 0 || size%info.SectorSize != 0) {
		return fmt.Errorf("erase [%#x, %#x) of %s: %w",
			offset, uint64(offset)+uint64(size), info.Name, pkg.ErrUnaligned)
	}
	return nil
}

// clampLength returns how many of n bytes at offset fit inside the partition.
func clampLength(info Info, offset uint32, n int) int {
	if offset >= info.Size {
		return 0
	}
	if avail := info.Size - offset; uint64(n) > uint64(avail) {
		return int(avail)
	}
	return n
}
