package disk

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ardnew/flashdisk/partition"
	"github.com/ardnew/flashdisk/pkg"
	"github.com/ardnew/flashdisk/volume"
)

// Default INQUIRY identification.
const (
	DefaultVendor   = "Espressi"
	DefaultProduct  = "Mass Storage"
	DefaultRevision = "1.0"
)

// Identity holds the INQUIRY identification strings.
type Identity struct {
	Vendor   string // Up to 8 characters
	Product  string // Up to 16 characters
	Revision string // Up to 4 characters
}

// Config configures a Translator. Zero fields take defaults.
type Config struct {
	Identity Identity
	Trigger  Trigger
	Clock    Clock
}

// Translator is the single dispatch point for block reads and writes.
//
// Blocks below the volume image's block count are served from memory.
// Blocks at and after it map onto the partition. Once a write begins with a
// firmware image, writes are programmed sequentially into the partition
// until the process restarts.
//
// Read and Write must be called from one goroutine at a time, which the
// mass-storage transport guarantees. The update state is readable from any
// goroutine.
type Translator struct {
	part     partition.Partition
	info     partition.Info
	image    *volume.Image
	identity Identity
	trigger  Trigger
	clock    Clock

	blockSize  uint32
	blockCount uint32 // Partition size / block size
	volBlocks  uint32 // Blocks served from the image

	state updateState
}

// New creates a translator over part and image, and patches the image
// capacity to match the partition.
func New(part partition.Partition, image *volume.Image, cfg Config) (*Translator, error) {
	if part == nil || image == nil {
		return nil, pkg.ErrNotConfigured
	}

	info := part.Info()
	bs := image.BlockSize()

	if info.SectorSize != 0 && info.Size%info.SectorSize != 0 {
		return nil, fmt.Errorf("partition %s size %#x not a multiple of sector size %#x: %w",
			info.Name, info.Size, info.SectorSize, pkg.ErrInvalidParameter)
	}
	count := info.Size / bs
	if count <= image.BlockCount() {
		return nil, fmt.Errorf("partition %s holds %d blocks, volume needs more than %d: %w",
			info.Name, count, image.BlockCount(), pkg.ErrInvalidParameter)
	}

	t := &Translator{
		part:       part,
		info:       info,
		image:      image,
		identity:   cfg.Identity,
		trigger:    cfg.Trigger,
		clock:      cfg.Clock,
		blockSize:  bs,
		blockCount: count,
		volBlocks:  image.BlockCount(),
	}

	if t.identity == (Identity{}) {
		t.identity = Identity{
			Vendor:   DefaultVendor,
			Product:  DefaultProduct,
			Revision: DefaultRevision,
		}
	}
	if t.trigger == nil {
		t.trigger = MagicTrigger(DefaultMagic)
	}
	if t.clock == nil {
		t.clock = SystemClock{}
	}

	image.PatchCapacity(count)

	pkg.LogInfo(pkg.ComponentDisk, "translator ready",
		"partition", info.Name,
		"address", fmt.Sprintf("%#x", info.Address),
		"size", fmt.Sprintf("%#x", info.Size),
		"blocks", count,
		"blockSize", bs,
		"volumeBlocks", t.volBlocks)

	return t, nil
}

// Capacity returns the partition size in blocks and the block size.
func (t *Translator) Capacity() (blockCount, blockSize uint32) {
	return t.blockCount, t.blockSize
}

// Inquiry returns the vendor, product and revision strings.
func (t *Translator) Inquiry() (vendor, product, revision string) {
	return t.identity.Vendor, t.identity.Product, t.identity.Revision
}

// Read fills buf with data starting at offset within block lba.
// Blocks below the volume boundary come from the image; the rest come from
// the partition shifted down by the volume size.
func (t *Translator) Read(lba, offset uint32, buf []byte) (int, error) {
	addr, err := t.check(lba, offset, len(buf))
	if err != nil {
		return 0, err
	}

	pkg.LogDebug(pkg.ComponentDisk, "read",
		"lba", lba,
		"offset", offset,
		"len", len(buf))

	boundary := uint64(t.volBlocks) * uint64(t.blockSize)
	total := 0
	for total < len(buf) {
		if addr < boundary {
			seg := minInt(len(buf)-total, int(boundary-addr))
			n, err := t.image.Read(uint32(addr/uint64(t.blockSize)), uint32(addr%uint64(t.blockSize)), buf[total:total+seg])
			total += n
			if err != nil {
				return total, err
			}
			addr += uint64(n)
			continue
		}

		n, err := t.part.Read(uint32(addr-boundary), buf[total:])
		total += n
		if err != nil {
			pkg.LogWarn(pkg.ComponentDisk, "partition read failed",
				"lba", lba,
				"offset", offset,
				"error", err)
			return total, fmt.Errorf("read block %d: %w", lba, err)
		}
		break
	}

	return total, nil
}

// Write stores data starting at offset within block lba and returns the
// number of bytes committed.
//
// Outside update mode, a buffer accepted by the trigger starts an update:
// the partition is erased and every later write at or after lba is
// programmed at the write cursor. Writes below that block are acknowledged
// and dropped. Without an update, writes land in the volume image; data
// past the image is acknowledged and dropped.
func (t *Translator) Write(lba, offset uint32, data []byte) (int, error) {
	addr, err := t.check(lba, offset, len(data))
	if err != nil {
		return 0, err
	}

	pkg.LogDebug(pkg.ComponentDisk, "write",
		"lba", lba,
		"offset", offset,
		"len", len(data))

	if !t.state.updating.Load() && t.trigger(data) {
		if err := t.begin(lba); err != nil {
			return 0, err
		}
	}

	if t.state.updating.Load() {
		return t.program(lba, data)
	}

	return t.writeVolume(addr, data)
}

// writeVolume copies data into the image up to the volume boundary.
func (t *Translator) writeVolume(addr uint64, data []byte) (int, error) {
	boundary := uint64(t.volBlocks) * uint64(t.blockSize)
	if addr < boundary {
		seg := minInt(len(data), int(boundary-addr))
		if _, err := t.image.Write(uint32(addr/uint64(t.blockSize)), uint32(addr%uint64(t.blockSize)), data[:seg]); err != nil {
			return 0, err
		}
		if seg == len(data) {
			return seg, nil
		}
	}

	pkg.LogDebug(pkg.ComponentDisk, "write beyond volume dropped",
		"address", addr,
		"len", len(data))
	return len(data), nil
}

// check validates a request and returns its absolute byte address.
func (t *Translator) check(lba, offset uint32, n int) (uint64, error) {
	switch {
	case n == 0:
		return 0, pkg.ErrZeroLength
	case offset >= t.blockSize:
		return 0, fmt.Errorf("offset %d: %w", offset, pkg.ErrInvalidOffset)
	case lba >= t.blockCount:
		return 0, fmt.Errorf("block %d of %d: %w", lba, t.blockCount, pkg.ErrInvalidLBA)
	}

	addr := uint64(lba)*uint64(t.blockSize) + uint64(offset)
	if addr+uint64(n) > uint64(t.blockCount)*uint64(t.blockSize) {
		return 0, fmt.Errorf("block %d+%d length %d: %w", lba, offset, n, pkg.ErrOutOfRange)
	}
	return addr, nil
}

// Diagnose reads the first n bytes of the partition and logs them.
func (t *Translator) Diagnose(n int) ([]byte, error) {
	if n <= 0 {
		return nil, pkg.ErrZeroLength
	}
	if uint64(n) > uint64(t.info.Size) {
		n = int(t.info.Size)
	}

	buf := make([]byte, n)
	if _, err := t.part.Read(0, buf); err != nil {
		pkg.LogError(pkg.ComponentPartition, "diagnostic read failed",
			"partition", t.info.Name,
			"error", err)
		return nil, err
	}

	head := buf
	if len(head) > 32 {
		head = head[:32]
	}
	pkg.LogInfo(pkg.ComponentPartition, "partition contents",
		"partition", t.info.Name,
		"address", fmt.Sprintf("%#x", t.info.Address),
		"size", fmt.Sprintf("%#x", t.info.Size),
		"head", hex.EncodeToString(head))

	return buf, nil
}

// Sync flushes the partition when it buffers writes.
func (t *Translator) Sync() error {
	if s, ok := t.part.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Updating reports whether an update is in progress.
func (t *Translator) Updating() bool {
	return t.state.updating.Load()
}

// LastActivity returns the time of the last programmed write.
func (t *Translator) LastActivity() time.Time {
	return time.Unix(0, t.state.lastActivity.Load())
}

// State returns a snapshot of the update state.
func (t *Translator) State() State {
	return t.state.snapshot()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
