package volume

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ardnew/flashdisk/pkg"
)

// Template defaults.
const (
	DefaultBlockSize  = 512
	DefaultBlockCount = 50 // 25 KB, above the smallest volume Windows mounts
	DefaultLabel      = "ESP32S2 MSC"
	DefaultReadme     = "This is tinyusb's MassStorage Class demo.\r\n\r\n" +
		"If you find any bugs or get any questions, feel free to file an\r\n" +
		"issue at github.com/hathach/tinyusb"
)

// Fixed block layout of the template volume.
const (
	BootBlock   = 0 // Boot sector (BIOS parameter block)
	FATBlock    = 1 // Single FAT12 table
	RootBlock   = 2 // Root directory (16 entries)
	ReadmeBlock = 3 // Data cluster 2, holds the README file

	minBlocks = ReadmeBlock + 1
)

// Boot sector field offsets.
const (
	offBytesPerSector  = 11
	offTotalSectors16  = 19
	offTotalSectors32  = 32
	offVolumeSerial    = 39
	offVolumeLabel     = 43
	offFilesystemType  = 54
	offBootSignature   = 510
	rootEntries        = 16
	dirEntrySize       = 32
	attrReadOnly       = 0x01
	attrVolumeID       = 0x08
	attrArchive        = 0x20
	fatMediaDescriptor = 0xF8
)

// Template describes the minimal single-file FAT12 volume served to the host.
type Template struct {
	BlockSize  uint32    // Bytes per block (sector)
	BlockCount uint32    // Blocks held in memory
	Label      string    // Volume label, at most 11 characters
	Readme     string    // Contents of README.TXT, at most one block
	Serial     uint32    // Volume serial number
	Modified   time.Time // Directory entry timestamps
}

// DefaultTemplate returns the standard 50-block volume.
func DefaultTemplate() Template {
	return Template{
		BlockSize:  DefaultBlockSize,
		BlockCount: DefaultBlockCount,
		Label:      DefaultLabel,
		Readme:     DefaultReadme,
		Serial:     0x1234,
		Modified:   time.Date(2021, time.November, 5, 13, 44, 16, 0, time.UTC),
	}
}

// Validate checks that the template describes a buildable volume.
func (t Template) Validate() error {
	switch {
	case t.BlockSize < 512 || t.BlockSize&(t.BlockSize-1) != 0:
		return fmt.Errorf("block size %d: %w", t.BlockSize, pkg.ErrInvalidParameter)
	case t.BlockCount < minBlocks:
		return fmt.Errorf("block count %d below %d: %w", t.BlockCount, minBlocks, pkg.ErrInvalidParameter)
	case t.BlockCount > 0xFFFF:
		return fmt.Errorf("block count %d: %w", t.BlockCount, pkg.ErrInvalidParameter)
	case len(t.Label) > 11:
		return fmt.Errorf("label %q longer than 11 characters: %w", t.Label, pkg.ErrInvalidParameter)
	case uint32(len(t.Readme)) > t.BlockSize:
		return fmt.Errorf("readme of %d bytes exceeds one block: %w", len(t.Readme), pkg.ErrInvalidParameter)
	}
	return nil
}

// Build renders the template into a fresh buffer of BlockSize*BlockCount bytes.
func (t Template) Build() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, t.BlockSize*t.BlockCount)
	bs := t.BlockSize

	t.buildBootSector(buf[BootBlock*bs : (BootBlock+1)*bs])
	buildFAT12(buf[FATBlock*bs : (FATBlock+1)*bs])
	t.buildRootDirectory(buf[RootBlock*bs : (RootBlock+1)*bs])
	copy(buf[ReadmeBlock*bs:], t.Readme)

	return buf, nil
}

func (t Template) buildBootSector(sec []byte) {
	sec[0], sec[1], sec[2] = 0xEB, 0x3C, 0x90
	copy(sec[3:11], "MSDOS5.0")

	// BIOS parameter block: one sector per cluster, one reserved sector,
	// a single FAT of one sector and one sector of root directory.
	binary.LittleEndian.PutUint16(sec[offBytesPerSector:], uint16(t.BlockSize))
	sec[13] = 1
	binary.LittleEndian.PutUint16(sec[14:], 1)
	sec[16] = 1
	binary.LittleEndian.PutUint16(sec[17:], rootEntries)
	binary.LittleEndian.PutUint16(sec[offTotalSectors16:], uint16(t.BlockCount))
	sec[21] = fatMediaDescriptor
	binary.LittleEndian.PutUint16(sec[22:], 1)
	binary.LittleEndian.PutUint16(sec[24:], 1)
	binary.LittleEndian.PutUint16(sec[26:], 1)

	// Extended boot record
	sec[36] = 0x80
	sec[38] = 0x29
	binary.LittleEndian.PutUint32(sec[offVolumeSerial:], t.Serial)
	copy(sec[offVolumeLabel:offVolumeLabel+11], padRight(t.Label, 11))
	copy(sec[offFilesystemType:offFilesystemType+8], "FAT12   ")

	sec[offBootSignature], sec[offBootSignature+1] = 0x55, 0xAA
}

// buildFAT12 marks the two reserved entries and ends the README chain at
// cluster 2.
func buildFAT12(fat []byte) {
	copy(fat, []byte{fatMediaDescriptor, 0xFF, 0xFF, 0xFF, 0x0F})
}

func (t Template) buildRootDirectory(dir []byte) {
	fatTime, fatDate := fatTimestamp(t.Modified)

	label := dir[0:dirEntrySize]
	copy(label[0:11], padRight(t.Label, 11))
	label[11] = attrVolumeID
	binary.LittleEndian.PutUint16(label[22:], fatTime)
	binary.LittleEndian.PutUint16(label[24:], fatDate)

	readme := dir[dirEntrySize : 2*dirEntrySize]
	copy(readme[0:11], "README  TXT")
	readme[11] = attrReadOnly | attrArchive
	binary.LittleEndian.PutUint16(readme[14:], fatTime) // created
	binary.LittleEndian.PutUint16(readme[16:], fatDate)
	binary.LittleEndian.PutUint16(readme[18:], fatDate) // accessed
	binary.LittleEndian.PutUint16(readme[22:], fatTime) // modified
	binary.LittleEndian.PutUint16(readme[24:], fatDate)
	binary.LittleEndian.PutUint16(readme[26:], 2) // first cluster
	binary.LittleEndian.PutUint32(readme[28:], uint32(len(t.Readme)))
}

// fatTimestamp packs ts into the FAT directory time and date words.
func fatTimestamp(ts time.Time) (uint16, uint16) {
	if ts.Year() < 1980 {
		ts = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	t := uint16(ts.Hour()<<11 | ts.Minute()<<5 | ts.Second()/2)
	d := uint16((ts.Year()-1980)<<9 | int(ts.Month())<<5 | ts.Day())
	return t, d
}

// padRight pads or truncates s to n bytes with spaces.
func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if i < len(s) {
			out[i] = s[i]
		} else {
			out[i] = ' '
		}
	}
	return out
}
