package volume

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/flashdisk/pkg"
)

func TestTemplate_BootSector(t *testing.T) {
	buf, err := DefaultTemplate().Build()
	require.NoError(t, err)
	require.Len(t, buf, DefaultBlockSize*DefaultBlockCount)

	boot := buf[:DefaultBlockSize]
	assert.Equal(t, []byte{0xEB, 0x3C, 0x90}, boot[0:3])
	assert.Equal(t, "MSDOS5.0", string(boot[3:11]))
	assert.Equal(t, uint16(512), binary.LittleEndian.Uint16(boot[11:]))
	assert.Equal(t, byte(1), boot[13])
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(boot[17:]))
	assert.Equal(t, uint16(DefaultBlockCount), binary.LittleEndian.Uint16(boot[19:]))
	assert.Equal(t, byte(0xF8), boot[21])
	assert.Equal(t, byte(0x29), boot[38])
	assert.Equal(t, "ESP32S2 MSC", string(boot[43:54]))
	assert.Equal(t, "FAT12   ", string(boot[54:62]))
	assert.Equal(t, []byte{0x55, 0xAA}, boot[510:512])
}

func TestTemplate_FATAndDirectory(t *testing.T) {
	tmpl := DefaultTemplate()
	buf, err := tmpl.Build()
	require.NoError(t, err)

	fat := buf[FATBlock*DefaultBlockSize:]
	assert.Equal(t, []byte{0xF8, 0xFF, 0xFF, 0xFF, 0x0F, 0x00}, fat[:6])

	dir := buf[RootBlock*DefaultBlockSize:]
	assert.Equal(t, "ESP32S2 MSC", string(dir[0:11]))
	assert.Equal(t, byte(attrVolumeID), dir[11])

	entry := dir[32:64]
	assert.Equal(t, "README  TXT", string(entry[0:11]))
	assert.Equal(t, byte(attrReadOnly|attrArchive), entry[11])
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(entry[26:]))
	assert.Equal(t, uint32(len(tmpl.Readme)), binary.LittleEndian.Uint32(entry[28:]))

	data := buf[ReadmeBlock*DefaultBlockSize:]
	assert.Equal(t, tmpl.Readme, string(data[:len(tmpl.Readme)]))
}

func TestTemplate_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{"block size not power of two", func(t *Template) { t.BlockSize = 600 }},
		{"block size too small", func(t *Template) { t.BlockSize = 256 }},
		{"too few blocks", func(t *Template) { t.BlockCount = 3 }},
		{"too many blocks", func(t *Template) { t.BlockCount = 0x10000 }},
		{"long label", func(t *Template) { t.Label = "TWELVE CHARS" }},
		{"readme beyond one block", func(t *Template) { t.Readme = string(make([]byte, 513)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := DefaultTemplate()
			tt.mutate(&tmpl)
			_, err := tmpl.Build()
			require.ErrorIs(t, err, pkg.ErrInvalidParameter)
		})
	}
}

func TestFATTimestamp(t *testing.T) {
	tm, d := fatTimestamp(time.Date(2013, time.November, 5, 13, 44, 16, 0, time.UTC))
	assert.Equal(t, uint16(13<<11|44<<5|8), tm)
	assert.Equal(t, uint16(0x4365), d)

	_, d = fatTimestamp(time.Time{})
	assert.Equal(t, uint16(1<<5|1), d)
}

func TestImage_PatchCapacity(t *testing.T) {
	im, err := New(DefaultTemplate())
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultBlockCount), im.TotalSectors())

	// 0x100000-byte partition with 512-byte blocks
	im.PatchCapacity(2048)
	boot := im.Bytes()[:512]
	assert.Equal(t, byte(0x00), boot[19])
	assert.Equal(t, byte(0x08), boot[20])
	assert.Equal(t, uint32(2048), im.TotalSectors())

	im.PatchCapacity(0x20000)
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(im.Bytes()[19:]))
	assert.Equal(t, uint32(0x20000), im.TotalSectors())
}

func TestImage_ReadWriteRoundTrip(t *testing.T) {
	im, err := New(DefaultTemplate())
	require.NoError(t, err)

	tests := []struct {
		lba, offset uint32
		data        []byte
	}{
		{lba: 1, offset: 0, data: []byte{0xF8, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
		{lba: 2, offset: 64, data: []byte("NEWFILE BIN")},
		{lba: 49, offset: 500, data: []byte("tail of image")[:12]},
		{lba: 10, offset: 0, data: make([]byte, 1024)},
	}

	for _, tt := range tests {
		n, err := im.Write(tt.lba, tt.offset, tt.data)
		require.NoError(t, err)
		require.Equal(t, len(tt.data), n)

		got := make([]byte, len(tt.data))
		n, err = im.Read(tt.lba, tt.offset, got)
		require.NoError(t, err)
		require.Equal(t, len(tt.data), n)
		assert.Equal(t, tt.data, got)
	}
}

func TestImage_Bounds(t *testing.T) {
	im, err := New(DefaultTemplate())
	require.NoError(t, err)

	buf := make([]byte, 512)

	_, err = im.Read(50, 0, buf)
	assert.ErrorIs(t, err, pkg.ErrInvalidLBA)

	_, err = im.Read(0, 512, buf)
	assert.ErrorIs(t, err, pkg.ErrInvalidOffset)

	_, err = im.Write(49, 1, buf)
	assert.ErrorIs(t, err, pkg.ErrOutOfRange)
}
