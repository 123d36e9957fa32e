package partition

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/flashdisk/pkg"
)

func TestMemoryPartition_Erased(t *testing.T) {
	p := NewMemoryPartition("storage", 8192, 0)
	require.Equal(t, Info{Name: "storage", Size: 8192, SectorSize: DefaultSectorSize}, p.Info())

	buf := make([]byte, 16)
	n, err := p.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, bytes.Repeat([]byte{ErasedByte}, 16), buf)
}

func TestMemoryPartition_ProgramRead(t *testing.T) {
	p := NewMemoryPartition("storage", 8192, 0)

	n, err := p.Program(100, []byte("firmware"))
	require.NoError(t, err)
	require.Equal(t, 8, n)

	buf := make([]byte, 8)
	_, err = p.Read(100, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("firmware"), buf)

	stats := p.Stats()
	require.Equal(t, 1, stats.Programs)
	require.Equal(t, 8, stats.BytesProgrammed)
}

func TestMemoryPartition_ProgramRequiresErase(t *testing.T) {
	p := NewMemoryPartition("storage", 4096, 0)

	_, err := p.Program(0, []byte{0x00, 0x00})
	require.NoError(t, err)

	// Setting bits back to 1 needs an erase.
	n, err := p.Program(0, []byte{0x00, 0x01})
	require.ErrorIs(t, err, pkg.ErrNotErased)
	require.Equal(t, 1, n)

	require.NoError(t, p.Erase(0, 4096))
	n, err = p.Program(0, []byte{0x00, 0x01})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMemoryPartition_EraseChecks(t *testing.T) {
	p := NewMemoryPartition("storage", 8192, 4096)

	tests := []struct {
		name         string
		offset, size uint32
		want         error
	}{
		{"whole", 0, 8192, nil},
		{"sector", 4096, 4096, nil},
		{"unaligned offset", 1, 4096, pkg.ErrUnaligned},
		{"unaligned size", 0, 100, pkg.ErrUnaligned},
		{"past end", 4096, 8192, pkg.ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Erase(tt.offset, tt.size)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMemoryPartition_ShortProgramAtEnd(t *testing.T) {
	p := NewMemoryPartition("storage", 4096, 0)

	n, err := p.Program(4090, make([]byte, 10))
	require.ErrorIs(t, err, pkg.ErrOutOfRange)
	require.Equal(t, 6, n)

	n, err = p.Program(5000, make([]byte, 10))
	require.ErrorIs(t, err, pkg.ErrOutOfRange)
	require.Equal(t, 0, n)
}

func TestMemoryPartition_Faults(t *testing.T) {
	boom := errors.New("boom")
	p := NewMemoryPartition("storage", 4096, 0)

	p.SetFaults(Faults{Erase: boom, ProgramBudget: -1})
	err := p.Erase(0, 4096)
	require.ErrorIs(t, err, pkg.ErrEraseFailed)
	require.ErrorIs(t, err, boom)

	p.SetFaults(Faults{Read: boom, ProgramBudget: -1})
	_, err = p.Read(0, make([]byte, 4))
	require.ErrorIs(t, err, pkg.ErrReadFailed)

	p.SetFaults(Faults{Program: boom, ProgramBudget: 300})
	n, err := p.Program(0, make([]byte, 256))
	require.NoError(t, err)
	require.Equal(t, 256, n)

	n, err = p.Program(256, make([]byte, 256))
	require.ErrorIs(t, err, pkg.ErrProgramFailed)
	require.Equal(t, 44, n)
	require.Equal(t, 300, p.Stats().BytesProgrammed)
}

func TestFilePartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.bin")

	p, err := OpenFile(path, "storage", 8192, 0)
	require.NoError(t, err)
	defer p.Close()

	buf := make([]byte, 4)
	_, err = p.Read(8188, buf)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedByte}, 4), buf)

	n, err := p.Program(0, []byte{0xE9, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, p.Sync())
	require.NoError(t, p.Close())

	// Contents survive a reopen.
	p, err = OpenFile(path, "storage", 8192, 0)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xE9, 0x01, 0x02, 0x03}, buf)

	require.NoError(t, p.Erase(0, 4096))
	_, err = p.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedByte}, 4), buf)

	n, err = p.Program(8190, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, pkg.ErrOutOfRange)
	require.Equal(t, 2, n)
}

func TestFilePartition_Closed(t *testing.T) {
	p, err := OpenFile(filepath.Join(t.TempDir(), "storage.bin"), "storage", 4096, 0)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Read(0, make([]byte, 1))
	require.ErrorIs(t, err, pkg.ErrNotConfigured)
	require.ErrorIs(t, p.Erase(0, 4096), pkg.ErrNotConfigured)
}

func TestOpenFile_ZeroSize(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "storage.bin"), "storage", 0, 0)
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)
}
