package msc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/flashdisk/disk"
	"github.com/ardnew/flashdisk/partition"
	"github.com/ardnew/flashdisk/pkg"
	"github.com/ardnew/flashdisk/volume"
)

// Partition of 128 blocks behind the 50-block volume.
const diskPartitionSize = 0x10000

// shortPartition commits at most limit bytes per program without an error.
type shortPartition struct {
	*partition.MemoryPartition
	limit int
}

func (p *shortPartition) Program(offset uint32, data []byte) (int, error) {
	return p.MemoryPartition.Program(offset, data[:min(len(data), p.limit)])
}

func newDisk(t *testing.T, part partition.Partition) *disk.Translator {
	t.Helper()
	im, err := volume.New(volume.DefaultTemplate())
	require.NoError(t, err)
	tr, err := disk.New(part, im, disk.Config{})
	require.NoError(t, err)
	return tr
}

func firmware(n int) []byte {
	b := pattern(n)
	b[0] = disk.DefaultMagic
	return b
}

func TestMSC_DiskWriteFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*partition.MemoryPartition) partition.Partition
		prefill   int // bytes written before the failing request
		lba       uint32
		size      int
		committed int
		updating  bool
	}{
		{
			name: "erase failure",
			setup: func(m *partition.MemoryPartition) partition.Partition {
				m.SetFaults(partition.Faults{Erase: errors.New("erase timeout"), ProgramBudget: -1})
				return m
			},
			lba:  volume.DefaultBlockCount,
			size: 512,
		},
		{
			name: "program failure",
			setup: func(m *partition.MemoryPartition) partition.Partition {
				m.SetFaults(partition.Faults{Program: errors.New("verify"), ProgramBudget: 300})
				return m
			},
			lba:       volume.DefaultBlockCount,
			size:      1024,
			committed: 300,
			updating:  true,
		},
		{
			name: "short program",
			setup: func(m *partition.MemoryPartition) partition.Partition {
				return &shortPartition{MemoryPartition: m, limit: 700}
			},
			lba:       volume.DefaultBlockCount,
			size:      1024,
			committed: 700,
			updating:  true,
		},
		{
			name: "program past partition end",
			setup: func(m *partition.MemoryPartition) partition.Partition {
				return m
			},
			prefill:   diskPartitionSize,
			lba:       volume.DefaultBlockCount + 10,
			size:      512,
			committed: 0,
			updating:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			mem := partition.NewMemoryPartition("storage", diskPartitionSize, partition.DefaultSectorSize)
			tr := newDisk(t, tt.setup(mem))
			c := startDevice(t, tr)

			blocks, _, err := c.ReadCapacity(ctx)
			require.NoError(t, err)
			require.Equal(t, uint32(diskPartitionSize/512), blocks)

			// Fill the partition in two halves; both requests stay inside
			// the disk even though the second ends the partition.
			for off := 0; off < tt.prefill; off += diskPartitionSize / 2 {
				data := firmware(diskPartitionSize / 2)
				n, err := c.Write10(ctx, volume.DefaultBlockCount+uint32(off/512/64), data)
				require.NoError(t, err)
				require.Equal(t, len(data), n)
			}

			n, err := c.Write10(ctx, tt.lba, firmware(tt.size))
			var cerr *CommandError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, uint8(CSWStatusFailed), cerr.Status)
			assert.Equal(t, Sense{Key: SenseMediumError, ASC: ASCWriteError}, cerr.Sense)
			assert.ErrorIs(t, err, pkg.ErrCommandFailed)
			assert.Equal(t, tt.committed, n)

			st := tr.State()
			assert.Equal(t, tt.updating, st.Updating)
			if tt.updating {
				assert.Equal(t, uint32(tt.prefill+tt.committed), st.Cursor)
			}

			// The failure is reported once and the stream stays aligned.
			sense, err := c.RequestSense(ctx)
			require.NoError(t, err)
			assert.Equal(t, Sense{}, sense)
			require.NoError(t, c.TestUnitReady(ctx))
		})
	}
}

func TestSetSenseFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Sense
	}{
		{"invalid lba", pkg.ErrInvalidLBA, Sense{Key: SenseIllegalRequest, ASC: ASCLBAOutOfRange}},
		{"out of range", pkg.ErrOutOfRange, Sense{Key: SenseIllegalRequest, ASC: ASCLBAOutOfRange}},
		{"invalid offset", pkg.ErrInvalidOffset, Sense{Key: SenseIllegalRequest, ASC: ASCInvalidFieldInCDB}},
		{"read failure", pkg.ErrReadFailed, Sense{Key: SenseMediumError, ASC: ASCUnrecoveredReadErr}},
		{"erase failure", pkg.ErrEraseFailed, Sense{Key: SenseMediumError, ASC: ASCWriteError}},
		{"not erased", pkg.ErrNotErased, Sense{Key: SenseMediumError, ASC: ASCWriteError}},
		{
			"partition overflow",
			errors.Join(pkg.ErrProgramFailed, pkg.ErrOutOfRange),
			Sense{Key: SenseMediumError, ASC: ASCWriteError},
		},
		{"unknown", errors.New("bus fault"), Sense{Key: SenseHardwareError, ASC: ASCInternalTargetFault}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil, NewMemoryStorage(4, 512))
			m.setSenseFor(tt.err)
			assert.Equal(t, tt.want, m.sense)
		})
	}
}
