package partition

import (
	"fmt"
	"sync"

	"github.com/ardnew/flashdisk/pkg"
)

// Faults configures failures injected into a MemoryPartition.
type Faults struct {
	Erase error // Returned by every Erase call when non-nil
	Read  error // Returned by every Read call when non-nil

	// Program is returned once ProgramBudget bytes have been committed.
	// A negative budget disables the fault.
	Program       error
	ProgramBudget int
}

// Stats counts operations performed on a MemoryPartition.
type Stats struct {
	Erases          int
	Programs        int
	Reads           int
	BytesProgrammed int
}

// MemoryPartition emulates NOR flash in RAM: erase sets bytes to 0xFF and
// program can only clear bits.
type MemoryPartition struct {
	info   Info
	data   []byte
	faults Faults
	stats  Stats
	mutex  sync.RWMutex
}

// NewMemoryPartition creates an erased in-memory partition.
func NewMemoryPartition(name string, size, sectorSize uint32) *MemoryPartition {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	m := &MemoryPartition{
		info: Info{
			Name:       name,
			Size:       size,
			SectorSize: sectorSize,
		},
		data:   make([]byte, size),
		faults: Faults{ProgramBudget: -1},
	}
	fill(m.data, ErasedByte)
	return m
}

// Info returns the partition attributes.
func (m *MemoryPartition) Info() Info {
	return m.info
}

// SetFaults replaces the injected faults.
func (m *MemoryPartition) SetFaults(f Faults) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.faults = f
}

// Stats returns a snapshot of the operation counters.
func (m *MemoryPartition) Stats() Stats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.stats
}

// Bytes returns a copy of the partition contents.
func (m *MemoryPartition) Bytes() []byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Erase sets the range to the erased value.
func (m *MemoryPartition) Erase(offset, size uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stats.Erases++

	if m.faults.Erase != nil {
		return fmt.Errorf("%w: %w", pkg.ErrEraseFailed, m.faults.Erase)
	}
	if err := checkErase(m.info, offset, size); err != nil {
		return err
	}

	fill(m.data[offset:offset+size], ErasedByte)
	return nil
}

// Program writes data at offset. Bits may only be cleared; a byte that
// would need a 0 to 1 transition stops the program at that byte.
func (m *MemoryPartition) Program(offset uint32, data []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stats.Programs++

	n := clampLength(m.info, offset, len(data))

	var fault error
	if m.faults.Program != nil && m.faults.ProgramBudget >= 0 && n > m.faults.ProgramBudget {
		n = m.faults.ProgramBudget
		fault = m.faults.Program
	}

	for i := 0; i < n; i++ {
		cur := m.data[int(offset)+i]
		if data[i]&^cur != 0 {
			m.account(i)
			return i, fmt.Errorf("program %s at %#x: %w",
				m.info.Name, int(offset)+i, pkg.ErrNotErased)
		}
		m.data[int(offset)+i] = cur & data[i]
	}
	m.account(n)

	switch {
	case fault != nil:
		return n, fmt.Errorf("%w: %w", pkg.ErrProgramFailed, fault)
	case n < len(data):
		return n, fmt.Errorf("program %d bytes at %#x of %s: %w",
			len(data), offset, m.info.Name, pkg.ErrOutOfRange)
	}
	return n, nil
}

// account records committed bytes and consumes the fault budget.
func (m *MemoryPartition) account(n int) {
	m.stats.BytesProgrammed += n
	if m.faults.Program != nil && m.faults.ProgramBudget >= 0 {
		m.faults.ProgramBudget -= n
	}
}

// Read copies partition contents into buf.
func (m *MemoryPartition) Read(offset uint32, buf []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stats.Reads++

	if m.faults.Read != nil {
		return 0, fmt.Errorf("%w: %w", pkg.ErrReadFailed, m.faults.Read)
	}

	n := clampLength(m.info, offset, len(buf))
	if n > 0 {
		copy(buf[:n], m.data[offset:])
	}
	if n < len(buf) {
		return n, fmt.Errorf("read %d bytes at %#x of %s: %w",
			len(buf), offset, m.info.Name, pkg.ErrOutOfRange)
	}
	return n, nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Compile-time interface check
var _ Partition = (*MemoryPartition)(nil)
