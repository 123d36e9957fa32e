package msc

import (
	"fmt"
	"sync"

	"github.com/ardnew/flashdisk/pkg"
)

// Storage is the block device served over Bulk-Only Transport.
//
// Read and Write address bytes at offset within block lba and may span
// consecutive blocks. They return the number of bytes transferred, which
// is less than requested only together with an error.
type Storage interface {
	// Capacity returns the number of blocks and the block size.
	Capacity() (blockCount, blockSize uint32)

	// Inquiry returns the vendor, product and revision strings.
	Inquiry() (vendor, product, revision string)

	Read(lba, offset uint32, buf []byte) (int, error)
	Write(lba, offset uint32, data []byte) (int, error)
}

// Syncer is implemented by storage that buffers writes.
// SYNCHRONIZE CACHE calls Sync when available.
type Syncer interface {
	Sync() error
}

// MemoryStorage implements Storage using an in-memory buffer.
type MemoryStorage struct {
	data      []byte
	blockSize uint32
	mutex     sync.RWMutex

	Vendor, Product, Revision string
}

// NewMemoryStorage creates an in-memory storage of blocks × blockSize bytes.
func NewMemoryStorage(blocks, blockSize uint32) *MemoryStorage {
	return &MemoryStorage{
		data:      make([]byte, uint64(blocks)*uint64(blockSize)),
		blockSize: blockSize,
		Vendor:    "flashdsk",
		Product:   "Memory Disk",
		Revision:  "1.0",
	}
}

// Capacity returns the block count and block size.
func (m *MemoryStorage) Capacity() (uint32, uint32) {
	return uint32(len(m.data) / int(m.blockSize)), m.blockSize
}

// Inquiry returns the identification strings.
func (m *MemoryStorage) Inquiry() (string, string, string) {
	return m.Vendor, m.Product, m.Revision
}

// Read copies stored bytes into buf.
func (m *MemoryStorage) Read(lba, offset uint32, buf []byte) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	start, err := m.span(lba, offset, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, m.data[start:]), nil
}

// Write stores data.
func (m *MemoryStorage) Write(lba, offset uint32, data []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	start, err := m.span(lba, offset, len(data))
	if err != nil {
		return 0, err
	}
	return copy(m.data[start:], data), nil
}

// Bytes returns the backing buffer.
func (m *MemoryStorage) Bytes() []byte {
	return m.data
}

func (m *MemoryStorage) span(lba, offset uint32, n int) (uint64, error) {
	if offset >= m.blockSize {
		return 0, pkg.ErrInvalidOffset
	}
	start := uint64(lba)*uint64(m.blockSize) + uint64(offset)
	if start+uint64(n) > uint64(len(m.data)) {
		return 0, fmt.Errorf("block %d length %d: %w", lba, n, pkg.ErrOutOfRange)
	}
	return start, nil
}
