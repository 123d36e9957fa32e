package partition

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ardnew/flashdisk/pkg"
)

// FilePartition implements Partition on top of a flash image file.
// The file is extended to the partition size on open; new space reads as
// erased flash.
type FilePartition struct {
	file  *os.File
	info  Info
	mutex sync.RWMutex
}

// OpenFile opens or creates the image file at path as a partition of the
// given size.
func OpenFile(path, name string, size, sectorSize uint32) (*FilePartition, error) {
	if size == 0 {
		return nil, fmt.Errorf("partition %s size: %w", name, pkg.ErrInvalidParameter)
	}
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	f := &FilePartition{
		file: file,
		info: Info{
			Name:       name,
			Size:       size,
			SectorSize: sectorSize,
		},
	}

	if stat.Size() < int64(size) {
		if err := f.fillErased(stat.Size(), int64(size)); err != nil {
			file.Close()
			return nil, err
		}
	}

	return f, nil
}

// Info returns the partition attributes.
func (f *FilePartition) Info() Info {
	return f.info
}

// Erase overwrites the range with the erased value.
func (f *FilePartition) Erase(offset, size uint32) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return pkg.ErrNotConfigured
	}
	if err := checkErase(f.info, offset, size); err != nil {
		return err
	}
	if err := f.fillErased(int64(offset), int64(offset)+int64(size)); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrEraseFailed, err)
	}
	return nil
}

// Program writes data at offset. Data past the end of the partition is not
// written.
func (f *FilePartition) Program(offset uint32, data []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return 0, pkg.ErrNotConfigured
	}

	n := clampLength(f.info, offset, len(data))
	if n > 0 {
		w, err := f.file.WriteAt(data[:n], int64(offset))
		if err != nil {
			return w, fmt.Errorf("%w: %w", pkg.ErrProgramFailed, err)
		}
	}
	if n < len(data) {
		return n, fmt.Errorf("program %d bytes at %#x of %s: %w",
			len(data), offset, f.info.Name, pkg.ErrOutOfRange)
	}
	return n, nil
}

// Read reads partition contents into buf.
func (f *FilePartition) Read(offset uint32, buf []byte) (int, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return 0, pkg.ErrNotConfigured
	}

	n := clampLength(f.info, offset, len(buf))
	if n > 0 {
		r, err := f.file.ReadAt(buf[:n], int64(offset))
		if err != nil && !errors.Is(err, io.EOF) {
			return r, fmt.Errorf("%w: %w", pkg.ErrReadFailed, err)
		}
		n = r
	}
	if n < len(buf) {
		return n, fmt.Errorf("read %d bytes at %#x of %s: %w",
			len(buf), offset, f.info.Name, pkg.ErrOutOfRange)
	}
	return n, nil
}

// Sync flushes file writes to disk.
func (f *FilePartition) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FilePartition) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

// fillErased writes the erased value over [from, to).
func (f *FilePartition) fillErased(from, to int64) error {
	var sector [DefaultSectorSize]byte
	fill(sector[:], ErasedByte)

	for off := from; off < to; {
		n := int64(len(sector))
		if to-off < n {
			n = to - off
		}
		if _, err := f.file.WriteAt(sector[:n], off); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// Compile-time interface check
var _ Partition = (*FilePartition)(nil)
