// Package partition provides the flash partition service used as the
// backing store for firmware updates.
//
// A [Partition] exposes erase, program and read over a named flash region
// with offsets relative to the region start. Two implementations are
// provided:
//
//   - [MemoryPartition] - NOR flash emulated in RAM, with fault injection
//   - [FilePartition] - a flash image file on the host filesystem
package partition
