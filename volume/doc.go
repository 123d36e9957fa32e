// Package volume builds the synthetic FAT12 volume that makes the device
// mountable.
//
// The volume is a fixed template: boot sector, one FAT, a root directory
// with a volume label and a read-only README.TXT, and the README contents.
// [Image] holds the template in memory, lets the host's filesystem driver
// rewrite metadata blocks, and has its total-sectors field patched so the
// host sees the full size of the backing partition as free space.
//
// Nothing written to an Image is persisted.
package volume
