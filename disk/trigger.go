package disk

// DefaultMagic is the first byte of an ESP application image.
const DefaultMagic = 0xE9

// ESP image header limits.
const (
	espMaxSegments = 16
	espMaxSPIMode  = 5 // QIO, QOUT, DIO, DOUT, FAST_READ, SLOW_READ
)

// Trigger reports whether a write buffer begins a flashable image.
type Trigger func(block []byte) bool

// MagicTrigger matches buffers whose first byte equals magic.
func MagicTrigger(magic byte) Trigger {
	return func(block []byte) bool {
		return len(block) > 0 && block[0] == magic
	}
}

// ImageHeaderTrigger matches like MagicTrigger and also requires a plausible
// ESP image header: 1 to 16 segments and a known SPI flash mode.
func ImageHeaderTrigger(magic byte) Trigger {
	return func(block []byte) bool {
		if len(block) < 4 || block[0] != magic {
			return false
		}
		segments, mode := block[1], block[2]
		return segments >= 1 && segments <= espMaxSegments && mode <= espMaxSPIMode
	}
}
