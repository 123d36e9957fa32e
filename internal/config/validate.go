package config

import (
	"fmt"

	"github.com/ardnew/flashdisk/pkg"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return pkg.ErrNotConfigured
	}

	// ------------------------------------------------------------
	// PARTITION
	// ------------------------------------------------------------

	p := cfg.Partition
	if p.Path == "" {
		return invalid("partition.path must be set")
	}
	if p.SectorSize == 0 || p.SectorSize&(p.SectorSize-1) != 0 {
		return invalid("partition.sector_size %d must be a power of two", p.SectorSize)
	}
	if p.Size == 0 || p.Size%p.SectorSize != 0 {
		return invalid("partition.size %#x must be a non-zero multiple of sector_size %#x",
			p.Size, p.SectorSize)
	}

	// ------------------------------------------------------------
	// VOLUME
	// ------------------------------------------------------------

	if err := cfg.Template().Validate(); err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	v := cfg.Volume
	if uint64(p.Size)/uint64(v.BlockSize) <= uint64(v.Blocks) {
		return invalid("partition.size %#x must exceed the volume (%d blocks of %d bytes)",
			p.Size, v.Blocks, v.BlockSize)
	}

	// ------------------------------------------------------------
	// UPDATE
	// ------------------------------------------------------------

	u := cfg.Update
	if u.IdleThreshold <= 0 {
		return invalid("update.idle_threshold must be positive")
	}
	if u.PollInterval <= 0 || u.PollInterval > u.IdleThreshold {
		return invalid("update.poll_interval %s must be positive and at most idle_threshold %s",
			u.PollInterval, u.IdleThreshold)
	}

	// ------------------------------------------------------------
	// INQUIRY
	// ------------------------------------------------------------

	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"inquiry.vendor", cfg.Inquiry.Vendor, 8},
		{"inquiry.product", cfg.Inquiry.Product, 16},
		{"inquiry.revision", cfg.Inquiry.Revision, 4},
	} {
		if len(f.value) > f.max {
			return invalid("%s %q exceeds %d characters", f.name, f.value, f.max)
		}
		for i := 0; i < len(f.value); i++ {
			if f.value[i] < 0x20 || f.value[i] > 0x7E {
				return invalid("%s must contain printable ASCII only", f.name)
			}
		}
	}

	// ------------------------------------------------------------
	// TRANSPORT + LOG
	// ------------------------------------------------------------

	if cfg.Transport.BusDir == "" {
		return invalid("transport.bus_dir must be set")
	}
	if _, err := pkg.ParseLogLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := pkg.ParseLogFormat(cfg.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", pkg.ErrInvalidParameter, fmt.Sprintf(format, args...))
}
