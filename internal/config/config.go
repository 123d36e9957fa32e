// Package config loads the YAML configuration of a flashdisk device.
//
// A file only needs the fields it overrides; everything else keeps the
// values returned by [Default].
package config

import (
	"time"

	"github.com/ardnew/flashdisk/disk"
	"github.com/ardnew/flashdisk/partition"
	"github.com/ardnew/flashdisk/volume"
)

// Config is the complete device configuration.
type Config struct {
	Partition PartitionConfig `yaml:"partition"`
	Volume    VolumeConfig    `yaml:"volume"`
	Update    UpdateConfig    `yaml:"update"`
	Inquiry   InquiryConfig   `yaml:"inquiry"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// PartitionConfig describes the flash partition receiving updates.
type PartitionConfig struct {
	Path       string `yaml:"path"` // flash image file
	Name       string `yaml:"name"`
	Size       uint32 `yaml:"size"`
	SectorSize uint32 `yaml:"sector_size"`
}

// VolumeConfig describes the FAT12 volume served from memory.
type VolumeConfig struct {
	Blocks    uint32 `yaml:"blocks"`
	BlockSize uint32 `yaml:"block_size"`
	Label     string `yaml:"label"`
	Readme    string `yaml:"readme"`
}

// UpdateConfig controls update detection and the idle watchdog.
type UpdateConfig struct {
	Magic          uint8         `yaml:"magic"`
	IdleThreshold  time.Duration `yaml:"idle_threshold"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ValidateHeader bool          `yaml:"validate_header"` // also check the image header
}

// InquiryConfig holds the SCSI INQUIRY strings (8, 16 and 4 characters at most).
type InquiryConfig struct {
	Vendor   string `yaml:"vendor"`
	Product  string `yaml:"product"`
	Revision string `yaml:"revision"`
}

// TransportConfig locates the FIFO bus shared by serve and push.
type TransportConfig struct {
	BusDir string `yaml:"bus_dir"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration of the stock device: a 1 MiB
// partition behind a 50-block FAT12 volume, updated on 0xE9 and finalized
// after one idle second.
func Default() *Config {
	return &Config{
		Partition: PartitionConfig{
			Path:       "flashdisk.img",
			Name:       "storage",
			Size:       0x100000,
			SectorSize: partition.DefaultSectorSize,
		},
		Volume: VolumeConfig{
			Blocks:    volume.DefaultBlockCount,
			BlockSize: volume.DefaultBlockSize,
			Label:     volume.DefaultLabel,
			Readme:    volume.DefaultReadme,
		},
		Update: UpdateConfig{
			Magic:         disk.DefaultMagic,
			IdleThreshold: disk.DefaultIdleThreshold,
			PollInterval:  disk.DefaultPollInterval,
		},
		Inquiry: InquiryConfig{
			Vendor:   disk.DefaultVendor,
			Product:  disk.DefaultProduct,
			Revision: disk.DefaultRevision,
		},
		Transport: TransportConfig{
			BusDir: "/tmp/flashdisk",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Template returns the volume template described by the configuration.
func (c *Config) Template() volume.Template {
	t := volume.DefaultTemplate()
	t.BlockSize = c.Volume.BlockSize
	t.BlockCount = c.Volume.Blocks
	t.Label = c.Volume.Label
	t.Readme = c.Volume.Readme
	return t
}

// Translator returns the translator configuration.
func (c *Config) Translator() disk.Config {
	trigger := disk.MagicTrigger(c.Update.Magic)
	if c.Update.ValidateHeader {
		trigger = disk.ImageHeaderTrigger(c.Update.Magic)
	}
	return disk.Config{
		Identity: disk.Identity{
			Vendor:   c.Inquiry.Vendor,
			Product:  c.Inquiry.Product,
			Revision: c.Inquiry.Revision,
		},
		Trigger: trigger,
	}
}

// Watchdog returns the watchdog timing.
func (c *Config) Watchdog() disk.WatchdogConfig {
	return disk.WatchdogConfig{
		Threshold: c.Update.IdleThreshold,
		Interval:  c.Update.PollInterval,
	}
}
