// Command flashdisk emulates a USB flash drive that updates device firmware
// from an image copied onto it.
//
// Usage:
//
//	flashdisk serve [--config file]        run the device on a FIFO bus
//	flashdisk push <image> [--bus-dir dir] copy a firmware image to the device
//	flashdisk image --out file             dump the disk as the host sees it
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/flashdisk/internal/config"
	"github.com/ardnew/flashdisk/pkg"
)

const component = pkg.ComponentDisk

// options shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
	jsonLog    bool
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:           "flashdisk",
		Short:         "USB mass-storage firmware update device",
		Long:          "Serve a small FAT12 volume over USB mass storage and program any firmware image copied onto it into a flash partition",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.jsonLog, "json", false, "use JSON log format")

	root.AddCommand(
		serveCommand(&opts),
		pushCommand(&opts),
		imageCommand(&opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flashdisk:", err)
		os.Exit(1)
	}
}

// load reads the configuration and applies its logging settings, with
// command-line flags taking precedence.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	level, _ := pkg.ParseLogLevel(cfg.Log.Level)
	format, _ := pkg.ParseLogFormat(cfg.Log.Format)
	if o.verbose {
		level = slog.LevelDebug
	}
	if o.jsonLog {
		format = pkg.LogFormatJSON
	}
	pkg.SetLogFormat(format)
	pkg.SetLogLevel(level)

	return cfg, nil
}
