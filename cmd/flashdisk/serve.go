package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ardnew/flashdisk/disk"
	"github.com/ardnew/flashdisk/internal/config"
	"github.com/ardnew/flashdisk/msc"
	"github.com/ardnew/flashdisk/partition"
	"github.com/ardnew/flashdisk/pkg"
	"github.com/ardnew/flashdisk/transport/fifo"
	"github.com/ardnew/flashdisk/volume"
)

func serveCommand(opts *options) *cobra.Command {
	var (
		busDir    string
		noRestart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mass-storage device on a FIFO bus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if busDir != "" {
				cfg.Transport.BusDir = busDir
			}
			return serve(cmd.Context(), cfg, noRestart)
		},
	}
	cmd.Flags().StringVar(&busDir, "bus-dir", "", "FIFO bus directory (overrides transport.bus_dir)")
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, "exit instead of re-executing when an update completes")

	return cmd
}

// openDisk opens the partition file and builds the translator over a fresh
// volume image.
func openDisk(cfg *config.Config) (*partition.FilePartition, *disk.Translator, error) {
	part, err := partition.OpenFile(cfg.Partition.Path, cfg.Partition.Name,
		cfg.Partition.Size, cfg.Partition.SectorSize)
	if err != nil {
		return nil, nil, err
	}

	image, err := volume.New(cfg.Template())
	if err != nil {
		part.Close()
		return nil, nil, err
	}

	t, err := disk.New(part, image, cfg.Translator())
	if err != nil {
		part.Close()
		return nil, nil, err
	}
	return part, t, nil
}

func serve(parent context.Context, cfg *config.Config, noRestart bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	part, t, err := openDisk(cfg)
	if err != nil {
		return err
	}
	defer part.Close()

	if _, err := t.Diagnose(64); err != nil {
		pkg.LogWarn(component, "partition diagnostics unavailable",
			"error", err)
	}

	dev, err := fifo.Listen(cfg.Transport.BusDir)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var restarter disk.Restarter = disk.ExecRestarter{
		Before: func() error {
			dev.Close()
			return part.Sync()
		},
	}
	if noRestart {
		restarter = disk.FuncRestarter(func(reason string) error {
			pkg.LogInfo(component, "update finished, exiting",
				"reason", reason)
			cancel()
			return nil
		})
	}

	watchdog := disk.NewWatchdog(t, restarter, cfg.Watchdog())
	go watchdog.Run(ctx)

	pkg.LogInfo(component, "device ready",
		"deviceDir", dev.Dir(),
		"partition", cfg.Partition.Path)

	err = msc.New(dev, t).Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, pkg.ErrCancelled) {
		if st := t.State(); st.Updating {
			pkg.LogInfo(component, "stopped during update",
				"startBlock", st.StartBlock,
				"cursor", st.Cursor)
		}
		return part.Sync()
	}
	return err
}
