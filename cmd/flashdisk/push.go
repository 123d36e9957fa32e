package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/flashdisk/msc"
	"github.com/ardnew/flashdisk/pkg"
	"github.com/ardnew/flashdisk/transport/fifo"
)

func pushCommand(opts *options) *cobra.Command {
	var (
		busDir  string
		lba     int64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push <image>",
		Short: "Copy a firmware image to a running device",
		Long:  "Write a firmware image to the device's data region as a host filesystem driver would, starting at the first block past the volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if busDir == "" {
				busDir = cfg.Transport.BusDir
			}
			start, err := startBlock(lba, cfg.Volume.Blocks)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("%s: %w", args[0], pkg.ErrZeroLength)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return push(ctx, busDir, start, data)
		},
	}
	cmd.Flags().StringVar(&busDir, "bus-dir", "", "FIFO bus directory (overrides transport.bus_dir)")
	cmd.Flags().Int64Var(&lba, "lba", -1, "first block to write (default: first block past the volume)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall transfer timeout")

	return cmd
}

// startBlock resolves the --lba flag; a negative value selects the first
// block past the volume.
func startBlock(lba int64, volumeBlocks uint32) (uint32, error) {
	switch {
	case lba < 0:
		return volumeBlocks, nil
	case lba > math.MaxUint32:
		return 0, fmt.Errorf("lba %d: %w", lba, pkg.ErrInvalidLBA)
	}
	return uint32(lba), nil
}

func push(ctx context.Context, busDir string, lba uint32, data []byte) error {
	host, err := fifo.Dial(ctx, busDir)
	if err != nil {
		return err
	}
	defer host.Close()

	c := msc.NewClient(host)
	if err := c.TestUnitReady(ctx); err != nil {
		return err
	}

	inq, err := c.Inquiry(ctx)
	if err != nil {
		return err
	}
	blocks, size, err := c.ReadCapacity(ctx)
	if err != nil {
		return err
	}

	need := (uint64(len(data)) + uint64(size) - 1) / uint64(size)
	if uint64(lba)+need > uint64(blocks) {
		return fmt.Errorf("image of %d bytes at block %d exceeds %d blocks: %w",
			len(data), lba, blocks, pkg.ErrOutOfRange)
	}

	pkg.LogInfo(component, "pushing image",
		"device", inq.Vendor()+" "+inq.Product(),
		"bytes", len(data),
		"lba", lba,
		"blocks", need)

	start := time.Now()
	if err := c.WriteBlocks(ctx, lba, data); err != nil {
		return err
	}
	if err := c.SynchronizeCache(ctx); err != nil {
		return err
	}

	fmt.Printf("wrote %d bytes to %s in %s\n", len(data), host.Dir(), time.Since(start).Round(time.Millisecond))
	return nil
}
