package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/flashdisk/disk"
	"github.com/ardnew/flashdisk/internal/config"
)

func imageCommand(opts *options) *cobra.Command {
	var (
		out        string
		volumeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "image --out <file>",
		Short: "Dump the disk as the host sees it",
		Long:  "Read every block through the translator and write a raw disk image, suitable for inspection with mtools or a loop mount",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return dumpImage(cfg, out, volumeOnly)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output image file")
	cmd.Flags().BoolVar(&volumeOnly, "volume-only", false, "dump only the in-memory volume blocks")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func dumpImage(cfg *config.Config, out string, volumeOnly bool) error {
	part, t, err := openDisk(cfg)
	if err != nil {
		return err
	}
	defer part.Close()

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeBlocks(bufio.NewWriter(f), t, volumeOnly, cfg.Volume.Blocks); err != nil {
		return err
	}
	return f.Sync()
}

func writeBlocks(w *bufio.Writer, t *disk.Translator, volumeOnly bool, volumeBlocks uint32) error {
	blocks, size := t.Capacity()
	if volumeOnly {
		blocks = volumeBlocks
	}

	buf := make([]byte, size)
	for lba := uint32(0); lba < blocks; lba++ {
		if _, err := t.Read(lba, 0, buf); err != nil {
			return fmt.Errorf("read block %d: %w", lba, err)
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("wrote %d blocks of %d bytes\n", blocks, size)
	return nil
}
