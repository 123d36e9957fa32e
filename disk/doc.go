// Package disk implements the virtual block device behind the mass-storage
// transport.
//
// A [Translator] answers capacity, inquiry, read and write requests. The
// low blocks of the device are a small FAT12 volume held in memory so the
// host can mount it; the remaining blocks address the flash partition.
//
// # Updates
//
// When a write arrives whose first byte matches the configured [Trigger],
// the translator erases the whole partition and enters update mode. From
// then on every write at or after the triggering block is programmed at a
// sequential write cursor, and writes below it are acknowledged without
// effect. Update mode is left only by restarting the process.
//
// A [Watchdog] observes the time of the last programmed write and calls
// its [Restarter] once the update has been idle for longer than the
// threshold:
//
//	t, _ := disk.New(part, image, disk.Config{})
//	w := disk.NewWatchdog(t, disk.ExecRestarter{}, disk.WatchdogConfig{})
//	go w.Run(ctx)
package disk
