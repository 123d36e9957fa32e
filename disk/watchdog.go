package disk

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardnew/flashdisk/pkg"
)

// Default watchdog timing.
const (
	DefaultIdleThreshold = 1000 * time.Millisecond
	DefaultPollInterval  = 50 * time.Millisecond
)

// Activity is the update state observed by a [Watchdog].
type Activity interface {
	Updating() bool
	LastActivity() time.Time
}

// WatchdogConfig configures a Watchdog. Zero fields take defaults.
type WatchdogConfig struct {
	Threshold time.Duration
	Interval  time.Duration
	Clock     Clock
}

// watchdog states
const (
	watchWaiting int32 = iota
	watchArmed
	watchFired
)

// Watchdog restarts the device once an update has been idle longer than
// the threshold. It only reads the activity source and never touches the
// partition.
type Watchdog struct {
	src       Activity
	restarter Restarter
	threshold time.Duration
	interval  time.Duration
	clock     Clock

	state   atomic.Int32
	running atomic.Bool
}

// NewWatchdog creates a watchdog observing src.
func NewWatchdog(src Activity, r Restarter, cfg WatchdogConfig) *Watchdog {
	w := &Watchdog{
		src:       src,
		restarter: r,
		threshold: cfg.Threshold,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
	}
	if w.threshold <= 0 {
		w.threshold = DefaultIdleThreshold
	}
	if w.interval <= 0 {
		w.interval = DefaultPollInterval
	}
	if w.clock == nil {
		w.clock = SystemClock{}
	}
	return w
}

// Fired reports whether the restart has been issued.
func (w *Watchdog) Fired() bool {
	return w.state.Load() == watchFired
}

// Check runs a single poll and reports whether it issued the restart.
// The restart is issued at most once over the watchdog's lifetime.
func (w *Watchdog) Check() bool {
	if w.state.Load() == watchFired || !w.src.Updating() {
		return false
	}

	if w.state.CompareAndSwap(watchWaiting, watchArmed) {
		pkg.LogInfo(pkg.ComponentWatchdog, "armed",
			"threshold", w.threshold)
	}

	idle := w.clock.Now().Sub(w.src.LastActivity())
	if idle <= w.threshold {
		return false
	}
	if !w.state.CompareAndSwap(watchArmed, watchFired) {
		return false
	}

	pkg.LogInfo(pkg.ComponentWatchdog, "update idle, restarting",
		"idle", idle)
	if err := w.restarter.Restart("update complete"); err != nil {
		pkg.LogError(pkg.ComponentWatchdog, "restart failed",
			"error", err)
	}
	return true
}

// Run polls until the restart is issued or ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pkg.LogDebug(pkg.ComponentWatchdog, "started",
		"interval", w.interval,
		"threshold", w.threshold)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.Check() {
				return nil
			}
		}
	}
}
