//go:build unix

package disk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ardnew/flashdisk/pkg"
)

// ExecRestarter restarts by replacing the running process with a fresh
// instance of the same executable. All in-memory state, including the
// volume image and update state, is discarded.
type ExecRestarter struct {
	// Path of the executable. Empty means os.Executable.
	Path string
	// Args passed to the new process. Nil means os.Args.
	Args []string
	// Before runs ahead of the exec, typically to flush the partition.
	Before func() error
}

// Restart execs the new process. It returns only on failure.
func (r ExecRestarter) Restart(reason string) error {
	path := r.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrCommandFailed, err)
		}
		path = exe
	}
	args := r.Args
	if args == nil {
		args = os.Args
	}

	if r.Before != nil {
		if err := r.Before(); err != nil {
			pkg.LogWarn(pkg.ComponentWatchdog, "pre-restart hook failed",
				"error", err)
		}
	}

	pkg.LogInfo(pkg.ComponentWatchdog, "restarting",
		"reason", reason,
		"path", path)

	if err := unix.Exec(path, args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w: %w", path, pkg.ErrCommandFailed, err)
	}
	return nil
}
