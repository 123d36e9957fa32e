package disk

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ardnew/flashdisk/pkg"
)

// State is a snapshot of the translator's update state.
type State struct {
	Updating     bool      // Update mode entered; cleared only by restart
	StartBlock   uint32    // Block of the write that began the update
	Cursor       uint32    // Bytes committed to the partition so far
	LastActivity time.Time // Time of the last programmed write
}

// updateState is written only by the goroutine calling Write. Fields are
// atomic so the watchdog and State can read them concurrently.
type updateState struct {
	updating     atomic.Bool
	startBlock   atomic.Uint32
	cursor       atomic.Uint32
	lastActivity atomic.Int64 // Unix nanoseconds
}

func (s *updateState) snapshot() State {
	st := State{Updating: s.updating.Load()}
	if st.Updating {
		st.StartBlock = s.startBlock.Load()
		st.Cursor = s.cursor.Load()
		st.LastActivity = time.Unix(0, s.lastActivity.Load())
	}
	return st
}

// begin erases the partition and enters update mode at lba.
// On erase failure the state is left untouched.
func (t *Translator) begin(lba uint32) error {
	pkg.LogInfo(pkg.ComponentUpdate, "firmware image detected",
		"lba", lba,
		"partition", t.info.Name)

	start := t.clock.Now()
	if err := t.part.Erase(0, t.info.Size); err != nil {
		pkg.LogError(pkg.ComponentUpdate, "partition erase failed",
			"partition", t.info.Name,
			"error", err)
		if !errors.Is(err, pkg.ErrEraseFailed) {
			err = fmt.Errorf("%w: %w", pkg.ErrEraseFailed, err)
		}
		return fmt.Errorf("erase %s: %w", t.info.Name, err)
	}

	now := t.clock.Now()
	t.state.startBlock.Store(lba)
	t.state.cursor.Store(0)
	t.state.lastActivity.Store(now.UnixNano())
	t.state.updating.Store(true)

	pkg.LogInfo(pkg.ComponentUpdate, "update started",
		"startBlock", lba,
		"erase", now.Sub(start))

	return nil
}

// program writes data at the cursor, or drops it when lba precedes the
// block that began the update.
func (t *Translator) program(lba uint32, data []byte) (int, error) {
	start := t.state.startBlock.Load()
	if lba < start {
		pkg.LogDebug(pkg.ComponentUpdate, "stale write dropped",
			"lba", lba,
			"startBlock", start,
			"len", len(data))
		return len(data), nil
	}

	cursor := t.state.cursor.Load()
	n, err := t.part.Program(cursor, data)
	if n < 0 {
		n = 0
	}
	if n > len(data) {
		n = len(data)
	}
	t.state.cursor.Store(cursor + uint32(n))
	t.state.lastActivity.Store(t.clock.Now().UnixNano())

	if err == nil && n < len(data) {
		err = pkg.ErrShortProgram
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentUpdate, "partition program failed",
			"cursor", cursor,
			"requested", len(data),
			"committed", n,
			"error", err)
		// Partition range errors here mean the image outgrew the
		// partition, not that the request was out of range.
		if !errors.Is(err, pkg.ErrProgramFailed) {
			err = fmt.Errorf("%w: %w", pkg.ErrProgramFailed, err)
		}
		return n, fmt.Errorf("program %d bytes at %#x: %w", len(data), cursor, err)
	}

	pkg.LogDebug(pkg.ComponentUpdate, "programmed",
		"lba", lba,
		"cursor", cursor+uint32(n))

	return n, nil
}
