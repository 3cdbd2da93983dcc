// Package backup copies live cortex databases page by page with the
// engine's online backup object, and packs copies into verifiable
// compressed snapshot archives.
package backup

import (
	"context"
	"sync"
	"time"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/core/engine"
	"github.com/Nileshshinde09/cortex/core/errors"
)

// Backup is a running online backup from a source connection into a
// destination file. The source stays usable while the backup runs; writes
// made by other connections restart the copy.
type Backup struct {
	mu       sync.Mutex
	src      *cortex.Conn
	dstPath  string
	stepper  engine.Stepper
	release  func()
	total    int
	copied   int
	done     bool
	finished bool
}

// Init starts a backup of src into dstPath, which is created or
// overwritten. The source cannot be closed until Finish is called.
func Init(ctx context.Context, src *cortex.Conn, dstPath string) (*Backup, error) {
	if err := cortex.ValidatePath(dstPath); err != nil {
		return nil, err
	}
	if dstPath == src.Path() {
		return nil, errors.New("backup_init", errors.ERROR, "source and destination must be distinct")
	}
	total, err := pageCount(ctx, src)
	if err != nil {
		return nil, err
	}
	release, err := src.Hold("backup_init")
	if err != nil {
		return nil, err
	}

	var stepper engine.Stepper
	err = src.Raw(func(dc any) error {
		var initErr error
		stepper, initErr = engine.NewBackup(dc, dstPath)
		return initErr
	})
	if err != nil {
		release()
		return nil, err
	}
	return &Backup{
		src:     src,
		dstPath: dstPath,
		stepper: stepper,
		release: release,
		total:   total,
	}, nil
}

func pageCount(ctx context.Context, c *cortex.Conn) (int, error) {
	row, err := c.FetchOne(ctx, "PRAGMA page_count")
	if err != nil {
		return 0, err
	}
	n, _ := row["page_count"].(int64)
	return int(n), nil
}

// Step copies up to n pages; n < 0 copies everything that is left. done
// reports that the whole database has been copied. BUSY and LOCKED errors
// are transient and the step may be retried.
func (b *Backup) Step(n int) (done bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return false, errors.New("backup_step", errors.MISUSE, "backup is finished")
	}
	if b.done {
		return true, nil
	}
	err = b.src.Raw(func(any) error {
		var stepErr error
		done, stepErr = b.stepper.Step(n)
		return stepErr
	})
	if err != nil {
		return false, engine.Classify("backup_step", err)
	}
	switch {
	case done || n < 0:
		b.copied = b.total
	default:
		b.copied = min(b.copied+n, b.total)
	}
	b.done = done
	return done, nil
}

// Remaining returns the number of pages still to be copied as of the last
// Step.
func (b *Backup) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining, _, ok := b.progress(); ok {
		return remaining
	}
	return b.total - b.copied
}

// PageCount returns the number of pages in the source database.
func (b *Backup) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, total, ok := b.progress(); ok {
		return total
	}
	return b.total
}

func (b *Backup) progress() (remaining, total int, ok bool) {
	if b.finished {
		return 0, 0, false
	}
	b.src.Raw(func(any) error {
		remaining, total, ok = b.stepper.Progress()
		return nil
	})
	return remaining, total, ok && total > 0
}

// Finish releases the backup. It is safe to call more than once.
func (b *Backup) Finish() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return nil
	}
	b.finished = true
	err := b.src.Raw(func(any) error {
		return b.stepper.Finish()
	})
	b.release()
	if err != nil {
		return engine.Classify("backup_finish", err)
	}
	return nil
}

// Run backs src up into dstPath, copying pagesPerStep pages at a time and
// pausing for sleep between steps so other users of the source get a turn.
// Transient BUSY and LOCKED results are retried until ctx is done.
func Run(ctx context.Context, src *cortex.Conn, dstPath string, pagesPerStep int, sleep time.Duration) error {
	b, err := Init(ctx, src, dstPath)
	if err != nil {
		return err
	}
	if err := drive(ctx, b.Step, pagesPerStep, sleep); err != nil {
		b.Finish()
		return err
	}
	return b.Finish()
}

// drive calls step until it reports done, retrying transient errors.
func drive(ctx context.Context, step func(int) (bool, error), n int, sleep time.Duration) error {
	if n == 0 {
		n = -1
	}
	for {
		done, err := step(n)
		if done {
			return nil
		}
		if err != nil && !errors.Is(err, errors.ErrBusy) && !errors.Is(err, errors.ErrLocked) {
			return err
		}
		pause := sleep
		if err != nil && pause == 0 {
			pause = 10 * time.Millisecond
		}
		if pause == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
