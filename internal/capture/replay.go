package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/timeutil"
)

// Replay writes each record to path on fsys, sets clock to the record time
// and calls step. It returns the number of records replayed.
func Replay(ctx context.Context, r *Reader, fsys fsutil.FileSystem, path string, clock *timeutil.MockClock, step func(Record)) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := fsys.WriteFileAtomic(path, rec.Raw, 0o644); err != nil {
			return n, err
		}
		clock.Set(rec.At)
		step(rec)
		n++
	}
}

// Play rewrites the capture into path with its original pacing divided
// by speed, so a running server sees the frames as if a device produced
// them. Frame timestamps inside the records are not altered.
func Play(ctx context.Context, r *Reader, fsys fsutil.FileSystem, path string, speed float64) (int, error) {
	if speed <= 0 {
		speed = 1
	}
	var prev time.Time
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if !prev.IsZero() {
			if wait := time.Duration(float64(rec.At.Sub(prev)) / speed); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return n, ctx.Err()
				case <-t.C:
				}
			}
		}
		prev = rec.At
		if err := fsys.WriteFileAtomic(path, rec.Raw, 0o644); err != nil {
			return n, err
		}
		n++
	}
}
