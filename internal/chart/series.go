// Package chart plots head orientation over time, either from the live
// event hub or from a telemetry capture.
package chart

import (
	"context"
	"sync"
	"time"

	"github.com/xrdesk/xrbridge/internal/capture"
	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/telemetry"
)

// DefaultCapacity is the number of samples a Recorder keeps, about a
// minute of poses at 50 Hz.
const DefaultCapacity = 3000

// Sample is one orientation reading in degrees.
type Sample struct {
	At    time.Time
	Euler telemetry.Euler
}

// Recorder keeps the most recent pose samples in a ring buffer.
type Recorder struct {
	mu    sync.Mutex
	buf   []Sample
	next  int
	full  bool
	total uint64
}

// NewRecorder returns a Recorder holding up to capacity samples.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]Sample, capacity)}
}

// Add records a sample, evicting the oldest when full.
func (r *Recorder) Add(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Samples returns the buffered samples oldest first.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Sample(nil), r.buf[:r.next]...)
	}
	out := make([]Sample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Total returns how many samples were ever added.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Run records every PoseUpdated event from hub until ctx is done or the
// hub closes.
func (r *Recorder) Run(ctx context.Context, hub *effect.Hub) {
	id, events := hub.Subscribe()
	defer hub.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != effect.PoseUpdated || ev.Pose == nil {
				continue
			}
			r.Add(Sample{At: ev.At, Euler: ev.Pose.Euler})
		}
	}
}

// FromCapture decodes capture records into samples, skipping records that
// fail the size or parity check. It returns the number skipped.
func FromCapture(records []capture.Record) ([]Sample, int) {
	out := make([]Sample, 0, len(records))
	skipped := 0
	for _, rec := range records {
		f, err := telemetry.DecodeRaw(rec.Raw)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, Sample{At: rec.At, Euler: telemetry.ToEuler(f.PoseOrientation[0])})
	}
	return out, skipped
}
