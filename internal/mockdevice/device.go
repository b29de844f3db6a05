// Package mockdevice publishes synthetic telemetry frames so the daemon can
// run without glasses attached.
package mockdevice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/telemetry"
	"github.com/xrdesk/xrbridge/internal/timeutil"
)

// Defaults for Options.
const (
	DefaultInterval = 16 * time.Millisecond
	DefaultPeriod   = 8 * time.Second
	DefaultSweep    = 30.0
)

// Options configures a Device.
type Options struct {
	Path  string
	FS    fsutil.FileSystem
	Clock timeutil.Clock

	// Interval between published frames.
	Interval time.Duration
	// Period of one full yaw sweep; pitch runs at half the rate.
	Period time.Duration
	// Sweep is the yaw amplitude in degrees. Pitch uses a third of it.
	Sweep float64
	// ResetFor publishes the identity orientation for this long after start,
	// the way real glasses report a reset while calibrating.
	ResetFor time.Duration

	Version    uint8
	Resolution [2]uint32
	FOV        float32
}

// Device writes a moving head pose to a telemetry file.
type Device struct {
	opts  Options
	start time.Time

	mu      sync.Mutex
	enabled bool
	written uint64
}

// New returns a Device. Zero options take the package defaults.
func New(opts Options) *Device {
	if opts.Path == "" {
		opts.Path = telemetry.DefaultPath
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Sweep == 0 {
		opts.Sweep = DefaultSweep
	}
	if opts.Version == 0 {
		opts.Version = telemetry.ExpectedVersion
	}
	if opts.Resolution == [2]uint32{} {
		opts.Resolution = [2]uint32{1920, 1080}
	}
	if opts.FOV == 0 {
		opts.FOV = 46
	}
	return &Device{opts: opts, start: opts.Clock.Now(), enabled: true}
}

// SetEnabled sets the enabled flag carried by subsequent frames.
func (d *Device) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Written returns the number of frames published.
func (d *Device) Written() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Orientation returns the synthetic head rotation at now.
func (d *Device) Orientation(now time.Time) quat.Number {
	t := now.Sub(d.start)
	if t < d.opts.ResetFor {
		return telemetry.Identity
	}
	phase := 2 * math.Pi * float64(t-d.opts.ResetFor) / float64(d.opts.Period)
	yaw := d.opts.Sweep * math.Sin(phase) * math.Pi / 180
	pitch := d.opts.Sweep / 3 * math.Sin(phase/2) * math.Pi / 180

	// Yaw about Up (Y), then pitch about East (X).
	qYaw := quat.Number{Real: math.Cos(yaw / 2), Jmag: math.Sin(yaw / 2)}
	qPitch := quat.Number{Real: math.Cos(pitch / 2), Imag: math.Sin(pitch / 2)}
	return quat.Mul(qYaw, qPitch)
}

// Frame builds the frame published at now.
func (d *Device) Frame(now time.Time) telemetry.Frame {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()

	prev := now.Add(-d.opts.Interval)
	ms := func(t time.Time) float32 { return float32(t.Sub(d.start).Milliseconds()) }
	return telemetry.Frame{
		Version:            d.opts.Version,
		Enabled:            enabled,
		LookAheadConfig:    [4]float32{10, 1.25, 20, 0},
		DisplayResolution:  d.opts.Resolution,
		DiagonalFOV:        d.opts.FOV,
		LensDistanceRatio:  0.035,
		SmoothFollowOrigin: [2]quat.Number{telemetry.Identity, telemetry.Identity},
		PoseDateMs:         uint64(now.UnixMilli()),
		PoseOrientation:    [2]quat.Number{d.Orientation(now), d.Orientation(prev)},
		SampleTimestampsMs: [3]float32{ms(now), ms(prev), ms(prev.Add(-d.opts.Interval))},
	}
}

// WriteOnce publishes the frame for now.
func (d *Device) WriteOnce(now time.Time) error {
	buf := telemetry.Encode(d.Frame(now))
	if err := d.opts.FS.WriteFileAtomic(d.opts.Path, buf, 0o644); err != nil {
		return fmt.Errorf("mockdevice: write %s: %w", d.opts.Path, err)
	}
	d.mu.Lock()
	d.written++
	d.mu.Unlock()
	return nil
}

// Run publishes a frame every Interval until ctx is done. Write failures
// are logged and retried on the next tick.
func (d *Device) Run(ctx context.Context) error {
	if err := d.WriteOnce(d.opts.Clock.Now()); err != nil {
		return err
	}
	ticker := d.opts.Clock.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	monitoring.Logf("[mockdevice] publishing to %s every %v", d.opts.Path, d.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			if err := d.WriteOnce(now); err != nil {
				monitoring.Logf("[mockdevice] %v", err)
			}
		}
	}
}
