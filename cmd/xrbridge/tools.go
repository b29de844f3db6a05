package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/xrdesk/xrbridge/internal/capture"
	"github.com/xrdesk/xrbridge/internal/chart"
	"github.com/xrdesk/xrbridge/internal/driveripc"
	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/mockdevice"
	"github.com/xrdesk/xrbridge/internal/telemetry"
	"github.com/xrdesk/xrbridge/internal/timeutil"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMock(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mock", stderr)
	path := fs.String("telemetry", telemetry.DefaultPath, "Shared telemetry buffer to write")
	interval := fs.Duration("interval", mockdevice.DefaultInterval, "Time between frames")
	period := fs.Duration("period", mockdevice.DefaultPeriod, "Length of one yaw sweep")
	sweep := fs.Float64("sweep", mockdevice.DefaultSweep, "Yaw amplitude in degrees")
	resetFor := fs.Duration("reset-for", time.Second, "Publish the identity pose for this long first")
	disabled := fs.Bool("disabled", false, "Clear the enabled flag in every frame")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	ctx, stop := signalContext()
	defer stop()

	if err := os.MkdirAll(filepath.Dir(*path), 0o755); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	dev := mockdevice.New(mockdevice.Options{
		Path:     *path,
		Interval: *interval,
		Period:   *period,
		Sweep:    *sweep,
		ResetFor: *resetFor,
	})
	dev.SetEnabled(!*disabled)
	if err := dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %d frames to %s\n", dev.Written(), *path)
	return 0
}

func runCapture(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("capture", stderr)
	path := fs.String("telemetry", telemetry.DefaultPath, "Shared telemetry buffer to read")
	dir := fs.StringP("output-dir", "o", "captures", "Directory for the capture file")
	interval := fs.Duration("interval", 5*time.Millisecond, "Poll interval")
	duration := fs.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	ctx, stop := signalContext()
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	clock := timeutil.RealClock{}
	w, out, err := capture.Create(*dir, clock.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	n, err := captureLoop(ctx, fsutil.OSFileSystem{}, clock, *path, *interval, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, dupes := w.Stats()
	fmt.Fprintf(stdout, "%s: %d frames (%d repeats skipped)\n", out, n, dupes)
	return 0
}

// captureLoop polls path and hands every complete buffer to w until ctx is
// done. It returns the number of frames written. Buffers of the wrong
// length are torn reads and are skipped.
func captureLoop(ctx context.Context, fsys fsutil.FileSystem, clock timeutil.Clock, path string, interval time.Duration, w *capture.Writer) (uint64, error) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			frames, _ := w.Stats()
			return frames, nil
		case now := <-ticker.C():
			raw, err := fsys.ReadFileLimit(path, capture.MaxRecordSize)
			if err != nil || len(raw) != telemetry.Length {
				continue
			}
			if err := w.WriteFrame(now, raw); err != nil {
				frames, _ := w.Stats()
				return frames, err
			}
		}
	}
}

func runReplay(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("replay", stderr)
	path := fs.String("telemetry", telemetry.DefaultPath, "Shared telemetry buffer to write")
	speed := fs.Float64("speed", 1, "Playback speed multiplier")
	offline := fs.Bool("offline", false, "Run the capture through the effect engine and print a summary")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: xrbridge replay [--offline] [--speed N] [--telemetry PATH] FILE")
		return 2
	}

	r, err := capture.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer r.Close()

	ctx, stop := signalContext()
	defer stop()

	if *offline {
		st, err := replayOffline(ctx, r)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		c := st.Counters
		fmt.Fprintf(stdout, "accepted=%d rejected=%d no_data=%d recenters=%d\n", c.Accepted, c.Rejected, c.NoData, c.Recenters)
		fmt.Fprintf(stdout, "final: state=%s reset=%t yaw=%.1f pitch=%.1f roll=%.1f\n",
			st.Activation.State, st.Pose.Reset, st.Pose.Euler.Yaw, st.Pose.Euler.Pitch, st.Pose.Euler.Roll)
		if st.LastReject != "" {
			fmt.Fprintf(stdout, "last reject: %s\n", st.LastReject)
		}
		return 0
	}

	if err := os.MkdirAll(filepath.Dir(*path), 0o755); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	n, err := capture.Play(ctx, r, fsutil.OSFileSystem{}, *path, *speed)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "played %d frames into %s\n", n, *path)
	return 0
}

// replayOffline runs one engine pass per record against an in-memory
// buffer and a clock pinned to the record time.
func replayOffline(ctx context.Context, r *capture.Reader) (effect.Status, error) {
	const path = "/replay/telemetry"
	fsys := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(r.Header().StartedAt)
	engine := effect.NewEngine(effect.Options{Path: path, FS: fsys, Clock: clock, Bridge: dryRunBridge{}})

	_, err := capture.Replay(ctx, r, fsys, path, clock, func(capture.Record) {
		engine.Process(ctx)
	})
	if err != nil {
		return effect.Status{}, err
	}
	return engine.Status(), nil
}

// dryRunBridge accepts control flags without a driver, so an offline
// replay counts the recenters a live run would have requested.
type dryRunBridge struct{ driveripc.DisabledBridge }

func (dryRunBridge) WriteControlFlags(context.Context, map[string]any) bool { return true }

func runPlot(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("plot", stderr)
	out := fs.StringP("output", "o", "", "Output file; .png or .html (default: capture name + .png)")
	title := fs.String("title", "", "Chart title (default: capture session)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: xrbridge plot [-o out.png|out.html] FILE")
		return 2
	}

	in := fs.Arg(0)
	r, err := capture.Open(in)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer r.Close()
	records, err := r.ReadAll()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	samples, skipped := chart.FromCapture(records)

	if *title == "" {
		h := r.Header()
		*title = fmt.Sprintf("Capture %s (%s)", h.Session, h.StartedAt.Format(time.RFC3339))
	}
	if *out == "" {
		*out = strings.TrimSuffix(in, capture.Extension) + ".png"
	}

	switch filepath.Ext(*out) {
	case ".html":
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		err = chart.RenderHTML(f, samples, *title)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case ".png":
		if err := chart.SavePNG(samples, *title, *out); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(stderr, "Error: unsupported output type %q (want .png or .html)\n", filepath.Ext(*out))
		return 2
	}
	fmt.Fprintf(stdout, "%s: %d samples, %d unreadable records skipped\n", *out, len(samples), skipped)
	return 0
}
