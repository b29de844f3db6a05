package pose

import (
	"testing"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/xrdesk/xrbridge/internal/telemetry"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func frame(orientation quat.Number, fov float32) telemetry.Frame {
	return telemetry.Frame{
		Version:           telemetry.ExpectedVersion,
		Enabled:           true,
		DiagonalFOV:       fov,
		DisplayResolution: [2]uint32{1920, 1080},
		PoseDateMs:        uint64(t0.UnixMilli()),
		PoseOrientation:   [2]quat.Number{orientation, orientation},
		ElapsedMs:         4,
		PosePosition:      telemetry.Vec3{X: 1},
	}
}

var tilted = quat.Number{Real: 0.9, Imag: 0.1, Jmag: 0.3, Kmag: 0.3}

func TestTracker_ConfigCadence(t *testing.T) {
	tr := NewTracker(0)

	u := tr.Update(frame(tilted, 46), t0)
	if !u.ConfigRefreshed || !u.ConfigChanged {
		t.Fatalf("first update = %+v, want refreshed and changed", u)
	}

	// Within the interval the new FOV is ignored.
	u = tr.Update(frame(tilted, 52), t0.Add(500*time.Millisecond))
	if u.ConfigRefreshed {
		t.Errorf("refreshed within interval: %+v", u)
	}
	if cfg, _ := tr.Device(); cfg.DiagonalFOV != 46 {
		t.Errorf("FOV = %v, want 46 until the next refresh", cfg.DiagonalFOV)
	}

	u = tr.Update(frame(tilted, 52), t0.Add(1000*time.Millisecond))
	if !u.ConfigRefreshed || !u.ConfigChanged {
		t.Errorf("update at interval = %+v, want refreshed and changed", u)
	}

	// A refresh with identical values is not a change.
	u = tr.Update(frame(tilted, 52), t0.Add(2100*time.Millisecond))
	if !u.ConfigRefreshed || u.ConfigChanged {
		t.Errorf("identical refresh = %+v, want refreshed but unchanged", u)
	}
}

func TestTracker_PoseUpdatesEveryFrame(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Update(frame(tilted, 46), t0)

	f := frame(telemetry.Identity, 46)
	f.PosePosition = telemetry.Vec3{X: 2, Y: 3}
	f.PoseDateMs += 10
	tr.Update(f, t0.Add(10*time.Millisecond))

	s := tr.Snapshot()
	if s.Orientation[0] != telemetry.Identity {
		t.Errorf("orientation not updated: %+v", s.Orientation[0])
	}
	if s.Position != f.PosePosition {
		t.Errorf("position = %+v, want %+v", s.Position, f.PosePosition)
	}
	if s.TimestampMs != f.PoseDateMs {
		t.Errorf("timestamp = %d, want %d", s.TimestampMs, f.PoseDateMs)
	}
	if s.ElapsedMs != 4 {
		t.Errorf("elapsed = %d, want 4", s.ElapsedMs)
	}
}

func TestTracker_ResetEdges(t *testing.T) {
	tr := NewTracker(time.Second)

	steps := []struct {
		q           quat.Number
		wantReset   bool
		wantEdge    bool
		wantCleared bool
	}{
		{tilted, false, false, false},
		{telemetry.Identity, true, true, false},
		{telemetry.Identity, true, false, false},
		{quat.Number{Real: 1, Jmag: 1e-7}, true, false, false},
		{tilted, false, false, true},
		{tilted, false, false, false},
		{telemetry.Identity, true, true, false},
	}
	for i, s := range steps {
		u := tr.Update(frame(s.q, 46), t0.Add(time.Duration(i)*time.Millisecond))
		if tr.Reset() != s.wantReset {
			t.Errorf("step %d: Reset() = %v, want %v", i, tr.Reset(), s.wantReset)
		}
		if u.ResetEdge != s.wantEdge || u.ResetCleared != s.wantCleared {
			t.Errorf("step %d: update = %+v, want edge=%v cleared=%v", i, u, s.wantEdge, s.wantCleared)
		}
		if u.ResetChanged() != (s.wantEdge || s.wantCleared) {
			t.Errorf("step %d: ResetChanged() = %v", i, u.ResetChanged())
		}
	}
}

func TestTracker_DeviceBeforeFirstFrame(t *testing.T) {
	tr := NewTracker(time.Second)
	if _, ok := tr.Device(); ok {
		t.Error("Device() reported a config before any frame")
	}
}
