package effect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xrdesk/xrbridge/internal/driveripc"
	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/screens"
	"github.com/xrdesk/xrbridge/internal/smoothfollow"
	"github.com/xrdesk/xrbridge/internal/telemetry"
	"github.com/xrdesk/xrbridge/internal/testutil"
	"github.com/xrdesk/xrbridge/internal/timeutil"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

const testPath = "/dev/shm/breezy_desktop_imu"

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeBridge struct {
	driveripc.DisabledBridge

	mu      sync.Mutex
	flags   []map[string]any
	configs []map[string]any
	fail    bool
}

func (b *fakeBridge) WriteControlFlags(_ context.Context, flags map[string]any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return false
	}
	b.flags = append(b.flags, flags)
	return true
}

func (b *fakeBridge) WriteConfig(_ context.Context, update map[string]any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configs = append(b.configs, update)
	return !b.fail
}

func (b *fakeBridge) recenters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.flags {
		if f[driveripc.FlagRecenterScreen] == true {
			n++
		}
	}
	return n
}

type fakeHistory struct {
	activations []bool
	recenters   []string
}

func (h *fakeHistory) RecordActivation(_ context.Context, enabled bool, _ time.Time) error {
	h.activations = append(h.activations, enabled)
	return nil
}

func (h *fakeHistory) RecordRecenter(_ context.Context, source string, _ time.Time) error {
	h.recenters = append(h.recenters, source)
	return nil
}

type harness struct {
	engine  *Engine
	fs      *fsutil.MemoryFileSystem
	clock   *timeutil.MockClock
	bridge  *fakeBridge
	history *fakeHistory
	events  <-chan Event
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		fs:      fsutil.NewMemoryFileSystem(),
		clock:   timeutil.NewMockClock(t0),
		bridge:  &fakeBridge{},
		history: &fakeHistory{},
	}
	opts := Options{
		Path:    testPath,
		FS:      h.fs,
		Clock:   h.clock,
		Bridge:  h.bridge,
		Hub:     NewHub(256),
		History: h.history,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = NewEngine(opts)
	_, h.events = h.engine.Hub().Subscribe()
	return h
}

func (h *harness) write(t *testing.T, f telemetry.Frame) {
	t.Helper()
	if err := h.fs.WriteFile(testPath, telemetry.Encode(f), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(evs []Event) []Kind {
	out := make([]Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

func TestProcess_IdentityFrameRecentersOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, testutil.UsableFrame(t0, telemetry.Identity))

	if got := h.engine.Process(context.Background()); got != ProcessAccepted {
		t.Fatalf("first Process() = %v, want accepted", got)
	}
	st := h.engine.Status()
	if !st.Pose.Reset {
		t.Error("pose reset = false, want true")
	}
	if !st.Activation.Enabled {
		t.Error("activation enabled = false, want true")
	}

	// Same buffer again on the next poll.
	h.clock.Advance(250 * time.Millisecond)
	if got := h.engine.Process(context.Background()); got != ProcessAccepted {
		t.Fatalf("second Process() = %v, want accepted", got)
	}

	if got := h.bridge.recenters(); got != 1 {
		t.Errorf("recenter requests = %d, want 1", got)
	}
	if diff := cmp.Diff([]string{RecenterReset}, h.history.recenters); diff != "" {
		t.Errorf("recorded recenters mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true}, h.history.activations); diff != "" {
		t.Errorf("recorded activations mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_ResetEdgeFiresAgainAfterClearing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i, q := range []struct {
		identity bool
	}{{true}, {false}, {true}, {true}} {
		o := testutil.Tilted
		if q.identity {
			o = telemetry.Identity
		}
		h.write(t, testutil.UsableFrame(h.clock.Now(), o))
		if got := h.engine.Process(ctx); got != ProcessAccepted {
			t.Fatalf("pass %d: Process() = %v", i, got)
		}
		h.clock.Advance(100 * time.Millisecond)
	}
	if got := h.bridge.recenters(); got != 2 {
		t.Errorf("recenter requests = %d, want 2", got)
	}
}

func TestProcess_FirstPassEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))
	h.engine.Process(context.Background())

	want := []Kind{ActivationChanged, PoseUpdated, DevicePropertiesChanged}
	got := h.drain()
	if diff := cmp.Diff(want, kinds(got)); diff != "" {
		t.Fatalf("event kinds mismatch (-want +got):\n%s", diff)
	}
	if !got[0].Enabled {
		t.Error("ActivationChanged.Enabled = false, want true")
	}
	if got[2].Device == nil || got[2].Device.DisplayResolution != [2]uint32{1920, 1080} {
		t.Errorf("DevicePropertiesChanged.Device = %+v", got[2].Device)
	}

	// A steady stream only reports the pose.
	h.clock.Advance(100 * time.Millisecond)
	h.write(t, testutil.UsableFrame(h.clock.Now(), testutil.Tilted))
	h.engine.Process(context.Background())
	if diff := cmp.Diff([]Kind{PoseUpdated}, kinds(h.drain())); diff != "" {
		t.Errorf("steady-state kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_StaleFrameHonoursGrace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))
	if got := h.engine.Process(ctx); got != ProcessAccepted {
		t.Fatalf("Process() = %v, want accepted", got)
	}
	h.drain()

	for _, offset := range []time.Duration{100, 500, 900} {
		now := t0.Add(offset * time.Millisecond)
		h.clock.Set(now)
		h.write(t, testutil.UsableFrame(now.Add(-6000*time.Millisecond), testutil.Tilted))
		if got := h.engine.Process(ctx); got != ProcessRejected {
			t.Fatalf("T+%dms: Process() = %v, want rejected", offset, got)
		}
		if !h.engine.Status().Activation.Enabled {
			t.Fatalf("T+%dms: effect disabled inside the grace window", offset)
		}
	}
	if got := h.engine.Status().LastReject; got != telemetry.ErrStaleData.Error() {
		t.Errorf("LastReject = %q, want %q", got, telemetry.ErrStaleData.Error())
	}

	now := t0.Add(1100 * time.Millisecond)
	h.clock.Set(now)
	h.write(t, testutil.UsableFrame(now.Add(-6000*time.Millisecond), testutil.Tilted))
	h.engine.Process(ctx)
	if h.engine.Status().Activation.Enabled {
		t.Fatal("effect still enabled after the grace window")
	}

	evs := h.drain()
	if len(evs) == 0 || evs[0].Kind != ActivationChanged || evs[0].Enabled {
		t.Errorf("events = %+v, want a deactivation", evs)
	}
	if diff := cmp.Diff([]bool{true, false}, h.history.activations); diff != "" {
		t.Errorf("recorded activations mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_TornReadsDoNotDeactivate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))
	h.engine.Process(ctx)

	h.clock.Advance(5 * time.Second)
	buf := telemetry.Encode(testutil.UsableFrame(h.clock.Now(), testutil.Tilted))
	buf[len(buf)-1] ^= 0xff
	if err := h.fs.WriteFile(testPath, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := h.engine.Process(ctx); got != ProcessNoData {
		t.Fatalf("Process() = %v, want no-data", got)
	}
	if err := h.fs.Remove(testPath); err != nil {
		t.Fatal(err)
	}
	if got := h.engine.Process(ctx); got != ProcessNoData {
		t.Fatalf("Process() = %v, want no-data", got)
	}
	if !h.engine.Status().Activation.Enabled {
		t.Error("structural read failures must not deactivate")
	}
	if got := h.engine.Status().Counters.NoData; got != 2 {
		t.Errorf("NoData = %d, want 2", got)
	}
}

func TestProcess_RejectedFrameNeverActivates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*telemetry.Frame)
	}{
		{"disabled", func(f *telemetry.Frame) { f.Enabled = false }},
		{"version", func(f *telemetry.Frame) { f.Version = 4 }},
		{"zero fov", func(f *telemetry.Frame) { f.DiagonalFOV = 0 }},
		{"stale", func(f *telemetry.Frame) { f.PoseDateMs -= 6000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			f := testutil.UsableFrame(t0, telemetry.Identity)
			tt.mutate(&f)
			h.write(t, f)
			if got := h.engine.Process(context.Background()); got != ProcessRejected {
				t.Fatalf("Process() = %v, want rejected", got)
			}
			if h.engine.Status().Activation.Enabled {
				t.Error("rejected frame activated the effect")
			}
			if got := h.bridge.recenters(); got != 0 {
				t.Errorf("recenter requests = %d, want 0", got)
			}
			if evs := h.drain(); len(evs) != 0 {
				t.Errorf("events = %v, want none", kinds(evs))
			}
		})
	}
}

func TestProcess_SkipsOverlappingPass(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))

	release, ok := h.engine.guard.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire() failed on an idle engine")
	}
	if got := h.engine.Process(context.Background()); got != ProcessSkipped {
		t.Errorf("Process() = %v, want skipped", got)
	}
	release()
	release() // second release is a no-op

	if got := h.engine.Process(context.Background()); got != ProcessAccepted {
		t.Errorf("Process() after release = %v, want accepted", got)
	}
	if h.engine.guard.Busy() {
		t.Error("guard still held after Process returned")
	}
	if got := h.engine.Status().Counters.Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestProcess_ConcurrentCallersNeverOverlap(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.engine.Process(context.Background())
			}
		}()
	}
	wg.Wait()

	c := h.engine.Status().Counters
	if c.Accepted+c.Skipped != 16*50 {
		t.Errorf("accepted %d + skipped %d != %d", c.Accepted, c.Skipped, 16*50)
	}
	if c.Accepted == 0 {
		t.Error("no pass was accepted")
	}
}

func TestDeactivate_RemovesDisplaysWhenConfigured(t *testing.T) {
	for _, remove := range []bool{false, true} {
		backend := vdisplay.NewMockBackend()
		reg := vdisplay.NewRegistry(backend, vdisplay.Options{})
		h := newHarness(t, func(o *Options) {
			o.Displays = reg
			o.RemoveDisplaysOnDisable = remove
		})
		ctx := context.Background()

		h.write(t, testutil.UsableFrame(t0, testutil.Tilted))
		h.engine.Process(ctx)
		if _, err := reg.Add(ctx, 1920, 1080); err != nil {
			t.Fatal(err)
		}

		h.clock.Advance(2 * time.Second)
		f := testutil.UsableFrame(h.clock.Now(), testutil.Tilted)
		f.Enabled = false
		h.write(t, f)
		h.engine.Process(ctx)

		want := 1
		if remove {
			want = 0
		}
		if got := reg.Len(); got != want {
			t.Errorf("remove=%v: displays after disable = %d, want %d", remove, got, want)
		}
	}
}

func TestCursorFollowsEffectState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetScreens(ctx, []screens.Screen{
		{Index: 0, Name: "eDP-1", Geometry: screens.Rect{Width: 1920, Height: 1080}},
		{Index: 1, Name: "XR", Geometry: screens.Rect{X: 1920, Width: 1920, Height: 1080}},
	}, 1)

	// Effect off: never hidden.
	if c := h.engine.SampleCursor(screens.Point{X: 2500, Y: 500}); c.Hidden {
		t.Fatal("cursor hidden while the effect is disabled")
	}

	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))
	h.engine.Process(ctx)
	h.drain()

	if c := h.engine.SampleCursor(screens.Point{X: 2500, Y: 500}); !c.Hidden || !c.Changed {
		t.Fatalf("SampleCursor() = %+v, want newly hidden", c)
	}
	evs := h.drain()
	if len(evs) != 1 || evs[0].Kind != CursorVisibilityChanged || !evs[0].CursorHidden {
		t.Fatalf("events = %+v, want one hide", evs)
	}

	// Reset pose shows the cursor again.
	h.clock.Advance(100 * time.Millisecond)
	h.write(t, testutil.UsableFrame(h.clock.Now(), telemetry.Identity))
	h.engine.Process(ctx)
	if h.engine.Status().CursorHidden {
		t.Error("cursor still hidden in the reset state")
	}
	var shown bool
	for _, ev := range h.drain() {
		if ev.Kind == CursorVisibilityChanged && !ev.CursorHidden {
			shown = true
		}
	}
	if !shown {
		t.Error("no show event after reset")
	}
}

func TestSmoothFollowPushedOnActivation(t *testing.T) {
	h := newHarness(t, nil)
	f := testutil.UsableFrame(t0, testutil.Tilted)
	f.SmoothFollowEnabled = true
	h.write(t, f)
	h.engine.Process(context.Background())

	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()
	var pushed bool
	for _, fl := range h.bridge.flags {
		if _, ok := fl[driveripc.FlagDisplayDistance]; ok {
			pushed = true
		}
	}
	if !pushed {
		t.Errorf("control flags = %v, want a smooth-follow push", h.bridge.flags)
	}
}

// distancePushes returns every smooth-follow distance sent to the driver.
func (h *harness) distancePushes() []float64 {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()
	var out []float64
	for _, fl := range h.bridge.flags {
		if d, ok := fl[driveripc.FlagDisplayDistance].(float64); ok {
			out = append(out, d)
		}
	}
	return out
}

func xrScreen(width, height float64) []screens.Screen {
	return []screens.Screen{
		{Index: 0, Name: "eDP-1", Geometry: screens.Rect{Width: 1920, Height: 1080}},
		{Index: 1, Name: "XR", Geometry: screens.Rect{X: 1920, Width: width, Height: height}},
	}
}

func TestSmoothFollow_ActivationPushesScaledDistanceOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.engine.SetScreens(ctx, xrScreen(3840, 2160), 1)
	h.engine.SetFocus(ctx, 1)

	f := testutil.UsableFrame(t0, testutil.Tilted)
	f.SmoothFollowEnabled = true
	h.write(t, f)
	h.engine.Process(ctx)

	if diff := cmp.Diff([]float64{0.5}, h.distancePushes()); diff != "" {
		t.Errorf("distance pushes mismatch (-want +got):\n%s", diff)
	}
}

func TestSmoothFollow_FollowsScreenLayout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	f := testutil.UsableFrame(t0, testutil.Tilted)
	f.SmoothFollowEnabled = true
	h.write(t, f)
	h.engine.Process(ctx)

	h.engine.SetScreens(ctx, xrScreen(1920, 1080), 1)
	h.engine.SetFocus(ctx, 1)
	if got := h.engine.Status().SmoothFollow.Distance; got != 1 {
		t.Fatalf("distance at native size = %v, want 1", got)
	}
	before := len(h.distancePushes())

	// The focused screen doubles in size.
	h.engine.SetScreens(ctx, xrScreen(3840, 2160), 1)
	st := h.engine.Status().SmoothFollow
	if st.Distance != 0.5 || st.FocusedIndex != 1 {
		t.Errorf("after resize: distance=%v focused=%d, want 0.5 on 1", st.Distance, st.FocusedIndex)
	}
	pushes := h.distancePushes()
	if len(pushes) != before+1 || pushes[len(pushes)-1] != 0.5 {
		t.Errorf("pushes after resize = %v, want a new 0.5", pushes)
	}

	// The focused screen goes away.
	h.engine.SetScreens(ctx, nil, 0)
	st = h.engine.Status().SmoothFollow
	if st.FocusedIndex != smoothfollow.NoFocus || st.Distance != 1 {
		t.Errorf("after removal: distance=%v focused=%d, want unscaled with no focus", st.Distance, st.FocusedIndex)
	}
	pushes = h.distancePushes()
	if pushes[len(pushes)-1] != 1 {
		t.Errorf("last push after removal = %v, want 1", pushes[len(pushes)-1])
	}
}

func TestRecenterAndToggle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if !h.engine.Recenter(ctx) {
		t.Fatal("Recenter() = false")
	}
	if diff := cmp.Diff([]string{RecenterManual}, h.history.recenters); diff != "" {
		t.Errorf("recorded recenters mismatch (-want +got):\n%s", diff)
	}

	if !h.engine.Toggle(ctx, true) || !h.engine.Toggle(ctx, false) {
		t.Fatal("Toggle() = false")
	}
	want := []map[string]any{driveripc.EnableUpdate(), driveripc.DisableUpdate()}
	if diff := cmp.Diff(want, h.bridge.configs); diff != "" {
		t.Errorf("config updates mismatch (-want +got):\n%s", diff)
	}

	h.bridge.fail = true
	if h.engine.Recenter(ctx) {
		t.Error("Recenter() = true with a failing bridge")
	}
	if got := h.engine.Status().Counters.Recenters; got != 1 {
		t.Errorf("Recenters = %d, want 1", got)
	}
}

func TestShutdownDeactivates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))
	h.engine.Process(ctx)
	h.drain()

	h.engine.Shutdown(ctx)
	if h.engine.Status().Activation.Enabled {
		t.Error("still enabled after Shutdown")
	}
	evs := h.drain()
	if len(evs) == 0 || evs[0].Kind != ActivationChanged || evs[0].Enabled {
		t.Errorf("events = %+v, want a deactivation", evs)
	}

	// Idle shutdown publishes nothing.
	h.engine.Shutdown(ctx)
	if evs := h.drain(); len(evs) != 0 {
		t.Errorf("events = %v, want none", kinds(evs))
	}
}

func TestRunProcessesOnTicks(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, testutil.UsableFrame(t0, testutil.Tilted))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, time.Second) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.engine.Status().Counters.Accepted == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial pass did not run")
		}
		time.Sleep(time.Millisecond)
	}
	h.clock.Advance(time.Second)
	for h.engine.Status().Counters.Accepted+h.engine.Status().Counters.Rejected < 2 {
		if time.Now().After(deadline) {
			t.Fatal("tick did not trigger a pass")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
