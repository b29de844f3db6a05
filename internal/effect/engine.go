// Package effect runs the telemetry processing pass and turns its results
// into state changes for the compositor plugin.
package effect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xrdesk/xrbridge/internal/activation"
	"github.com/xrdesk/xrbridge/internal/cursor"
	"github.com/xrdesk/xrbridge/internal/driveripc"
	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/pose"
	"github.com/xrdesk/xrbridge/internal/screens"
	"github.com/xrdesk/xrbridge/internal/smoothfollow"
	"github.com/xrdesk/xrbridge/internal/telemetry"
	"github.com/xrdesk/xrbridge/internal/timeutil"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

const (
	// DefaultPollInterval is the watchdog poll period.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultBridgeTimeout bounds each driver bridge call made by a pass.
	DefaultBridgeTimeout = 2 * time.Second

	// maxFrameFileSize caps the telemetry read. Anything longer is not a frame.
	maxFrameFileSize = 4 << 10
)

// Recenter sources recorded in the history.
const (
	RecenterReset  = "reset"
	RecenterManual = "manual"
)

// Result is the outcome of one processing pass.
type Result int

const (
	// ProcessSkipped means another pass was already running.
	ProcessSkipped Result = iota
	// ProcessNoData means the file was missing, torn or the wrong size.
	ProcessNoData
	// ProcessRejected means a complete frame was read but is not usable.
	ProcessRejected
	// ProcessAccepted means the frame was applied.
	ProcessAccepted
)

func (r Result) String() string {
	switch r {
	case ProcessSkipped:
		return "skipped"
	case ProcessNoData:
		return "no-data"
	case ProcessRejected:
		return "rejected"
	case ProcessAccepted:
		return "accepted"
	}
	return "unknown"
}

// History records activation sessions and recenter requests.
type History interface {
	RecordActivation(ctx context.Context, enabled bool, at time.Time) error
	RecordRecenter(ctx context.Context, source string, at time.Time) error
}

// FrameSink receives every complete buffer read from the telemetry file.
type FrameSink interface {
	WriteFrame(at time.Time, raw []byte) error
}

// Options configures an Engine. Zero values use the package defaults.
type Options struct {
	Path           string
	FS             fsutil.FileSystem
	Clock          timeutil.Clock
	Validator      telemetry.Validator
	ConfigInterval time.Duration
	GracePeriod    time.Duration

	Bridge        driveripc.Bridge
	BridgeTimeout time.Duration

	Hub    *Hub
	Layout *screens.Layout
	// CursorPadding is used when the cursor image size is unknown.
	CursorPadding float64

	Displays                *vdisplay.Registry
	RemoveDisplaysOnDisable bool

	History History
	Sink    FrameSink
}

// Counters are running totals of pass outcomes.
type Counters struct {
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	NoData    uint64 `json:"no_data"`
	Skipped   uint64 `json:"skipped"`
	Recenters uint64 `json:"recenters"`
}

// Status is a snapshot of the engine for the control surfaces.
type Status struct {
	InstanceID   string                `json:"instance_id"`
	Activation   activation.Snapshot   `json:"activation"`
	Pose         pose.State            `json:"pose"`
	CursorHidden bool                  `json:"cursor_hidden"`
	TargetScreen int                   `json:"target_screen"`
	SmoothFollow smoothfollow.Settings `json:"smooth_follow"`
	Displays     []vdisplay.Info       `json:"displays"`
	Counters     Counters              `json:"counters"`
	LastReject   string                `json:"last_reject,omitempty"`
}

// Engine owns the per-pass state machines. Process may be called from any
// goroutine; overlapping calls are skipped.
type Engine struct {
	id            string
	path          string
	fs            fsutil.FileSystem
	clock         timeutil.Clock
	validator     telemetry.Validator
	bridge        driveripc.Bridge
	bridgeTimeout time.Duration
	hub           *Hub
	layout        *screens.Layout
	displays      *vdisplay.Registry
	removeOnOff   bool
	history       History
	sink          FrameSink

	guard      guard
	pose       *pose.Tracker
	activation *activation.Machine
	cursor     *cursor.Tracker
	follow     *smoothfollow.Controller

	accepted, rejected, noData, skipped, recenters atomic.Uint64

	mu         sync.Mutex
	lastReject string
}

// NewEngine returns an Engine. The display registry is optional.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		id:            uuid.NewString(),
		path:          opts.Path,
		fs:            opts.FS,
		clock:         opts.Clock,
		validator:     opts.Validator,
		bridge:        opts.Bridge,
		bridgeTimeout: opts.BridgeTimeout,
		hub:           opts.Hub,
		layout:        opts.Layout,
		displays:      opts.Displays,
		removeOnOff:   opts.RemoveDisplaysOnDisable,
		history:       opts.History,
		sink:          opts.Sink,
		pose:          pose.NewTracker(opts.ConfigInterval),
		activation:    activation.NewMachine(opts.GracePeriod),
	}
	if e.path == "" {
		e.path = telemetry.DefaultPath
	}
	if e.fs == nil {
		e.fs = fsutil.OSFileSystem{}
	}
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	if e.validator == (telemetry.Validator{}) {
		e.validator = telemetry.DefaultValidator
	}
	if e.bridge == nil {
		e.bridge = driveripc.DisabledBridge{}
	}
	if e.bridgeTimeout <= 0 {
		e.bridgeTimeout = DefaultBridgeTimeout
	}
	if e.hub == nil {
		e.hub = NewHub(0)
	}
	if e.layout == nil {
		e.layout = &screens.Layout{}
	}
	e.cursor = cursor.NewTracker(hubPointer{e}, e.layout, opts.CursorPadding)
	e.follow = smoothfollow.NewController(e.bridge)
	return e
}

// Hub returns the event hub.
func (e *Engine) Hub() *Hub { return e.hub }

// SmoothFollow returns the smooth-follow controller.
func (e *Engine) SmoothFollow() *smoothfollow.Controller { return e.follow }

// Displays returns the virtual display registry, which may be nil.
func (e *Engine) Displays() *vdisplay.Registry { return e.displays }

// Process runs one pass: read, decode, update state, apply side effects.
func (e *Engine) Process(ctx context.Context) Result {
	release, ok := e.guard.TryAcquire()
	if !ok {
		e.skipped.Add(1)
		return ProcessSkipped
	}
	defer release()

	now := e.clock.Now()
	buf, err := e.fs.ReadFileLimit(e.path, maxFrameFileSize)
	if err != nil {
		monitoring.Debugf("[effect] read %s: %v", e.path, err)
		e.noData.Add(1)
		return ProcessNoData
	}
	if e.sink != nil {
		if err := e.sink.WriteFrame(now, buf); err != nil {
			monitoring.Debugf("[effect] capture: %v", err)
		}
	}

	f, err := telemetry.DecodeRaw(buf)
	if err != nil {
		monitoring.Debugf("[effect] %v", err)
		e.noData.Add(1)
		return ProcessNoData
	}
	if err := e.validator.Check(f, now); err != nil {
		monitoring.Debugf("[effect] frame not usable: %v", err)
		e.setLastReject(err)
		e.rejected.Add(1)
		e.applyTransition(ctx, e.activation.Evaluate(false, now), now)
		return ProcessRejected
	}

	u := e.pose.Update(f, now)
	e.applyTransition(ctx, e.activation.Evaluate(true, now), now)
	e.applyPose(ctx, u, now)
	e.accepted.Add(1)
	return ProcessAccepted
}

// Run processes once and then on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	e.Process(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			e.Process(ctx)
		}
	}
}

func (e *Engine) applyPose(ctx context.Context, u pose.Update, now time.Time) {
	st := e.pose.Snapshot()
	e.hub.Publish(Event{Kind: PoseUpdated, At: now, Pose: &st})

	if u.ConfigChanged {
		dev := st.Device
		e.hub.Publish(Event{Kind: DevicePropertiesChanged, At: now, Device: &dev})
		bctx, cancel := e.bridgeContext(ctx)
		e.follow.SetResolution(bctx, dev.DisplayResolution)
		e.follow.SetEnabled(bctx, dev.SmoothFollowEnabled)
		cancel()
	}

	if u.ResetChanged() {
		e.hub.Publish(Event{Kind: ResetStateChanged, At: now, Reset: st.Reset})
		e.cursor.SetEffectState(e.activation.State() == activation.Enabled, st.Reset)
	}
	if u.ResetEdge {
		e.recenter(ctx, RecenterReset, now)
	}
}

func (e *Engine) applyTransition(ctx context.Context, tr activation.Transition, now time.Time) {
	switch tr {
	case activation.Activated:
		monitoring.Logf("[effect] enabling effect")
		e.hub.Publish(Event{Kind: ActivationChanged, At: now, Enabled: true})
		e.cursor.SetEffectState(true, e.pose.Reset())
		if dev, ok := e.pose.Device(); ok {
			bctx, cancel := e.bridgeContext(ctx)
			e.follow.SetResolution(bctx, dev.DisplayResolution)
			e.follow.SetEnabled(bctx, dev.SmoothFollowEnabled)
			cancel()
		}
		e.record(ctx, true, now)
	case activation.Deactivated:
		monitoring.Logf("[effect] disabling effect")
		e.deactivate(ctx, now)
	}
}

func (e *Engine) deactivate(ctx context.Context, now time.Time) {
	e.hub.Publish(Event{Kind: ActivationChanged, At: now, Enabled: false})
	e.cursor.SetEffectState(false, false)

	bctx, cancel := e.bridgeContext(ctx)
	e.follow.SetEnabled(bctx, false)
	cancel()

	if e.removeOnOff && e.displays != nil {
		if n := e.displays.RemoveAll(ctx); n > 0 {
			monitoring.Logf("[effect] removed %d virtual displays on disable", n)
		}
	}
	e.record(ctx, false, now)
}

// Recenter asks the driver to recenter the display.
func (e *Engine) Recenter(ctx context.Context) bool {
	return e.recenter(ctx, RecenterManual, e.clock.Now())
}

func (e *Engine) recenter(ctx context.Context, source string, now time.Time) bool {
	bctx, cancel := e.bridgeContext(ctx)
	defer cancel()
	if !e.bridge.WriteControlFlags(bctx, map[string]any{driveripc.FlagRecenterScreen: true}) {
		monitoring.Logf("[effect] recenter request (%s) was not delivered", source)
		return false
	}
	e.recenters.Add(1)
	if e.history != nil {
		if err := e.history.RecordRecenter(ctx, source, now); err != nil {
			monitoring.Logf("[effect] record recenter: %v", err)
		}
	}
	return true
}

// Toggle turns the driver's desktop mode on or off. The effect follows once
// the driver's frames reflect the change.
func (e *Engine) Toggle(ctx context.Context, enable bool) bool {
	update := driveripc.DisableUpdate()
	if enable {
		update = driveripc.EnableUpdate()
	}
	bctx, cancel := e.bridgeContext(ctx)
	defer cancel()
	return e.bridge.WriteConfig(bctx, update)
}

// Shutdown deactivates the effect if it is active. It must not run
// concurrently with Process.
func (e *Engine) Shutdown(ctx context.Context) {
	now := e.clock.Now()
	if e.activation.Force(false, now) == activation.Deactivated {
		monitoring.Logf("[effect] disabling effect on shutdown")
		e.deactivate(ctx, now)
	}
}

// SampleCursor feeds a pointer position to the cursor tracker.
func (e *Engine) SampleCursor(pos screens.Point) cursor.Change {
	return e.cursor.Sample(pos)
}

// SetScreens replaces the screen layout and selects the screen the effect
// renders. The smooth-follow focus is looked up again in the new layout,
// so a resized focused screen rescales the distance and a removed one
// drops the focus.
func (e *Engine) SetScreens(ctx context.Context, list []screens.Screen, target int) {
	e.layout.Set(list)
	e.cursor.SetTargetScreen(target)
	e.cursor.Invalidate()
	if idx := e.follow.Settings().FocusedIndex; idx != smoothfollow.NoFocus {
		e.SetFocus(ctx, idx)
	}
}

// SetCursorImageSize records the current cursor image size.
func (e *Engine) SetCursorImageSize(size screens.Size) {
	e.cursor.SetCursorImageSize(size)
}

// SetFocus records the focused screen for smooth follow. Use
// smoothfollow.NoFocus when nothing is focused.
func (e *Engine) SetFocus(ctx context.Context, index int) {
	var size screens.Size
	if s, ok := e.layout.ByIndex(index); ok {
		size = screens.Size{Width: s.Geometry.Width, Height: s.Geometry.Height}
	} else {
		index = smoothfollow.NoFocus
	}
	bctx, cancel := e.bridgeContext(ctx)
	defer cancel()
	e.follow.SetFocus(bctx, index, size)
}

// Status returns a snapshot for the control surfaces.
func (e *Engine) Status() Status {
	st := Status{
		InstanceID:   e.id,
		Activation:   e.activation.Snapshot(),
		Pose:         e.pose.Snapshot(),
		CursorHidden: e.cursor.Hidden(),
		TargetScreen: e.cursor.TargetScreen(),
		SmoothFollow: e.follow.Settings(),
		Counters: Counters{
			Accepted:  e.accepted.Load(),
			Rejected:  e.rejected.Load(),
			NoData:    e.noData.Load(),
			Skipped:   e.skipped.Load(),
			Recenters: e.recenters.Load(),
		},
	}
	if e.displays != nil {
		st.Displays = e.displays.List()
	}
	e.mu.Lock()
	st.LastReject = e.lastReject
	e.mu.Unlock()
	return st
}

// DisplaysChanged publishes the display list. It is meant to be used as
// the registry listener.
func (e *Engine) DisplaysChanged(list []vdisplay.Info) {
	e.hub.Publish(Event{Kind: VirtualDisplaysChanged, At: e.clock.Now(), Displays: list})
}

func (e *Engine) record(ctx context.Context, enabled bool, now time.Time) {
	if e.history == nil {
		return
	}
	if err := e.history.RecordActivation(ctx, enabled, now); err != nil {
		monitoring.Logf("[effect] record activation: %v", err)
	}
}

func (e *Engine) setLastReject(err error) {
	reason := err.Error()
	for _, sentinel := range []error{
		telemetry.ErrVersionMismatch, telemetry.ErrDisabled,
		telemetry.ErrStaleData, telemetry.ErrInvalidDeviceData,
	} {
		if errors.Is(err, sentinel) {
			reason = sentinel.Error()
			break
		}
	}
	e.mu.Lock()
	e.lastReject = reason
	e.mu.Unlock()
}

func (e *Engine) bridgeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.bridgeTimeout)
}

// hubPointer turns cursor visibility decisions into events for the plugin.
type hubPointer struct{ e *Engine }

func (p hubPointer) HideCursor() {
	p.e.hub.Publish(Event{Kind: CursorVisibilityChanged, At: p.e.clock.Now(), CursorHidden: true})
}

func (p hubPointer) ShowCursor() {
	p.e.hub.Publish(Event{Kind: CursorVisibilityChanged, At: p.e.clock.Now(), CursorHidden: false})
}
