// Package pose keeps the most recent accepted head pose and the device
// configuration reported alongside it.
package pose

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/xrdesk/xrbridge/internal/telemetry"
)

// DefaultConfigInterval is the minimum time between device configuration refreshes.
const DefaultConfigInterval = 1000 * time.Millisecond

// DeviceConfig is the slowly changing part of a telemetry frame.
type DeviceConfig struct {
	LookAheadConfig     [4]float32 `json:"look_ahead_config"`
	DisplayResolution   [2]uint32  `json:"display_resolution"`
	DiagonalFOV         float32    `json:"diagonal_fov"`
	LensDistanceRatio   float32    `json:"lens_distance_ratio"`
	SideBySideEnabled   bool       `json:"sbs_enabled"`
	CustomBannerEnabled bool       `json:"custom_banner_enabled"`
	SmoothFollowEnabled bool       `json:"smooth_follow_enabled"`
}

func configFromFrame(f telemetry.Frame) DeviceConfig {
	return DeviceConfig{
		LookAheadConfig:     f.LookAheadConfig,
		DisplayResolution:   f.DisplayResolution,
		DiagonalFOV:         f.DiagonalFOV,
		LensDistanceRatio:   f.LensDistanceRatio,
		SideBySideEnabled:   f.SideBySideEnabled,
		CustomBannerEnabled: f.CustomBannerEnabled,
		SmoothFollowEnabled: f.SmoothFollowEnabled,
	}
}

// State is a snapshot of the tracked pose.
type State struct {
	Orientation        [2]quat.Number  `json:"orientation"`
	SmoothFollowOrigin [2]quat.Number  `json:"smooth_follow_origin"`
	ElapsedMs          uint32          `json:"elapsed_ms"`
	Position           telemetry.Vec3  `json:"position"`
	TimestampMs        uint64          `json:"timestamp_ms"`
	Device             DeviceConfig    `json:"device"`
	Reset              bool            `json:"reset"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Euler              telemetry.Euler `json:"euler"`
}

// Update describes what changed when a frame was applied.
type Update struct {
	// ConfigRefreshed is set when the device configuration was re-read.
	ConfigRefreshed bool
	// ConfigChanged is set when a refresh produced different values.
	ConfigChanged bool
	// ResetEdge is set on the transition into the reset state.
	ResetEdge bool
	// ResetCleared is set on the transition out of the reset state.
	ResetCleared bool
}

// ResetChanged reports whether the reset flag flipped.
func (u Update) ResetChanged() bool {
	return u.ResetEdge || u.ResetCleared
}

// Tracker holds the latest pose. Only usable frames should be applied.
type Tracker struct {
	configInterval time.Duration

	mu           sync.RWMutex
	state        State
	lastConfigAt time.Time
	hasConfig    bool
}

// NewTracker returns a Tracker that refreshes device configuration at most
// once per configInterval. A non-positive interval uses DefaultConfigInterval.
func NewTracker(configInterval time.Duration) *Tracker {
	if configInterval <= 0 {
		configInterval = DefaultConfigInterval
	}
	return &Tracker{configInterval: configInterval}
}

// Update applies an accepted frame observed at now.
func (t *Tracker) Update(f telemetry.Frame, now time.Time) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	var u Update

	if !t.hasConfig || now.Sub(t.lastConfigAt) >= t.configInterval {
		cfg := configFromFrame(f)
		u.ConfigRefreshed = true
		u.ConfigChanged = !t.hasConfig || cfg != t.state.Device
		t.state.Device = cfg
		t.lastConfigAt = now
		t.hasConfig = true
	}

	t.state.Orientation = f.PoseOrientation
	t.state.SmoothFollowOrigin = f.SmoothFollowOrigin
	t.state.ElapsedMs = f.ElapsedMs
	t.state.Position = f.PosePosition
	t.state.TimestampMs = f.PoseDateMs
	t.state.UpdatedAt = now
	t.state.Euler = telemetry.ToEuler(f.PoseOrientation[0])

	wasReset := t.state.Reset
	t.state.Reset = telemetry.IsIdentity(f.PoseOrientation[0])
	u.ResetEdge = t.state.Reset && !wasReset
	u.ResetCleared = !t.state.Reset && wasReset

	return u
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Reset reports whether the device currently reports no active tracking.
func (t *Tracker) Reset() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Reset
}

// Device returns the last refreshed device configuration and whether one
// has been seen yet.
func (t *Tracker) Device() (DeviceConfig, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Device, t.hasConfig
}
