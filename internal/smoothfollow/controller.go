// Package smoothfollow keeps the driver's smooth-follow distance and
// threshold in step with the focused screen.
package smoothfollow

import (
	"context"
	"math"
	"sync"

	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/screens"
)

// Control flag keys understood by the driver.
const (
	FlagDistance  = "breezy_desktop_display_distance"
	FlagThreshold = "breezy_desktop_follow_threshold"
)

// Distance and threshold limits.
const (
	MinDistance      = 0.2
	MaxDistance      = 2.5
	MinThreshold     = 1.0
	MaxThreshold     = 45.0
	DefaultThreshold = 15.0
	DefaultDistance  = 1.0
)

// NoFocus is the focused index when no screen has focus.
const NoFocus = -1

// FlagWriter sends control flags to the driver.
type FlagWriter interface {
	WriteControlFlags(ctx context.Context, flags map[string]any) bool
}

// Settings is a snapshot of the controller inputs.
type Settings struct {
	Enabled         bool    `json:"enabled"`
	FocusedIndex    int     `json:"focused_index"`
	FocusedDistance float64 `json:"focused_distance"`
	AllDistance     float64 `json:"all_displays_distance"`
	ZoomOnFocus     bool    `json:"zoom_on_focus"`
	Threshold       float64 `json:"threshold"`
	Distance        float64 `json:"effective_distance"`
}

type push struct {
	distance  float64
	threshold float64
}

// Controller computes and pushes the follow distance. Pushes only happen
// while smooth follow is enabled; a failed push is retried on the next call.
type Controller struct {
	bridge FlagWriter

	mu              sync.Mutex
	enabled         bool
	focusedIndex    int
	focusedSize     screens.Size
	focusedDistance float64
	allDistance     float64
	zoomOnFocus     bool
	threshold       float64
	resolution      [2]uint32
	last            *push
}

// NewController returns a disabled controller with default distances.
func NewController(w FlagWriter) *Controller {
	return &Controller{
		bridge:          w,
		focusedIndex:    NoFocus,
		focusedDistance: DefaultDistance,
		allDistance:     DefaultDistance,
		threshold:       DefaultThreshold,
	}
}

// SetEnabled turns smooth follow on or off. Turning it on pushes the current values.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled == c.enabled {
		c.syncLocked(ctx)
		return
	}
	c.enabled = enabled
	c.last = nil
	c.syncLocked(ctx)
}

// SetFocus records the focused screen and its size. Pass NoFocus when no
// screen is focused.
func (c *Controller) SetFocus(ctx context.Context, index int, size screens.Size) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index == NoFocus {
		size = screens.Size{}
	}
	if index != c.focusedIndex {
		// An index change always pushes, even when the distance is unchanged.
		c.last = nil
	}
	c.focusedIndex = index
	c.focusedSize = size
	c.syncLocked(ctx)
}

// SetResolution records the device's display resolution.
func (c *Controller) SetResolution(ctx context.Context, res [2]uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolution = res
	c.syncLocked(ctx)
}

// SetFocusedDistance sets the focused display distance, clamped to
// [MinDistance, all-displays distance].
func (c *Controller) SetFocusedDistance(ctx context.Context, d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focusedDistance = clamp(d, MinDistance, c.allDistance)
	c.syncLocked(ctx)
}

// SetAllDistance sets the distance used when no display is focused. With
// zoom-on-focus it cannot go below the focused distance.
func (c *Controller) SetAllDistance(ctx context.Context, d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo := MinDistance
	if c.zoomOnFocus {
		lo = c.focusedDistance
	}
	c.allDistance = clamp(d, lo, MaxDistance)
	c.syncLocked(ctx)
}

// SetZoomOnFocus toggles zoom-on-focus. Enabling it pulls the focused
// distance in to the all-displays distance if it was further away.
func (c *Controller) SetZoomOnFocus(ctx context.Context, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoomOnFocus = on
	if on && c.focusedDistance > c.allDistance {
		c.focusedDistance = c.allDistance
	}
	c.syncLocked(ctx)
}

// SetThreshold sets the follow threshold in degrees.
func (c *Controller) SetThreshold(ctx context.Context, t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = clamp(t, MinThreshold, MaxThreshold)
	c.syncLocked(ctx)
}

// Sync retries a push that previously failed.
func (c *Controller) Sync(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncLocked(ctx)
}

// Settings returns the current inputs and the effective distance.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Settings{
		Enabled:         c.enabled,
		FocusedIndex:    c.focusedIndex,
		FocusedDistance: c.focusedDistance,
		AllDistance:     c.allDistance,
		ZoomOnFocus:     c.zoomOnFocus,
		Threshold:       c.threshold,
		Distance:        c.distanceLocked(),
	}
}

// distanceLocked scales the focused distance by how much larger the focused
// screen is than the device's native resolution.
func (c *Controller) distanceLocked() float64 {
	if c.focusedIndex == NoFocus || c.resolution[0] == 0 || c.resolution[1] == 0 {
		return c.focusedDistance
	}
	ratio := math.Max(
		c.focusedSize.Width/float64(c.resolution[0]),
		c.focusedSize.Height/float64(c.resolution[1]),
	)
	if ratio <= 0 {
		return c.focusedDistance
	}
	return c.focusedDistance / ratio
}

func (c *Controller) syncLocked(ctx context.Context) {
	if !c.enabled {
		return
	}
	p := push{distance: c.distanceLocked(), threshold: c.threshold}
	if c.last != nil && *c.last == p {
		return
	}
	ok := c.bridge.WriteControlFlags(ctx, map[string]any{
		FlagDistance:  p.distance,
		FlagThreshold: p.threshold,
	})
	if !ok {
		monitoring.Debugf("[smoothfollow] push failed, will retry")
		return
	}
	c.last = &p
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(v, lo), hi)
}
