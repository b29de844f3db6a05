// Package cursor hides the system pointer while it sits over the screen the
// XR effect is rendering, and restores it otherwise.
//
// Positions are sampled on a timer, so the tracker extrapolates one sample
// ahead and pads the target screen by half the cursor image. This hides the
// pointer slightly before it crosses onto the screen, avoiding a visible
// flicker at the edge.
package cursor

import (
	"sync"

	"github.com/xrdesk/xrbridge/internal/screens"
)

// DefaultFallbackPadding is used when the cursor image size is unknown.
const DefaultFallbackPadding = 10.0

// Pointer shows and hides the compositor's cursor.
type Pointer interface {
	HideCursor()
	ShowCursor()
}

// ScreenSource looks up screen geometry by index.
type ScreenSource interface {
	ByIndex(index int) (screens.Screen, bool)
}

// Change describes the result of an evaluation.
type Change struct {
	Hidden  bool
	Changed bool
}

// Tracker is the cursor visibility state machine. It is safe for concurrent use.
type Tracker struct {
	pointer  Pointer
	screens  ScreenSource
	fallback float64

	mu          sync.Mutex
	targetIndex int
	imageSize   screens.Size
	expanded    screens.Rect
	haveRect    bool
	rectValid   bool
	prev        screens.Point
	hasPrev     bool
	enabled     bool
	reset       bool
	hidden      bool
}

// NewTracker returns a Tracker targeting screen 0 with the cursor shown.
// A non-positive fallback uses DefaultFallbackPadding.
func NewTracker(p Pointer, src ScreenSource, fallback float64) *Tracker {
	if fallback <= 0 {
		fallback = DefaultFallbackPadding
	}
	return &Tracker{pointer: p, screens: src, fallback: fallback}
}

// Sample evaluates a new cursor position.
func (t *Tracker) Sample(pos screens.Point) Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	predicted := pos
	if t.hasPrev {
		predicted = pos.Add(pos.Sub(t.prev))
	}
	t.prev = pos
	t.hasPrev = true

	hide := false
	if t.enabled && !t.reset {
		if rect, ok := t.expandedRectLocked(); ok {
			hide = rect.Contains(pos) || rect.Contains(predicted)
		}
	}
	return t.applyLocked(hide)
}

// SetEffectState updates whether the effect is enabled and whether the
// device is in the reset state. The pointer is shown immediately when the
// effect can no longer hide it; hiding waits for the next sample.
func (t *Tracker) SetEffectState(enabled, reset bool) Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	t.reset = reset
	if !enabled {
		t.hasPrev = false
	}
	if !enabled || reset {
		return t.applyLocked(false)
	}
	return Change{Hidden: t.hidden}
}

// SetTargetScreen changes the screen the effect renders.
func (t *Tracker) SetTargetScreen(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index != t.targetIndex {
		t.targetIndex = index
		t.rectValid = false
	}
}

// SetCursorImageSize records a new cursor image size. A zero size means unknown.
func (t *Tracker) SetCursorImageSize(size screens.Size) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if size != t.imageSize {
		t.imageSize = size
		t.rectValid = false
	}
}

// Invalidate drops the cached expanded rectangle, e.g. after the screen
// layout changed.
func (t *Tracker) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rectValid = false
}

// Hidden reports whether the tracker currently hides the pointer.
func (t *Tracker) Hidden() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hidden
}

// TargetScreen returns the current target screen index.
func (t *Tracker) TargetScreen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetIndex
}

func (t *Tracker) expandedRectLocked() (screens.Rect, bool) {
	if t.rectValid {
		return t.expanded, t.haveRect
	}
	t.rectValid = true

	s, ok := t.screens.ByIndex(t.targetIndex)
	if !ok || s.Geometry.Empty() {
		t.haveRect = false
		return screens.Rect{}, false
	}

	dx, dy := t.fallback, t.fallback
	if t.imageSize.Width > 0 && t.imageSize.Height > 0 {
		dx, dy = t.imageSize.Width/2, t.imageSize.Height/2
	}
	t.expanded = s.Geometry.Grow(dx, dy)
	t.haveRect = true
	return t.expanded, true
}

func (t *Tracker) applyLocked(hide bool) Change {
	if hide == t.hidden {
		return Change{Hidden: hide}
	}
	t.hidden = hide
	if hide {
		t.pointer.HideCursor()
	} else {
		t.pointer.ShowCursor()
	}
	return Change{Hidden: hide, Changed: true}
}
