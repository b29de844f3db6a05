// Package screens holds the desktop geometry reported by the compositor.
package screens

import (
	"sort"
	"sync"
)

// Point is a position in desktop coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Size is a width and height in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle. The right and bottom edges are exclusive.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether p lies inside r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Grow returns r padded outward by dx on the left and right and dy on the
// top and bottom.
func (r Rect) Grow(dx, dy float64) Rect {
	return Rect{X: r.X - dx, Y: r.Y - dy, Width: r.Width + 2*dx, Height: r.Height + 2*dy}
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Screen is one compositor output.
type Screen struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Geometry Rect   `json:"geometry"`
	Virtual  bool   `json:"virtual,omitempty"`
}

// Layout is the current set of screens. It is safe for concurrent use.
type Layout struct {
	mu      sync.RWMutex
	screens []Screen
}

// Set replaces the screen list. Screens are kept ordered by index.
func (l *Layout) Set(screens []Screen) {
	cp := append([]Screen(nil), screens...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Index < cp[j].Index })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.screens = cp
}

// All returns a copy of the screen list.
func (l *Layout) All() []Screen {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Screen(nil), l.screens...)
}

// ByIndex returns the screen with the given index.
func (l *Layout) ByIndex(index int) (Screen, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.screens {
		if s.Index == index {
			return s, true
		}
	}
	return Screen{}, false
}
