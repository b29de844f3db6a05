// Package vdisplay manages the virtual displays the bridge creates on request.
//
// Every display gets an id of the form "<prefix>_<W>x<H>_<n>". The counter n
// belongs to the Registry and only ever grows, so an id is never reused, not
// even after a failed create.
package vdisplay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/timeutil"
)

// DefaultPrefix names virtual displays created by the bridge.
const DefaultPrefix = "BreezyDesktop_VirtualDisplay"

// ErrInvalidSize is returned by Add for zero dimensions.
var ErrInvalidSize = errors.New("vdisplay: width and height must be positive")

// Output is the backend's handle to a created display. The registry never
// looks inside it.
type Output any

// Backend creates and destroys display outputs.
type Backend interface {
	Create(ctx context.Context, name string, width, height uint32) (Output, error)
	Destroy(ctx context.Context, out Output) error
}

// Prober is implemented by backends that can tell whether an output is
// still alive.
type Prober interface {
	Alive(out Output) bool
}

// Adopter is implemented by backends that can take over outputs recorded by
// an earlier run.
type Adopter interface {
	Adopt(info Info) (Output, bool)
}

type pidder interface {
	PID() int
}

// Entry is one live virtual display.
type Entry struct {
	ID        string
	Width     uint32
	Height    uint32
	Output    Output
	CreatedAt time.Time
}

// Info is the externally visible description of an entry.
type Info struct {
	ID        string    `json:"id"`
	Width     uint32    `json:"width"`
	Height    uint32    `json:"height"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (e Entry) info() Info {
	i := Info{ID: e.ID, Width: e.Width, Height: e.Height, CreatedAt: e.CreatedAt}
	if p, ok := e.Output.(pidder); ok {
		i.PID = p.PID()
	}
	return i
}

// Listener is notified with the new list after every change. It is called
// with the registry locked and must not call back into it.
type Listener func(list []Info)

// Options configures a Registry.
type Options struct {
	Prefix   string
	Clock    timeutil.Clock
	Store    *Store
	Listener Listener
}

// Registry tracks the live virtual displays. It is safe for concurrent use;
// backend calls are serialized so that a removal racing a bulk teardown
// sees a consistent list.
type Registry struct {
	backend  Backend
	prefix   string
	clock    timeutil.Clock
	store    *Store
	listener Listener

	mu      sync.Mutex
	counter uint64
	entries []Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry(b Backend, opts Options) *Registry {
	r := &Registry{
		backend:  b,
		prefix:   opts.Prefix,
		clock:    opts.Clock,
		store:    opts.Store,
		listener: opts.Listener,
	}
	if r.prefix == "" {
		r.prefix = DefaultPrefix
	}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	return r
}

// Add creates a display of the given size.
func (r *Registry) Add(ctx context.Context, width, height uint32) (Info, error) {
	if width == 0 || height == 0 {
		return Info{}, ErrInvalidSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	id := fmt.Sprintf("%s_%dx%d_%d", r.prefix, width, height, r.counter)

	out, err := r.backend.Create(ctx, id, width, height)
	if err != nil {
		return Info{}, fmt.Errorf("create %s: %w", id, err)
	}

	e := Entry{ID: id, Width: width, Height: height, Output: out, CreatedAt: r.clock.Now()}
	r.entries = append(r.entries, e)
	monitoring.Logf("[vdisplay] added %s", id)
	r.changedLocked()
	return e.info(), nil
}

// List returns the live displays in insertion order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

// Len returns the number of live displays.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Remove destroys the display with the given id. It returns false when the
// id is unknown, including when a concurrent teardown already removed it.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(id)
	if idx < 0 {
		return false
	}
	if err := r.backend.Destroy(ctx, r.entries[idx].Output); err != nil {
		monitoring.Logf("[vdisplay] failed to remove %s: %v", id, err)
		return false
	}
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	monitoring.Logf("[vdisplay] removed %s", id)
	r.changedLocked()
	return true
}

// RemoveAll destroys every display and clears the registry. Destroy
// failures are logged; the entries are dropped regardless. It returns the
// number of displays destroyed without error.
func (r *Registry) RemoveAll(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return 0
	}
	n := 0
	for _, e := range r.entries {
		if err := r.backend.Destroy(ctx, e.Output); err != nil {
			monitoring.Logf("[vdisplay] failed to remove %s: %v", e.ID, err)
			continue
		}
		n++
	}
	monitoring.Logf("[vdisplay] removed all displays (%d/%d)", n, len(r.entries))
	r.entries = nil
	r.changedLocked()
	return n
}

// Prune drops entries whose output the backend reports as dead and returns
// their ids. Backends that cannot probe liveness are left alone.
func (r *Registry) Prune() []string {
	p, ok := r.backend.(Prober)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []string
	kept := r.entries[:0]
	for _, e := range r.entries {
		if p.Alive(e.Output) {
			kept = append(kept, e)
			continue
		}
		dead = append(dead, e.ID)
	}
	r.entries = kept
	if len(dead) > 0 {
		monitoring.Logf("[vdisplay] pruned dead displays: %s", strings.Join(dead, ", "))
		r.changedLocked()
	}
	return dead
}

// Restore adopts displays recorded by a previous run. Entries the backend
// cannot adopt are dropped. The counter resumes after the highest restored id.
func (r *Registry) Restore() int {
	if r.store == nil {
		return 0
	}
	a, ok := r.backend.(Adopter)
	if !ok {
		return 0
	}
	saved, err := r.store.Load()
	if err != nil {
		monitoring.Logf("[vdisplay] ignoring saved displays: %v", err)
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, info := range saved {
		if c := counterOf(info.ID); c > r.counter {
			r.counter = c
		}
		if r.indexLocked(info.ID) >= 0 {
			continue
		}
		out, ok := a.Adopt(info)
		if !ok {
			continue
		}
		r.entries = append(r.entries, Entry{
			ID: info.ID, Width: info.Width, Height: info.Height,
			Output: out, CreatedAt: info.CreatedAt,
		})
		n++
	}
	r.changedLocked()
	return n
}

func (r *Registry) indexLocked(id string) int {
	for i, e := range r.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) listLocked() []Info {
	list := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.info())
	}
	return list
}

func (r *Registry) changedLocked() {
	list := r.listLocked()
	if r.store != nil {
		if err := r.store.Save(list); err != nil {
			monitoring.Logf("[vdisplay] failed to persist display list: %v", err)
		}
	}
	if r.listener != nil {
		r.listener(list)
	}
}

// counterOf extracts the trailing counter from an id, or 0.
func counterOf(id string) uint64 {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
