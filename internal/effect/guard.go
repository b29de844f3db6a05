package effect

import "sync/atomic"

// guard admits one processing pass at a time. Callers that lose the race
// skip their pass instead of waiting.
type guard struct {
	busy atomic.Bool
}

// TryAcquire claims the guard. When ok is true the caller must call
// release exactly once, normally with defer.
func (g *guard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.busy.Store(false)
		}
	}, true
}

// Busy reports whether a pass is running.
func (g *guard) Busy() bool { return g.busy.Load() }
