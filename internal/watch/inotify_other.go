//go:build !linux

package watch

import "context"

// DefaultMask is unused off Linux.
const DefaultMask Mask = 0

// Watch is unavailable off Linux; callers fall back to polling.
func Watch(ctx context.Context, path string, mask Mask, notify func()) error {
	return ErrUnsupported
}
