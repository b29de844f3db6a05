//go:build linux

package watch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/xrdesk/xrbridge/internal/monitoring"
)

// DefaultMask covers in-place writes, atomic renames and recreation.
const DefaultMask Mask = unix.IN_MODIFY | unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO | unix.IN_CREATE

// pollTimeoutMs bounds how long a stop request can go unnoticed.
const pollTimeoutMs = 100

// Watch calls notify whenever the file at path changes, until ctx is done.
//
// The parent directory is watched rather than the file, so replacements
// made by rename and files created after Watch starts are still seen.
// Events that queue up while notify runs are coalesced into one call.
func Watch(ctx context.Context, path string, mask Mask, notify func()) error {
	dir, name, err := split(path)
	if err != nil {
		return err
	}
	if mask == 0 {
		mask = DefaultMask
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify init: %w", err)
	}
	defer unix.Close(fd)

	if _, err := unix.InotifyAddWatch(fd, dir, uint32(mask)); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	monitoring.Debugf("[watch] watching %s for %s", dir, name)

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll inotify: %w", err)
		}
		if n == 0 {
			continue
		}

		matched := false
		for {
			read, err := unix.Read(fd, buf)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) {
					break
				}
				if errors.Is(err, unix.EINTR) {
					continue
				}
				return fmt.Errorf("read inotify: %w", err)
			}
			if read <= 0 {
				break
			}
			if matchesFile(buf[:read], name) {
				matched = true
			}
		}
		if matched {
			notify()
		}
	}
}

// matchesFile reports whether any event in buf names the target file.
// Layout from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func matchesFile(buf []byte, name string) bool {
	off := 0
	for off+unix.SizeofInotifyEvent <= len(buf) {
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12 : off+16]))
		size := unix.SizeofInotifyEvent + nameLen
		if off+size > len(buf) {
			break
		}
		if nameLen > 0 && cString(buf[off+unix.SizeofInotifyEvent:off+size]) == name {
			return true
		}
		off += size
	}
	return false
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
