//go:build linux

package watch

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func startWatch(t *testing.T, path string) (*atomic.Int32, func()) {
	t.Helper()
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, 0, func() { calls.Add(1) }) }()

	// Give the watch time to be registered.
	time.Sleep(200 * time.Millisecond)
	return &calls, func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Watch() = %v, want context.Canceled", err)
		}
	}
}

func waitFor(t *testing.T, calls *atomic.Int32, min int32) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() < min {
		if time.Now().After(deadline) {
			t.Fatalf("notify called %d times, want at least %d", calls.Load(), min)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatch_InPlaceWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breezy_desktop_imu")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls, stop := startWatch(t, path)
	defer stop()

	if err := os.WriteFile(path, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, calls, 1)
}

func TestWatch_CreatedAfterStartAndRenamed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breezy_desktop_imu")

	calls, stop := startWatch(t, path)
	defer stop()

	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, calls, 1)

	tmp := filepath.Join(dir, "imu.tmp")
	if err := os.WriteFile(tmp, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	before := calls.Load()
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, calls, before+1)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breezy_desktop_imu")

	calls, stop := startWatch(t, path)
	defer stop()

	if err := os.WriteFile(filepath.Join(dir, "xr_driver_state"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("notify called %d times for an unrelated file", n)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "imu"), 0, func() {})
	if err == nil {
		t.Fatal("Watch() on a missing directory should fail")
	}
}

func TestMatchesFile(t *testing.T) {
	event := func(name string, padded int) []byte {
		b := make([]byte, unix.SizeofInotifyEvent+padded)
		binary.NativeEndian.PutUint32(b[12:16], uint32(padded))
		copy(b[unix.SizeofInotifyEvent:], name)
		return b
	}

	buf := append(event("other", 16), event("breezy_desktop_imu", 32)...)
	if !matchesFile(buf, "breezy_desktop_imu") {
		t.Error("second event not matched")
	}
	if matchesFile(buf, "breezy") {
		t.Error("prefix should not match")
	}
	if matchesFile(buf[:10], "other") {
		t.Error("truncated buffer should not match")
	}
	if matchesFile(event("", 0), "") {
		t.Error("nameless event should not match")
	}
}
