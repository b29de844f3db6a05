package vdisplay

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func writeHelper(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("process groups are only exercised on linux")
	}
	path := filepath.Join(t.TempDir(), "virtualdisplay")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write helper: %v", err)
	}
	return path
}

func TestProcessBackend_CreateDestroy(t *testing.T) {
	b := &ProcessBackend{Helper: writeHelper(t, "exec sleep 30"), Settle: 50 * time.Millisecond}

	out, err := b.Create(ctx, "d1", 1920, 1080)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p := out.(*Process)
	if p.PID() <= 0 {
		t.Fatalf("PID = %d", p.PID())
	}
	if !b.Alive(out) {
		t.Fatal("helper should be alive after Create")
	}

	if err := b.Destroy(ctx, out); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit after SIGTERM")
	}
	if b.Alive(out) {
		t.Error("helper should not be alive after Destroy")
	}

	// Destroying an already-gone helper succeeds.
	if err := b.Destroy(ctx, out); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestProcessBackend_HelperExitsEarly(t *testing.T) {
	b := &ProcessBackend{Helper: writeHelper(t, "echo 'no compositor' >&2; exit 1"), Settle: 2 * time.Second}

	_, err := b.Create(ctx, "d1", 1920, 1080)
	if !errors.Is(err, ErrHelperExited) {
		t.Fatalf("err = %v, want ErrHelperExited", err)
	}
}

func TestProcessBackend_MissingHelper(t *testing.T) {
	b := &ProcessBackend{Helper: filepath.Join(t.TempDir(), "missing")}
	if _, err := b.Create(ctx, "d1", 1, 1); err == nil {
		t.Fatal("expected an error for a missing helper")
	}
}

func TestProcessBackend_Adopt(t *testing.T) {
	// No exec: the shell stays the group leader with the script as argv[1].
	helper := writeHelper(t, "sleep 30\nexit 0")
	b := &ProcessBackend{Helper: helper, Settle: 50 * time.Millisecond}
	out, err := b.Create(ctx, "d1", 1920, 1080)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer b.Destroy(ctx, out)
	pid := out.(*Process).PID()

	adopted, ok := b.Adopt(Info{PID: pid})
	if !ok {
		t.Fatal("failed to adopt a running helper")
	}
	if !b.Alive(adopted) {
		t.Error("adopted helper reported dead")
	}
	if b.Alive("not a process") {
		t.Error("foreign output reported alive")
	}

	tests := []struct {
		name    string
		backend *ProcessBackend
		pid     int
	}{
		{"zero pid", b, 0},
		{"unrelated process", b, os.Getpid()},
		{"different helper", &ProcessBackend{Helper: filepath.Join(t.TempDir(), "virtualdisplay")}, pid},
		{"no helper configured", &ProcessBackend{}, pid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.backend.Adopt(Info{PID: tt.pid}); ok {
				t.Errorf("adopted pid %d", tt.pid)
			}
		})
	}
}
