package vdisplay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Defaults for the virtual display helper.
const (
	DefaultFramerate = 60
	DefaultSettle    = 250 * time.Millisecond
)

const procDir = "/proc"

// ErrHelperExited is returned when the helper exits before it settles.
var ErrHelperExited = errors.New("vdisplay: helper exited during startup")

// ProcessBackend runs one helper process per display. Each helper runs in
// its own process group and is stopped by signalling that group.
type ProcessBackend struct {
	// Helper is the path to the virtualdisplay executable.
	Helper    string
	Framerate int
	// Settle is how long a new helper must stay up before Create succeeds.
	Settle time.Duration
}

// Process is the Output of a ProcessBackend.
type Process struct {
	pid  int
	done chan struct{}

	mu     sync.Mutex
	exited bool
}

// PID returns the helper's process id.
func (p *Process) PID() int { return p.pid }

func (p *Process) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	close(p.done)
}

func (p *Process) hasExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Create starts a helper for a width x height display.
func (b *ProcessBackend) Create(ctx context.Context, name string, width, height uint32) (Output, error) {
	framerate := b.Framerate
	if framerate <= 0 {
		framerate = DefaultFramerate
	}
	settle := b.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	cmd := exec.Command(b.Helper,
		"--width", strconv.FormatUint(uint64(width), 10),
		"--height", strconv.FormatUint(uint64(height), 10),
		"--framerate", strconv.Itoa(framerate),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", b.Helper, err)
	}
	p := &Process{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		p.markExited()
	}()

	select {
	case <-p.done:
		return nil, fmt.Errorf("%w: %s", ErrHelperExited, strings.TrimSpace(stderr.String()))
	case <-ctx.Done():
		_ = signalGroup(p.pid, unix.SIGTERM)
		return nil, ctx.Err()
	case <-time.After(settle):
		return p, nil
	}
}

// Destroy sends SIGTERM to the helper's process group. A helper that is
// already gone counts as destroyed.
func (b *ProcessBackend) Destroy(ctx context.Context, out Output) error {
	p, ok := out.(*Process)
	if !ok {
		return fmt.Errorf("vdisplay: unexpected output %T", out)
	}
	if err := signalGroup(p.pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal helper %d: %w", p.pid, err)
	}
	return nil
}

// Alive reports whether the helper is still running.
func (b *ProcessBackend) Alive(out Output) bool {
	p, ok := out.(*Process)
	if !ok {
		return false
	}
	if p.done != nil && p.hasExited() {
		return false
	}
	return unix.Kill(p.pid, 0) == nil
}

// Adopt takes over a helper started by an earlier run. The pid comes from
// the shared persistence file, so it is only taken when the process is
// alive, leads its own process group and is running this backend's helper.
func (b *ProcessBackend) Adopt(info Info) (Output, bool) {
	if info.PID <= 0 || b.Helper == "" {
		return nil, false
	}
	if err := unix.Kill(info.PID, 0); err != nil {
		return nil, false
	}
	if pgid, err := unix.Getpgid(info.PID); err != nil || pgid != info.PID {
		return nil, false
	}
	if !b.runsHelper(info.PID) {
		return nil, false
	}
	return &Process{pid: info.PID}, true
}

// runsHelper reports whether pid's command line starts with the helper.
// A script helper runs under its interpreter with the script as argv[1].
func (b *ProcessBackend) runsHelper(pid int) bool {
	data, err := os.ReadFile(filepath.Join(procDir, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}
	args := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	for i := 0; i < len(args) && i < 2; i++ {
		if args[i] == b.Helper {
			return true
		}
	}
	return false
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
