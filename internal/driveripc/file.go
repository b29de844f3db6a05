package driveripc

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/timeutil"
)

// DefaultScriptTimeout bounds a run of the driver's config script.
const DefaultScriptTimeout = 15 * time.Second

const maxDriverFileSize = 64 << 10

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = time.Second
	return cmd.CombinedOutput()
}

// FileOptions configures a FileBridge.
type FileOptions struct {
	Paths         Paths
	FS            fsutil.FileSystem
	Clock         timeutil.Clock
	Runner        Runner
	User          string
	ScriptTimeout time.Duration
}

// FileBridge implements Bridge over the driver's files and config script.
type FileBridge struct {
	paths         Paths
	fs            fsutil.FileSystem
	clock         timeutil.Clock
	runner        Runner
	user          string
	scriptTimeout time.Duration
}

// NewFileBridge returns a FileBridge. Unset options use the real OS.
func NewFileBridge(opts FileOptions) *FileBridge {
	b := &FileBridge{
		paths:         opts.Paths,
		fs:            opts.FS,
		clock:         opts.Clock,
		runner:        opts.Runner,
		user:          opts.User,
		scriptTimeout: opts.ScriptTimeout,
	}
	if b.paths == (Paths{}) {
		home, _ := os.UserHomeDir()
		b.paths = DefaultPaths(home)
	}
	if b.fs == nil {
		b.fs = fsutil.OSFileSystem{}
	}
	if b.clock == nil {
		b.clock = timeutil.RealClock{}
	}
	if b.runner == nil {
		b.runner = ExecRunner{}
	}
	if b.scriptTimeout <= 0 {
		b.scriptTimeout = DefaultScriptTimeout
	}
	return b
}

// Paths returns the files the bridge uses.
func (b *FileBridge) Paths() Paths { return b.paths }

func (b *FileBridge) readKeyValues(path string) (map[string]string, error) {
	data, err := b.fs.ReadFileLimit(path, maxDriverFileSize)
	if err != nil {
		return nil, err
	}
	raw, bad := parseKeyValues(data)
	for _, line := range bad {
		monitoring.Logf("[driveripc] %s: skipping malformed line %q", path, line)
	}
	return raw, nil
}

// RetrieveConfig reads the driver config with defaults for missing keys.
// A missing file yields the defaults.
func (b *FileBridge) RetrieveConfig(ctx context.Context) (map[string]any, bool) {
	raw, err := b.readKeyValues(b.paths.Config)
	if errors.Is(err, fs.ErrNotExist) {
		raw = nil
	} else if err != nil {
		monitoring.Logf("[driveripc] read config: %v", err)
		return nil, false
	}
	return typedConfig(raw), true
}

// WriteConfig merges update into the config file and replaces it atomically.
func (b *FileBridge) WriteConfig(ctx context.Context, update map[string]any) bool {
	raw, err := b.readKeyValues(b.paths.Config)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		monitoring.Logf("[driveripc] read config: %v", err)
		return false
	}
	data, err := mergeConfig(raw, update)
	if err != nil {
		monitoring.Logf("[driveripc] write config: %v", err)
		return false
	}
	if err := b.fs.WriteFileAtomic(b.paths.Config, data, 0o666); err != nil {
		monitoring.Logf("[driveripc] write config: %v", err)
		return false
	}
	return true
}

// WriteControlFlags writes the valid flags for the driver to pick up.
// Invalid flags are logged and skipped. It reports false when nothing valid
// was written.
func (b *FileBridge) WriteControlFlags(ctx context.Context, flags map[string]any) bool {
	data, rejected := encodeControlFlags(flags)
	for _, r := range rejected {
		monitoring.Logf("[driveripc] invalid control flag %s", r)
	}
	if len(data) == 0 {
		return false
	}
	if err := b.fs.WriteFile(b.paths.ControlFlags, data, 0o666); err != nil {
		monitoring.Logf("[driveripc] write control flags: %v", err)
		return false
	}
	return true
}

// RetrieveDriverState reads the driver's state file.
func (b *FileBridge) RetrieveDriverState(ctx context.Context) (map[string]any, bool) {
	raw, err := b.readKeyValues(b.paths.DriverState)
	if errors.Is(err, fs.ErrNotExist) {
		raw = nil
	} else if err != nil {
		monitoring.Logf("[driveripc] read driver state: %v", err)
		return nil, false
	}
	return parseDriverState(raw, b.clock.Now()), true
}

// RequestToken asks the driver's license service to email a token.
func (b *FileBridge) RequestToken(ctx context.Context, email string) bool {
	monitoring.Logf("[driveripc] requesting a new token for %s", email)
	return b.runScript(ctx, "Token request sent", "--request-token", email)
}

// VerifyToken submits a token received by email.
func (b *FileBridge) VerifyToken(ctx context.Context, token string) bool {
	monitoring.Logf("[driveripc] verifying token")
	return b.runScript(ctx, "Token verified", "--verify-token", token)
}

func (b *FileBridge) runScript(ctx context.Context, want string, args ...string) bool {
	ctx, cancel := context.WithTimeout(ctx, b.scriptTimeout)
	defer cancel()

	var env []string
	if b.user != "" {
		env = append(env, "USER="+b.user)
	}
	out, err := b.runner.Run(ctx, env, b.paths.ConfigScript, args...)
	if err != nil {
		monitoring.Logf("[driveripc] config script %s failed: %v: %s", args[0], err, strings.TrimSpace(string(out)))
		return false
	}
	return string(bytes.TrimSpace(out)) == want
}
