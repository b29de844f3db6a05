// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/xrdesk/xrbridge/internal/driveripc"
	"github.com/xrdesk/xrbridge/internal/smoothfollow"
	"github.com/xrdesk/xrbridge/internal/telemetry"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// DefaultConfigPath is the documented defaults file in the repository.
const DefaultConfigPath = "config/xrbridge.defaults.jsonc"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the daemon configuration. Every field is optional; the Get*
// methods supply defaults for fields the file leaves out.
type Config struct {
	// Telemetry
	TelemetryPath         *string `json:"telemetry_path,omitempty"`
	PollInterval          *string `json:"poll_interval,omitempty"` // duration string like "250ms"
	Watch                 *bool   `json:"watch,omitempty"`
	FreshnessWindow       *string `json:"freshness_window,omitempty"`
	GracePeriod           *string `json:"grace_period,omitempty"`
	ConfigRefreshInterval *string `json:"config_refresh_interval,omitempty"`
	ExpectedVersion       *int    `json:"expected_version,omitempty"`

	// Driver bridge
	DriverBridge        *bool   `json:"driver_bridge,omitempty"`
	BridgeTimeout       *string `json:"bridge_timeout,omitempty"`
	DriverControlPath   *string `json:"driver_control_path,omitempty"`
	DriverStatePath     *string `json:"driver_state_path,omitempty"`
	DriverConfigPath    *string `json:"driver_config_path,omitempty"`
	DriverConfigScript  *string `json:"driver_config_script,omitempty"`
	DriverScriptTimeout *string `json:"driver_script_timeout,omitempty"`

	// Virtual displays
	VirtualDisplayPrefix    *string `json:"virtual_display_prefix,omitempty"`
	VirtualDisplayHelper    *string `json:"virtual_display_helper,omitempty"`
	VirtualDisplayFramerate *int    `json:"virtual_display_framerate,omitempty"`
	VirtualDisplayStore     *string `json:"virtual_display_store,omitempty"`
	RemoveDisplaysOnDisable *bool   `json:"remove_virtual_displays_on_disable,omitempty"`

	// Smooth follow and cursor
	FocusedDisplayDistance *float64 `json:"focused_display_distance,omitempty"`
	AllDisplaysDistance    *float64 `json:"all_displays_distance,omitempty"`
	ZoomOnFocus            *bool    `json:"zoom_on_focus,omitempty"`
	FollowThreshold        *float64 `json:"follow_threshold,omitempty"`
	CursorFallbackPadding  *float64 `json:"cursor_fallback_padding,omitempty"`

	// Servers and storage
	ListenAddr *string `json:"listen_addr,omitempty"`
	GRPCSocket *string `json:"grpc_socket,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	CaptureDir *string `json:"capture_dir,omitempty"`
	AuthSecret *string `json:"auth_secret,omitempty"`

	// Logging
	LogFile *string `json:"log_file,omitempty"`
	Debug   *bool   `json:"debug,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a JSON config file. Comments and trailing commas are allowed.
// The file must have a .json or .jsonc extension and be under 1MB. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".jsonc" {
		return nil, fmt.Errorf("config file must have .json or .jsonc extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates config data.
func Parse(data []byte) (*Config, error) {
	cfg := Empty()
	if err := unmarshalStrict(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// current directory. It panics on failure and is intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	for name, d := range map[string]*string{
		"poll_interval":           c.PollInterval,
		"freshness_window":        c.FreshnessWindow,
		"grace_period":            c.GracePeriod,
		"config_refresh_interval": c.ConfigRefreshInterval,
		"bridge_timeout":          c.BridgeTimeout,
		"driver_script_timeout":   c.DriverScriptTimeout,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *d)
		}
	}

	if d := c.ConfigRefreshInterval; d != nil && *d != "" {
		if v, _ := time.ParseDuration(*d); v < MinConfigRefreshInterval {
			return fmt.Errorf("config_refresh_interval must be at least %s, got %s", MinConfigRefreshInterval, *d)
		}
	}

	if c.ExpectedVersion != nil && (*c.ExpectedVersion < 0 || *c.ExpectedVersion > 255) {
		return fmt.Errorf("expected_version must be between 0 and 255, got %d", *c.ExpectedVersion)
	}
	if c.VirtualDisplayFramerate != nil && (*c.VirtualDisplayFramerate < 1 || *c.VirtualDisplayFramerate > 240) {
		return fmt.Errorf("virtual_display_framerate must be between 1 and 240, got %d", *c.VirtualDisplayFramerate)
	}
	for name, d := range map[string]*float64{
		"focused_display_distance": c.FocusedDisplayDistance,
		"all_displays_distance":    c.AllDisplaysDistance,
	} {
		if d != nil && (*d < smoothfollow.MinDistance || *d > smoothfollow.MaxDistance) {
			return fmt.Errorf("%s must be between %g and %g, got %g", name, smoothfollow.MinDistance, smoothfollow.MaxDistance, *d)
		}
	}
	if c.FollowThreshold != nil && (*c.FollowThreshold < smoothfollow.MinThreshold || *c.FollowThreshold > smoothfollow.MaxThreshold) {
		return fmt.Errorf("follow_threshold must be between %g and %g, got %g", smoothfollow.MinThreshold, smoothfollow.MaxThreshold, *c.FollowThreshold)
	}
	if c.CursorFallbackPadding != nil && *c.CursorFallbackPadding < 0 {
		return fmt.Errorf("cursor_fallback_padding must be non-negative, got %g", *c.CursorFallbackPadding)
	}
	return nil
}

func duration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func str(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func boolean(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func float(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}

// GetTelemetryPath returns the shared telemetry file path.
func (c *Config) GetTelemetryPath() string {
	return str(c.TelemetryPath, telemetry.DefaultPath)
}

// GetPollInterval returns the watchdog poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return duration(c.PollInterval, 250*time.Millisecond)
}

// GetWatch reports whether filesystem notifications supplement polling.
func (c *Config) GetWatch() bool {
	return boolean(c.Watch, true)
}

// GetFreshnessWindow returns how far a pose timestamp may be from now.
func (c *Config) GetFreshnessWindow() time.Duration {
	return duration(c.FreshnessWindow, telemetry.FreshnessWindow)
}

// GetGracePeriod returns the deactivation grace period.
func (c *Config) GetGracePeriod() time.Duration {
	return duration(c.GracePeriod, time.Second)
}

// MinConfigRefreshInterval bounds how often device properties are re-read.
const MinConfigRefreshInterval = time.Second

// GetConfigRefreshInterval returns the device configuration refresh cadence.
func (c *Config) GetConfigRefreshInterval() time.Duration {
	return duration(c.ConfigRefreshInterval, time.Second)
}

// GetExpectedVersion returns the telemetry layout version to accept.
func (c *Config) GetExpectedVersion() uint8 {
	if c.ExpectedVersion == nil {
		return telemetry.ExpectedVersion
	}
	return uint8(*c.ExpectedVersion)
}

// Validator returns the frame validator for the telemetry settings.
func (c *Config) Validator() telemetry.Validator {
	return telemetry.Validator{Version: c.GetExpectedVersion(), Freshness: c.GetFreshnessWindow()}
}

// GetDriverBridge reports whether the file bridge to the driver is used.
func (c *Config) GetDriverBridge() bool {
	return boolean(c.DriverBridge, true)
}

// GetBridgeTimeout returns the timeout for each bridge call from the engine.
func (c *Config) GetBridgeTimeout() time.Duration {
	return duration(c.BridgeTimeout, 2*time.Second)
}

// GetDriverScriptTimeout returns the timeout for driver config script runs.
func (c *Config) GetDriverScriptTimeout() time.Duration {
	return duration(c.DriverScriptTimeout, driveripc.DefaultScriptTimeout)
}

// GetDriverPaths returns the driver file locations, defaulting relative to home.
func (c *Config) GetDriverPaths(home string) driveripc.Paths {
	return driveripc.Paths{
		ControlFlags: str(c.DriverControlPath, ""),
		DriverState:  str(c.DriverStatePath, ""),
		Config:       str(c.DriverConfigPath, ""),
		ConfigScript: str(c.DriverConfigScript, ""),
	}.WithDefaults(home)
}

// GetVirtualDisplayPrefix returns the prefix for virtual display ids.
func (c *Config) GetVirtualDisplayPrefix() string {
	return str(c.VirtualDisplayPrefix, vdisplay.DefaultPrefix)
}

// GetVirtualDisplayHelper returns the helper executable; empty selects the
// in-memory backend.
func (c *Config) GetVirtualDisplayHelper() string {
	return str(c.VirtualDisplayHelper, "")
}

// GetVirtualDisplayFramerate returns the helper framerate.
func (c *Config) GetVirtualDisplayFramerate() int {
	if c.VirtualDisplayFramerate == nil {
		return vdisplay.DefaultFramerate
	}
	return *c.VirtualDisplayFramerate
}

// GetVirtualDisplayStore returns where the display list is persisted.
func (c *Config) GetVirtualDisplayStore() string {
	return str(c.VirtualDisplayStore, vdisplay.DefaultStorePath)
}

// GetRemoveDisplaysOnDisable reports whether deactivation tears down displays.
func (c *Config) GetRemoveDisplaysOnDisable() bool {
	return boolean(c.RemoveDisplaysOnDisable, false)
}

// GetFocusedDisplayDistance returns the focused display distance.
func (c *Config) GetFocusedDisplayDistance() float64 {
	return float(c.FocusedDisplayDistance, smoothfollow.DefaultDistance)
}

// GetAllDisplaysDistance returns the distance for unfocused displays.
func (c *Config) GetAllDisplaysDistance() float64 {
	return float(c.AllDisplaysDistance, smoothfollow.DefaultDistance)
}

// GetZoomOnFocus reports whether the focused display is pulled closer.
func (c *Config) GetZoomOnFocus() bool {
	return boolean(c.ZoomOnFocus, false)
}

// GetFollowThreshold returns the smooth-follow threshold in degrees.
func (c *Config) GetFollowThreshold() float64 {
	return float(c.FollowThreshold, smoothfollow.DefaultThreshold)
}

// GetCursorFallbackPadding returns the padding used when the cursor size is unknown.
func (c *Config) GetCursorFallbackPadding() float64 {
	return float(c.CursorFallbackPadding, 10)
}

// GetListenAddr returns the HTTP listen address.
func (c *Config) GetListenAddr() string {
	return str(c.ListenAddr, "127.0.0.1:8787")
}

// GetGRPCSocket returns the unix socket for the plugin channel.
func (c *Config) GetGRPCSocket() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return str(c.GRPCSocket, filepath.Join(dir, "xrbridge.sock"))
}

// GetDBPath returns the history database path.
func (c *Config) GetDBPath() string {
	return str(c.DBPath, "xrbridge.db")
}

// GetCaptureDir returns where telemetry captures are written.
func (c *Config) GetCaptureDir() string {
	return str(c.CaptureDir, "captures")
}

// GetAuthSecret returns the bearer token secret; empty disables auth.
func (c *Config) GetAuthSecret() string {
	return str(c.AuthSecret, "")
}

// GetLogFile returns the log file; empty logs to stderr.
func (c *Config) GetLogFile() string {
	return str(c.LogFile, "")
}

// GetDebug reports whether debug logging is on.
func (c *Config) GetDebug() bool {
	return boolean(c.Debug, false)
}
