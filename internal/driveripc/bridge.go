// Package driveripc talks to the XR driver process through the files and
// helper script the driver exposes.
//
// Every call is fallible and none of them returns an error: a failed call
// reports false (or no value) and callers carry on with no change.
package driveripc

import (
	"context"
	"path/filepath"
)

// Bridge is the driver IPC surface.
type Bridge interface {
	RetrieveConfig(ctx context.Context) (map[string]any, bool)
	WriteConfig(ctx context.Context, update map[string]any) bool
	WriteControlFlags(ctx context.Context, flags map[string]any) bool
	RetrieveDriverState(ctx context.Context) (map[string]any, bool)
	RequestToken(ctx context.Context, email string) bool
	VerifyToken(ctx context.Context, token string) bool
}

// Default driver file locations.
const (
	DefaultControlFlagsPath = "/dev/shm/xr_driver_control"
	DefaultDriverStatePath  = "/dev/shm/xr_driver_state"
)

// Paths locates the driver's files.
type Paths struct {
	// ControlFlags is written by the bridge and read by the driver.
	ControlFlags string
	// DriverState is written by the driver and read by the bridge.
	DriverState string
	// Config is the driver's key=value configuration file.
	Config string
	// ConfigScript handles license token requests.
	ConfigScript string
}

// DefaultPaths returns the standard locations for a user whose home is home.
func DefaultPaths(home string) Paths {
	return Paths{
		ControlFlags: DefaultControlFlagsPath,
		DriverState:  DefaultDriverStatePath,
		Config:       filepath.Join(home, ".xreal_driver_config"),
		ConfigScript: filepath.Join(home, "bin", "xreal_driver_config"),
	}
}

// WithDefaults fills empty fields from DefaultPaths(home).
func (p Paths) WithDefaults(home string) Paths {
	d := DefaultPaths(home)
	if p.ControlFlags == "" {
		p.ControlFlags = d.ControlFlags
	}
	if p.DriverState == "" {
		p.DriverState = d.DriverState
	}
	if p.Config == "" {
		p.Config = d.Config
	}
	if p.ConfigScript == "" {
		p.ConfigScript = d.ConfigScript
	}
	return p
}

// DisabledBridge is a Bridge for running without a driver. Every call fails softly.
type DisabledBridge struct{}

func (DisabledBridge) RetrieveConfig(context.Context) (map[string]any, bool)      { return nil, false }
func (DisabledBridge) WriteConfig(context.Context, map[string]any) bool           { return false }
func (DisabledBridge) WriteControlFlags(context.Context, map[string]any) bool     { return false }
func (DisabledBridge) RetrieveDriverState(context.Context) (map[string]any, bool) { return nil, false }
func (DisabledBridge) RequestToken(context.Context, string) bool                  { return false }
func (DisabledBridge) VerifyToken(context.Context, string) bool                   { return false }
