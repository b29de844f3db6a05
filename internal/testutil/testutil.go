// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/xrdesk/xrbridge/internal/telemetry"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Tilted is a non-identity orientation (about 20 degrees of yaw).
var Tilted = quat.Number{Real: 0.98481, Jmag: 0.17365}

// UsableFrame returns a frame that passes every usability check at now,
// with the given newest orientation.
func UsableFrame(now time.Time, orientation quat.Number) telemetry.Frame {
	return telemetry.Frame{
		Version:             telemetry.ExpectedVersion,
		Enabled:             true,
		LookAheadConfig:     [4]float32{10, 1.25, 20, 0},
		DisplayResolution:   [2]uint32{1920, 1080},
		DiagonalFOV:         46,
		LensDistanceRatio:   0.035,
		SmoothFollowEnabled: false,
		SmoothFollowOrigin:  [2]quat.Number{telemetry.Identity, telemetry.Identity},
		PosePosition:        telemetry.Vec3{X: 0.01, Y: 0.02, Z: -0.03},
		PoseDateMs:          uint64(now.UnixMilli()),
		PoseOrientation:     [2]quat.Number{orientation, Tilted},
		SampleTimestampsMs:  [3]float32{1016, 1000, 984},
	}
}
