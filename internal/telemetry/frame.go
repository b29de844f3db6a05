// Package telemetry decodes the fixed-layout pose buffer that the XR driver
// publishes in shared memory.
//
// The producer writes the buffer without any lock shared with readers, so a
// read may observe a torn write. The exact length and the parity byte are the
// only guard: any mismatch means "no new data this poll".
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
)

const (
	// ExpectedVersion is the layout version this decoder understands.
	ExpectedVersion uint8 = 5

	// FreshnessWindow is how old a pose timestamp may be before the frame is stale.
	FreshnessWindow = 5000 * time.Millisecond

	// DefaultPath is where the driver publishes the buffer.
	DefaultPath = "/dev/shm/breezy_desktop_imu"
)

// Decode errors. None of them is ever surfaced to a user; they only mean the
// current poll produced no usable frame.
var (
	ErrSizeMismatch      = errors.New("telemetry: size mismatch")
	ErrParityMismatch    = errors.New("telemetry: parity mismatch")
	ErrVersionMismatch   = errors.New("telemetry: version mismatch")
	ErrDisabled          = errors.New("telemetry: enabled flag not set")
	ErrStaleData         = errors.New("telemetry: stale data")
	ErrInvalidDeviceData = errors.New("telemetry: invalid device data")
)

// Vec3 is a position vector.
type Vec3 struct {
	X, Y, Z float64
}

// Frame is one decoded telemetry buffer. Rotations and the position are in
// the consumer's East-Up-South convention.
type Frame struct {
	Version             uint8
	Enabled             bool
	LookAheadConfig     [4]float32
	DisplayResolution   [2]uint32
	DiagonalFOV         float32
	LensDistanceRatio   float32
	SideBySideEnabled   bool
	CustomBannerEnabled bool
	SmoothFollowEnabled bool

	// SmoothFollowOrigin holds rows 0 and 1 of the origin block.
	SmoothFollowOrigin [2]quat.Number
	PosePosition       Vec3
	PoseDateMs         uint64

	// PoseOrientation holds T0 (newest) and T1 (previous).
	PoseOrientation [2]quat.Number

	// SampleTimestampsMs are the capture times of samples 0 to 2, taken from
	// the fourth orientation row.
	SampleTimestampsMs [3]float32

	// ElapsedMs is the time between T0 and T1. It may wrap.
	ElapsedMs uint32

	Parity uint8
}

// PoseTime returns the pose timestamp as a time.Time.
func (f Frame) PoseTime() time.Time {
	return time.UnixMilli(int64(f.PoseDateMs))
}

// Validator checks whether a structurally valid frame is usable.
type Validator struct {
	Version   uint8
	Freshness time.Duration
}

// DefaultValidator applies the wire defaults.
var DefaultValidator = Validator{Version: ExpectedVersion, Freshness: FreshnessWindow}

// Decode is DefaultValidator.Decode.
func Decode(buf []byte, now time.Time) (Frame, error) {
	return DefaultValidator.Decode(buf, now)
}

// Decode parses buf and checks that the frame is usable at now.
func (v Validator) Decode(buf []byte, now time.Time) (Frame, error) {
	f, err := DecodeRaw(buf)
	if err != nil {
		return Frame{}, err
	}
	if err := v.Check(f, now); err != nil {
		return f, err
	}
	return f, nil
}

// Check reports why f is not usable at now, or nil when it is.
func (v Validator) Check(f Frame, now time.Time) error {
	if f.Version != v.Version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, f.Version, v.Version)
	}
	if !f.Enabled {
		return ErrDisabled
	}
	// The driver's clock may lead ours slightly, so the window applies in
	// both directions.
	age := now.UnixMilli() - int64(f.PoseDateMs)
	window := v.Freshness.Milliseconds()
	if age >= window || age <= -window {
		return fmt.Errorf("%w: pose is %d ms old", ErrStaleData, age)
	}
	if f.DiagonalFOV == 0 {
		return fmt.Errorf("%w: diagonal FOV is zero", ErrInvalidDeviceData)
	}
	return nil
}

// DecodeRaw checks the length and parity of buf and decodes every field
// without judging whether the frame is usable.
func DecodeRaw(buf []byte) (Frame, error) {
	if len(buf) != Length {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(buf), Length)
	}
	want := parity(buf)
	got := buf[fieldParity.offset]
	if got != want {
		return Frame{}, fmt.Errorf("%w: got %#02x, want %#02x", ErrParityMismatch, got, want)
	}

	r := reader(buf)
	f := Frame{
		Version:             r.u8(fieldVersion),
		Enabled:             r.u8(fieldEnabled) != 0,
		DiagonalFOV:         r.f32(fieldDiagonalFOV, 0),
		LensDistanceRatio:   r.f32(fieldLensDistanceRatio, 0),
		SideBySideEnabled:   r.u8(fieldSideBySide) != 0,
		CustomBannerEnabled: r.u8(fieldCustomBanner) != 0,
		SmoothFollowEnabled: r.u8(fieldSmoothFollow) != 0,
		PoseDateMs:          binary.LittleEndian.Uint64(buf[fieldPoseDate.offset:fieldPoseDate.end()]),
		Parity:              got,
	}
	for i := range f.LookAheadConfig {
		f.LookAheadConfig[i] = r.f32(fieldLookAhead, i)
	}
	for i := range f.DisplayResolution {
		f.DisplayResolution[i] = r.u32(fieldDisplayResolution, i)
	}
	for i := range f.SmoothFollowOrigin {
		f.SmoothFollowOrigin[i] = NWUToEUS(r.quatRow(fieldSmoothFollowOrigin, i))
	}
	f.PosePosition = NWUToEUSVec(Vec3{
		X: float64(r.f32(fieldPosePosition, 0)),
		Y: float64(r.f32(fieldPosePosition, 1)),
		Z: float64(r.f32(fieldPosePosition, 2)),
	})
	for i := range f.PoseOrientation {
		f.PoseOrientation[i] = NWUToEUS(r.quatRow(fieldPoseOrientation, i))
	}

	// Row 2 is skipped; row 3 holds timestamps rather than a rotation.
	for i := range f.SampleTimestampsMs {
		f.SampleTimestampsMs[i] = r.f32(fieldPoseOrientation, 3*4+i)
	}
	f.ElapsedMs = elapsed(f.SampleTimestampsMs[0], f.SampleTimestampsMs[1])
	return f, nil
}

func elapsed(t0, t1 float32) uint32 {
	d := float64(t0) - float64(t1)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return uint32(int64(d))
}

// parity is the XOR of the pose-date and pose-orientation regions.
func parity(buf []byte) uint8 {
	var p uint8
	for _, b := range buf[fieldPoseDate.offset:fieldPoseDate.end()] {
		p ^= b
	}
	for _, b := range buf[fieldPoseOrientation.offset:fieldPoseOrientation.end()] {
		p ^= b
	}
	return p
}

type reader []byte

func (r reader) u8(f field) uint8 {
	return r[f.offset]
}

func (r reader) u32(f field, i int) uint32 {
	o := f.offset + i*f.size
	return binary.LittleEndian.Uint32(r[o : o+4])
}

func (r reader) f32(f field, i int) float32 {
	return math.Float32frombits(r.u32(f, i))
}

// quatRow reads row i of a quaternion block stored as x, y, z, w.
func (r reader) quatRow(f field, row int) quat.Number {
	base := row * 4
	return quat.Number{
		Imag: float64(r.f32(f, base)),
		Jmag: float64(r.f32(f, base+1)),
		Kmag: float64(r.f32(f, base+2)),
		Real: float64(r.f32(f, base+3)),
	}
}
