package telemetry

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Encode writes f in the driver's wire format, converting rotations and the
// position back to North-West-Up and computing the parity byte. ElapsedMs and
// Parity are derived and ignored on input. The discarded orientation row and
// the unused smooth-follow rows are written as zeros.
func Encode(f Frame) []byte {
	buf := make([]byte, Length)
	w := writer(buf)

	w.u8(fieldVersion, f.Version)
	w.u8(fieldEnabled, boolByte(f.Enabled))
	for i, v := range f.LookAheadConfig {
		w.f32(fieldLookAhead, i, v)
	}
	for i, v := range f.DisplayResolution {
		w.u32(fieldDisplayResolution, i, v)
	}
	w.f32(fieldDiagonalFOV, 0, f.DiagonalFOV)
	w.f32(fieldLensDistanceRatio, 0, f.LensDistanceRatio)
	w.u8(fieldSideBySide, boolByte(f.SideBySideEnabled))
	w.u8(fieldCustomBanner, boolByte(f.CustomBannerEnabled))
	w.u8(fieldSmoothFollow, boolByte(f.SmoothFollowEnabled))
	for i, q := range f.SmoothFollowOrigin {
		w.quatRow(fieldSmoothFollowOrigin, i, EUSToNWU(q))
	}

	p := EUSToNWUVec(f.PosePosition)
	w.f32(fieldPosePosition, 0, float32(p.X))
	w.f32(fieldPosePosition, 1, float32(p.Y))
	w.f32(fieldPosePosition, 2, float32(p.Z))

	binary.LittleEndian.PutUint64(buf[fieldPoseDate.offset:fieldPoseDate.end()], f.PoseDateMs)
	for i, q := range f.PoseOrientation {
		w.quatRow(fieldPoseOrientation, i, EUSToNWU(q))
	}
	for i, ts := range f.SampleTimestampsMs {
		w.f32(fieldPoseOrientation, 3*4+i, ts)
	}

	buf[fieldParity.offset] = parity(buf)
	return buf
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

type writer []byte

func (w writer) u8(f field, v uint8) {
	w[f.offset] = v
}

func (w writer) u32(f field, i int, v uint32) {
	o := f.offset + i*f.size
	binary.LittleEndian.PutUint32(w[o:o+4], v)
}

func (w writer) f32(f field, i int, v float32) {
	w.u32(f, i, math.Float32bits(v))
}

func (w writer) quatRow(f field, row int, q quat.Number) {
	base := row * 4
	w.f32(f, base, float32(q.Imag))
	w.f32(f, base+1, float32(q.Jmag))
	w.f32(f, base+2, float32(q.Kmag))
	w.f32(f, base+3, float32(q.Real))
}
