package telemetry

// field describes one region of the telemetry buffer.
type field struct {
	offset int
	size   int
	count  int
}

func (f field) len() int { return f.size * f.count }
func (f field) end() int { return f.offset + f.len() }

// after declares a field that starts where prev ends.
func after(prev field, size, count int) field {
	return field{offset: prev.end(), size: size, count: count}
}

const (
	u8Size  = 1
	u32Size = 4
	f32Size = 4

	// quatRows is the number of quaternion-sized rows in the orientation and
	// smooth-follow-origin blocks. Rows 0 and 1 are rotations, row 2 is
	// discarded and row 3 carries sample timestamps.
	quatRows = 4
)

// Fields in wire order. Each one begins where the previous ends.
var (
	fieldVersion            = field{offset: 0, size: u8Size, count: 1}
	fieldEnabled            = after(fieldVersion, u8Size, 1)
	fieldLookAhead          = after(fieldEnabled, f32Size, 4)
	fieldDisplayResolution  = after(fieldLookAhead, u32Size, 2)
	fieldDiagonalFOV        = after(fieldDisplayResolution, f32Size, 1)
	fieldLensDistanceRatio  = after(fieldDiagonalFOV, f32Size, 1)
	fieldSideBySide         = after(fieldLensDistanceRatio, u8Size, 1)
	fieldCustomBanner       = after(fieldSideBySide, u8Size, 1)
	fieldSmoothFollow       = after(fieldCustomBanner, u8Size, 1)
	fieldSmoothFollowOrigin = after(fieldSmoothFollow, f32Size, 4*quatRows)
	fieldPosePosition       = after(fieldSmoothFollowOrigin, f32Size, 3)
	fieldPoseDate           = after(fieldPosePosition, u32Size, 2)
	fieldPoseOrientation    = after(fieldPoseDate, f32Size, 4*quatRows)
	fieldParity             = after(fieldPoseOrientation, u8Size, 1)
)

// Length is the exact byte length of a telemetry buffer.
var Length = fieldParity.end()
