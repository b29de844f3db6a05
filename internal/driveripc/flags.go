package driveripc

import (
	"bytes"
	"fmt"
	"sort"
)

// Control flags understood by the driver.
const (
	FlagRecenterScreen     = "recenter_screen"
	FlagRecalibrate        = "recalibrate"
	FlagSBSMode            = "sbs_mode"
	FlagRefreshLicense     = "refresh_device_license"
	FlagEnableSmoothFollow = "enable_breezy_desktop_smooth_follow"
	FlagToggleSmoothFollow = "toggle_breezy_desktop_smooth_follow"
	FlagDisplayDistance    = "breezy_desktop_display_distance"
	FlagFollowThreshold    = "breezy_desktop_follow_threshold"
)

type flagKind int

const (
	boolFlag flagKind = iota
	numberFlag
	sbsFlag
)

var controlFlags = map[string]flagKind{
	FlagRecenterScreen:     boolFlag,
	FlagRecalibrate:        boolFlag,
	FlagRefreshLicense:     boolFlag,
	FlagEnableSmoothFollow: boolFlag,
	FlagToggleSmoothFollow: boolFlag,
	FlagSBSMode:            sbsFlag,
	FlagDisplayDistance:    numberFlag,
	FlagFollowThreshold:    numberFlag,
}

var sbsModeValues = map[string]bool{"unset": true, "enable": true, "disable": true}

// encodeControlFlags renders the valid flags as key=value lines with sorted
// keys and reports the flags it rejected.
func encodeControlFlags(flags map[string]any) ([]byte, []string) {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var rejected []string
	for _, k := range keys {
		v := flags[k]
		kind, known := controlFlags[k]
		ok := false
		switch {
		case !known:
		case kind == boolFlag:
			_, ok = v.(bool)
		case kind == sbsFlag:
			s, isString := v.(string)
			ok = isString && sbsModeValues[s]
		case kind == numberFlag:
			switch v.(type) {
			case float64, float32, int, int64, uint32:
				ok = true
			}
		}
		if !ok {
			rejected = append(rejected, fmt.Sprintf("%s=%v", k, v))
			continue
		}
		s, err := formatValue(v)
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("%s=%v", k, v))
			continue
		}
		fmt.Fprintf(&buf, "%s=%s\n", k, s)
	}
	return buf.Bytes(), rejected
}
