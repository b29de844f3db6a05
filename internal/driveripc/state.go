package driveripc

import (
	"encoding/json"
	"strconv"
	"time"
)

// StateStaleAfter is how old the driver heartbeat may be before its state is ignored.
const StateStaleAfter = 5 * time.Second

// parseDriverState converts the driver's key=value state into typed values.
// When the heartbeat is missing or older than StateStaleAfter only the
// heartbeat and the device license are returned.
func parseDriverState(raw map[string]string, now time.Time) map[string]any {
	state := map[string]any{
		"heartbeat":                            int64(0),
		"connected_device_brand":               nil,
		"connected_device_model":               nil,
		"calibration_setup":                    "AUTOMATIC",
		"calibration_state":                    "NOT_CALIBRATED",
		"sbs_mode_enabled":                     false,
		"sbs_mode_supported":                   false,
		"firmware_update_recommended":          false,
		"device_license":                       map[string]any{},
		"breezy_desktop_smooth_follow_enabled": false,
	}

	for k, v := range raw {
		switch k {
		case "heartbeat":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				state[k] = n
			}
		case "calibration_setup", "calibration_state", "connected_device_brand", "connected_device_model":
			state[k] = v
		case "sbs_mode_enabled", "sbs_mode_supported", "firmware_update_recommended", "breezy_desktop_smooth_follow_enabled":
			state[k] = parseBool(v, false)
		case "device_license":
			var lic map[string]any
			if err := json.Unmarshal([]byte(v), &lic); err == nil && lic != nil {
				state[k] = lic
			}
		}
	}

	hb := state["heartbeat"].(int64)
	if hb == 0 || now.Sub(time.Unix(hb, 0)) > StateStaleAfter {
		return map[string]any{
			"heartbeat":      hb,
			"device_license": state["device_license"],
		}
	}
	return state
}
