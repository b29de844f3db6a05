package driveripc

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type parseFunc func(value string, def any) any

type configEntry struct {
	parse parseFunc
	def   any
}

var configEntries = map[string]configEntry{
	"disabled":                              {parseBool, true},
	"output_mode":                           {parseString, "mouse"},
	"external_mode":                         {parseList, []string{"none"}},
	"mouse_sensitivity":                     {parseInt, 30},
	"display_zoom":                          {parseFloat, 1.0},
	"look_ahead":                            {parseInt, 0},
	"sbs_display_size":                      {parseFloat, 1.0},
	"sbs_display_distance":                  {parseFloat, 1.0},
	"sbs_content":                           {parseBool, false},
	"sbs_mode_stretched":                    {parseBool, false},
	"sideview_position":                     {parseString, "center"},
	"sideview_display_size":                 {parseFloat, 1.0},
	"virtual_display_smooth_follow_enabled": {parseBool, false},
	"sideview_smooth_follow_enabled":        {parseBool, false},
}

// External modes the bridge manages. Any other external_mode value belongs
// to another tool and is preserved.
var managedExternalModes = []string{"virtual_display", "sideview", "breezy_desktop", "none"}

var vrLiteOutputModes = map[string]bool{"mouse": true, "joystick": true}

func parseBool(v string, def any) any {
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

func parseInt(v string, def any) any {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseFloat(v string, def any) any {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func parseString(v string, def any) any {
	if v == "" {
		return def
	}
	return v
}

func parseList(v string, def any) any {
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

// parseKeyValues reads key=value lines, skipping blank and malformed lines.
func parseKeyValues(data []byte) (map[string]string, []string) {
	out := make(map[string]string)
	var bad []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			bad = append(bad, line)
			continue
		}
		out[k] = v
	}
	return out, bad
}

// typedConfig applies the known entries with defaults to raw values.
func typedConfig(raw map[string]string) map[string]any {
	cfg := make(map[string]any, len(configEntries)+1)
	for k, e := range configEntries {
		cfg[k] = e.def
		if v, ok := raw[k]; ok {
			cfg[k] = e.parse(v, e.def)
		}
	}
	cfg["ui_view"] = map[string]any{
		"headset_mode":     headsetMode(cfg),
		"is_joystick_mode": cfg["output_mode"] == "joystick",
	}
	return cfg
}

// headsetMode summarizes the config the way the settings UI presents it.
func headsetMode(cfg map[string]any) string {
	if disabled, _ := cfg["disabled"].(bool); disabled {
		return "disabled"
	}
	if mode, _ := cfg["output_mode"].(string); vrLiteOutputModes[mode] {
		return "vr_lite"
	}
	modes, _ := cfg["external_mode"].([]string)
	for _, managed := range managedExternalModes {
		for _, m := range modes {
			if m == managed && m != "none" {
				return m
			}
		}
	}
	return "disabled"
}

// formatValue renders a config or control flag value for a key=value file.
func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		if strings.ContainsAny(x, "\n=") {
			return "", fmt.Errorf("value %q contains a reserved character", x)
		}
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []string:
		for _, s := range x {
			if strings.ContainsAny(s, "\n=,") {
				return "", fmt.Errorf("list value %q contains a reserved character", s)
			}
		}
		return strings.Join(x, ","), nil
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return "", fmt.Errorf("list element %v is not a string", e)
			}
			parts = append(parts, s)
		}
		return formatValue(parts)
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// mergeConfig overlays update onto the raw file contents and renders the
// result with sorted keys. Keys unknown to the bridge are preserved.
func mergeConfig(raw map[string]string, update map[string]any) ([]byte, error) {
	merged := make(map[string]string, len(raw)+len(update))
	for k, v := range raw {
		merged[k] = v
	}
	for k, v := range update {
		if k == "ui_view" || k == "updated" {
			continue
		}
		if strings.ContainsAny(k, "\n= ") || k == "" {
			return nil, fmt.Errorf("invalid config key %q", k)
		}
		s, err := formatValue(v)
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
		merged[k] = s
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, merged[k])
	}
	return buf.Bytes(), nil
}

// EnableUpdate is the config update that hands the headset to the desktop effect.
func EnableUpdate() map[string]any {
	return map[string]any{
		"disabled":      false,
		"output_mode":   "external_only",
		"external_mode": []string{"breezy_desktop"},
	}
}

// DisableUpdate is the config update that turns the driver off.
func DisableUpdate() map[string]any {
	return map[string]any{
		"disabled":      true,
		"external_mode": []string{"none"},
	}
}
