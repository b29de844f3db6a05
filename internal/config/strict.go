package config

import (
	"bytes"
	"encoding/json"
)

// unmarshalStrict rejects unknown fields so that typos in the file are
// reported instead of silently ignored.
func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
