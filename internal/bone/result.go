package bone

import (
	"encoding/json"
	"math"
	"strconv"
)

// CheckInResult is the cloud's answer to a check-in. Besides ddns and
// publicIp it may carry any other fields; all of it is stored verbatim.
type CheckInResult map[string]any

// DDNS returns the ddns directive, nil when absent.
func (r CheckInResult) DDNS() any { return r["ddns"] }

// PublicIP returns the public IP as seen by the cloud, nil when absent.
func (r CheckInResult) PublicIP() any { return r["publicIp"] }

// Truthy reports whether v counts as set. Null, false, zero and the empty
// string do not; objects and arrays always do, even when empty.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		return err != nil || (f != 0 && !math.IsNaN(f))
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}
