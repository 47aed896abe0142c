package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Processor payloads carry epoch timestamps whose unit is not declared:
// most endpoints send seconds, a few legacy exports send milliseconds, and
// replayed or hand-crafted events occasionally carry garbage. Values at or
// above this threshold are treated as milliseconds.
const millisecondThreshold = 10_000_000_000

// NormalizeEpoch converts a raw numeric value of unknown unit into a valid
// time. It is total over all inputs: nil, non-numeric and non-positive
// values yield the current time instead of an error, because this feeds the
// reconciliation pipeline where a safe "now" beats aborting a batch run.
func NormalizeEpoch(raw interface{}) time.Time {
	switch v := raw.(type) {
	case nil:
		return time.Now()
	case int:
		return NormalizeEpochInt64(int64(v))
	case int64:
		return NormalizeEpochInt64(v)
	case float64:
		return NormalizeEpochInt64(int64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Now()
		}
		return NormalizeEpochInt64(int64(f))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return time.Now()
		}
		return NormalizeEpochInt64(int64(f))
	default:
		return time.Now()
	}
}

// NormalizeEpochInt64 is the integer fast path used for processor fields
// that are already numeric.
func NormalizeEpochInt64(v int64) time.Time {
	if v <= 0 {
		return time.Now()
	}
	if v < millisecondThreshold {
		return time.Unix(v, 0)
	}
	return time.UnixMilli(v)
}

// NormalizeEpochPtr returns nil for non-positive input and a normalized
// timestamp pointer otherwise. Used for optional period fields where "not
// set" must stay distinguishable from "now".
func NormalizeEpochPtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := NormalizeEpochInt64(v)
	return &t
}
