package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

const (
	// secondsCutoff separates second-precision from millisecond-precision epochs.
	secondsCutoff = 1_000_000_000_000
	// maxMillis is 9999-12-31T23:59:59.999Z.
	maxMillis = 253_402_300_799_999
)

// NormalizeTimestamp converts ts to epoch milliseconds. Values below 10^12 are
// seconds; non-positive values and results past year 9999 are replaced by now.
func NormalizeTimestamp(ts int64, now time.Time) int64 {
	if ts <= 0 {
		return now.UnixMilli()
	}
	if ts < secondsCutoff {
		ts *= 1000
	}
	if ts > maxMillis {
		return now.UnixMilli()
	}
	return ts
}

// parseTimestamp accepts any JSON value. Anything that is not a finite whole
// number yields ok=false and the caller substitutes the current time.
func parseTimestamp(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, false
	}
	if i, err := num.Int64(); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/1000 {
		return 0, false
	}
	return int64(f), true
}
