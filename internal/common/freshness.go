package common

import "time"

// FreshWithin reports whether an observation stamped at ts is still usable
// at the instant now, given a staleness window. An observation exactly at
// the window boundary is stale.
func FreshWithin(now, ts time.Time, window time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) < window
}
