//go:build !linux

package timecredit

import "time"

// bootSeconds falls back to wall seconds on platforms without a boot-time
// clock. Wall-clock jumps show up as rewinds or implausible intervals, both
// of which the engine's guards absorb.
func bootSeconds() int64 {
	return time.Now().Unix()
}
