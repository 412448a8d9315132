//go:build linux

package timecredit

import (
	"time"

	"golang.org/x/sys/unix"
)

// bootSeconds reads CLOCK_BOOTTIME: seconds since boot, including suspend.
// Unaffected by wall-clock changes, survives process restarts, resets on
// reboot.
func bootSeconds() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		// CLOCK_BOOTTIME exists on every kernel this runs on; fall back to
		// wall seconds rather than stopping the clock.
		return time.Now().Unix()
	}
	return ts.Sec
}
