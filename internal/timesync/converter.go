package timesync

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Converter handles conversion from monotonic timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter creates a converter anchored at the boot time reported by the
// proc filesystem at procRoot. When that cannot be read, the boot time is
// derived from the monotonic clock instead and the read error is returned
// alongside a usable converter.
func NewConverter(procRoot string) (*Converter, error) {
	bootTime, err := readBootTime(procRoot)
	if err != nil {
		fallback, clockErr := monotonicBootTime(time.Now())
		if clockErr != nil {
			return nil, fmt.Errorf("boot time unavailable: %w; %w", err, clockErr)
		}
		return &Converter{bootTime: fallback}, err
	}

	return &Converter{bootTime: bootTime}, nil
}

// NewConverterAt creates a converter with a fixed boot time.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts a monotonic timestamp (nanoseconds since boot) to wall-clock time.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // uint64 to int64 conversion for time.Duration is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the system boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

func readBootTime(procRoot string) (time.Time, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return time.Time{}, fmt.Errorf("opening procfs at %s: %w", procRoot, err)
	}

	stat, err := fs.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading kernel stat: %w", err)
	}
	if stat.BootTime == 0 {
		return time.Time{}, fmt.Errorf("btime not found in %s/stat", procRoot)
	}

	//nolint:gosec // boot time in seconds fits in int64
	return time.Unix(int64(stat.BootTime), 0), nil
}

// monotonicBootTime subtracts the monotonic clock from now.
func monotonicBootTime(now time.Time) (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Time{}, fmt.Errorf("reading monotonic clock: %w", err)
	}
	return now.Add(-time.Duration(ts.Nano())), nil
}
