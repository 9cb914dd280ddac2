// Package timesync converts kernel event timestamps to wall-clock time.
//
// Process connector events are stamped in nanoseconds since boot. This
// package anchors them to the boot time read from /proc/stat (through
// procfs) and adds the event offset.
package timesync
