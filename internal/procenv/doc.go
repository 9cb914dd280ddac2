// Package procenv reads point-in-time environment snapshots from /proc.
//
// /proc/<pid>/environ holds the environment the process was exec'd with as
// NUL-separated KEY=VALUE entries, in no particular order and with no
// guaranteed trailing NUL. The record is not live: it reflects whatever the
// process had in its initial stack area, and it disappears (or reads empty)
// once the process exits.
//
// Reads are bounded to MaxRecordSize bytes in a single pass. An entry that
// straddles that boundary is treated as absent rather than returned
// truncated. Callers that need to wait for a value to appear (see
// pwdresolver) do their own retrying; this package never retries.
package procenv
