package output

import (
	"context"
	"fmt"
	"io"
)

// LineReporter writes one "PWD of PID <pid>: <path>" line per observation.
type LineReporter struct {
	w io.Writer
}

// NewLineReporter creates a LineReporter writing to w, usually stdout.
func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w}
}

// Report writes the resolved path. The cwd check outcome does not change the line.
func (r *LineReporter) Report(_ context.Context, obs Observation) error {
	if _, err := fmt.Fprintf(r.w, "PWD of PID %d: %s\n", obs.Resolved.PID, obs.Resolved.Path); err != nil {
		return fmt.Errorf("writing report for pid %d: %w", obs.Resolved.PID, err)
	}
	return nil
}
