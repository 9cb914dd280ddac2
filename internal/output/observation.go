package output

import (
	"context"
	"errors"

	"github.com/mrzor/pwd-tracer/internal/cwdcheck"
	"github.com/mrzor/pwd-tracer/internal/procevent"
	"github.com/mrzor/pwd-tracer/internal/pwdresolver"
)

// Observation is everything learned about one child of the tracked shell.
type Observation struct {
	Event    procevent.Event
	Resolved pwdresolver.Resolved

	// Check is the comparison with the shell's current directory. When
	// CheckErr is set, only the fields read before the failure are filled.
	Check    cwdcheck.Result
	CheckErr error

	// Env is the child's environment after resolution. It is only read when
	// custom attributes need it.
	Env map[string]string
}

// Reporter emits observations.
type Reporter interface {
	Report(ctx context.Context, obs Observation) error
}

// Reporters fans an observation out to several reporters in order.
type Reporters []Reporter

// Report calls every reporter, even after one fails.
func (rs Reporters) Report(ctx context.Context, obs Observation) error {
	var errs []error
	for _, r := range rs {
		if err := r.Report(ctx, obs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
