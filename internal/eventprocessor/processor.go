package eventprocessor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrzor/pwd-tracer/internal/cwdcheck"
	"github.com/mrzor/pwd-tracer/internal/output"
	"github.com/mrzor/pwd-tracer/internal/procevent"
	"github.com/mrzor/pwd-tracer/internal/pwdresolver"
)

// TrackingContext identifies the shell being traced. It is fixed at startup.
type TrackingContext struct {
	ShellPID int
	// BaselineLevel is the shell's own SHLVL, read once before tracing starts.
	BaselineLevel int
}

// Resolver resolves a child's working directory.
type Resolver interface {
	Resolve(pid, baselineLevel int, policy pwdresolver.RetryPolicy) (pwdresolver.Resolved, error)
}

// Checker compares a path with the shell's current directory.
type Checker interface {
	Check(shellPID int, candidate string) (cwdcheck.Result, error)
}

// EnvironmentReader returns a child's whole environment.
type EnvironmentReader interface {
	Environment(pid int) (map[string]string, error)
}

// Processor handles fork events for one tracked shell.
type Processor struct {
	tracking TrackingContext
	policy   pwdresolver.RetryPolicy
	resolver Resolver
	checker  Checker
	reporter output.Reporter
	logger   *zap.Logger

	// env is consulted only when set
	env EnvironmentReader
}

// Option configures a Processor.
type Option func(*Processor)

// WithEnvironment makes the processor attach the child's environment to each
// observation, for custom attribute expressions.
func WithEnvironment(env EnvironmentReader) Option {
	return func(p *Processor) { p.env = env }
}

// NewProcessor creates a processor for tracking.
func NewProcessor(
	tracking TrackingContext,
	policy pwdresolver.RetryPolicy,
	resolver Resolver,
	checker Checker,
	reporter output.Reporter,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		tracking: tracking,
		policy:   policy,
		resolver: resolver,
		checker:  checker,
		reporter: reporter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tracks reports whether event is a process fork of the tracked shell.
func (p *Processor) Tracks(event procevent.Event) bool {
	return event.Kind == procevent.KindFork &&
		event.ParentPID == p.tracking.ShellPID &&
		!event.IsThread()
}

// HandleFork resolves, checks and reports one fork event. Events that are not
// process forks of the tracked shell are ignored. The returned error concerns
// this event only; the caller logs it and moves on.
func (p *Processor) HandleFork(ctx context.Context, event procevent.Event) error {
	if !p.Tracks(event) {
		return nil
	}

	logger := p.logger.With(zap.Int("pid", event.ChildPID), zap.Int("ppid", event.ParentPID))

	resolved, err := p.resolver.Resolve(event.ChildPID, p.tracking.BaselineLevel, p.policy)
	if err != nil {
		return fmt.Errorf("resolving working directory of pid %d: %w", event.ChildPID, err)
	}

	obs := output.Observation{Event: event, Resolved: resolved}

	obs.Check, obs.CheckErr = p.checker.Check(p.tracking.ShellPID, resolved.Path)
	switch {
	case obs.CheckErr != nil:
		logger.Warn("could not compare with shell cwd",
			zap.String("pwd", resolved.Path),
			zap.Error(obs.CheckErr),
		)
	case !obs.Check.Match:
		logger.Warn("PWD does not match shell cwd",
			zap.String("pwd", resolved.Path),
			zap.String("canonical", obs.Check.Canonical),
			zap.String("shell_cwd", obs.Check.ShellCwd),
		)
	default:
		logger.Debug("PWD matches shell cwd", zap.String("pwd", resolved.Path))
	}

	if p.env != nil {
		env, err := p.env.Environment(event.ChildPID)
		if err != nil {
			logger.Debug("child environment unavailable for attributes", zap.Error(err))
		}
		obs.Env = env
	}

	if err := p.reporter.Report(ctx, obs); err != nil {
		return fmt.Errorf("reporting pid %d: %w", event.ChildPID, err)
	}
	return nil
}

// IsAbandoned reports whether err means the child was given up on, as
// opposed to a reporting failure.
func IsAbandoned(err error) bool {
	return errors.Is(err, pwdresolver.ErrEnvironmentUnavailable) ||
		errors.Is(err, pwdresolver.ErrWorkingDirectoryUnavailable) ||
		errors.Is(err, pwdresolver.ErrTimeout)
}
