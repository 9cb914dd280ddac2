// Package pwdresolver resolves the working directory a shell handed to a
// freshly forked child.
//
// A fork notification arrives before the child has done anything: at that
// point its environ record is still the copy inherited from the shell. The
// resolver polls the child's SHLVL until it differs from the shell's baseline
// level, which is the observable sign that the child has finished its own
// startup, and only then reads PWD.
package pwdresolver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Environment variables consulted on the child.
const (
	LevelVariable     = "SHLVL"
	DirectoryVariable = "PWD"
)

var (
	// ErrEnvironmentUnavailable means the child's level could not be read.
	// The child is gone or will never carry the variable, so it is not retried.
	ErrEnvironmentUnavailable = errors.New("child environment unavailable")
	// ErrWorkingDirectoryUnavailable means the child initialized without PWD.
	ErrWorkingDirectoryUnavailable = errors.New("child working directory unavailable")
	// ErrTimeout means the child still carried the shell's level after every attempt.
	ErrTimeout = errors.New("child level did not change")

	errInherited = errors.New("child still carries the shell level")
)

// EnvReader reads one variable from a process environment snapshot.
type EnvReader interface {
	ReadVariable(pid int, name string) (string, error)
}

// RetryPolicy bounds how long a single child is polled.
type RetryPolicy struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// DefaultRetryPolicy returns ten attempts spaced 10ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  10,
		PollInterval: 10 * time.Millisecond,
	}
}

// Validate reports whether the policy can drive a poll loop.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.PollInterval)
	}
	return nil
}

// Resolved is the outcome of one successful resolution.
type Resolved struct {
	PID      int
	Path     string
	Attempts int
}

// Resolver polls child environments through an EnvReader.
type Resolver struct {
	env    EnvReader
	logger *zap.Logger
	timer  backoff.Timer // nil uses a real timer
}

// New creates a Resolver.
func New(env EnvReader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		env:    env,
		logger: logger,
	}
}

// Resolve waits for pid to leave baselineLevel and returns its PWD.
// SHLVL is read at most policy.MaxAttempts times with policy.PollInterval
// between reads.
func (r *Resolver) Resolve(pid, baselineLevel int, policy RetryPolicy) (Resolved, error) {
	if err := policy.Validate(); err != nil {
		return Resolved{}, err
	}

	result := Resolved{PID: pid}

	operation := func() error {
		result.Attempts++

		raw, err := r.env.ReadVariable(pid, LevelVariable)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: reading %s of pid %d: %w", ErrEnvironmentUnavailable, LevelVariable, pid, err))
		}

		level, err := ParseLevel(raw)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: pid %d: %w", ErrEnvironmentUnavailable, pid, err))
		}

		if level == baselineLevel {
			return errInherited
		}

		path, err := r.env.ReadVariable(pid, DirectoryVariable)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: pid %d: %w", ErrWorkingDirectoryUnavailable, pid, err))
		}

		result.Path = path
		return nil
	}

	notify := func(_ error, wait time.Duration) {
		r.logger.Debug("child not initialized yet",
			zap.Int("pid", pid),
			zap.Int("attempt", result.Attempts),
			zap.Duration("wait", wait))
	}

	//nolint:gosec // MaxAttempts is validated positive above
	policyBackOff := backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.PollInterval), uint64(policy.MaxAttempts-1))

	err := backoff.RetryNotifyWithTimer(operation, policyBackOff, notify, r.timer)
	if errors.Is(err, errInherited) {
		return Resolved{}, fmt.Errorf("%w: %s of pid %d still %d after %d attempts",
			ErrTimeout, LevelVariable, pid, baselineLevel, result.Attempts)
	}
	if err != nil {
		return Resolved{}, err
	}

	return result, nil
}

// ParseLevel parses a SHLVL value.
func ParseLevel(raw string) (int, error) {
	level, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", LevelVariable, raw, err)
	}
	return level, nil
}
