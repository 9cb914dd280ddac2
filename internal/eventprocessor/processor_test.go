package eventprocessor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mrzor/pwd-tracer/internal/cwdcheck"
	"github.com/mrzor/pwd-tracer/internal/output"
	"github.com/mrzor/pwd-tracer/internal/procenv"
	"github.com/mrzor/pwd-tracer/internal/procevent"
	"github.com/mrzor/pwd-tracer/internal/pwdresolver"
)

const (
	shellPID = 2000
	childPID = 2001
)

var fastPolicy = pwdresolver.RetryPolicy{MaxAttempts: 3, PollInterval: time.Millisecond}

type fakeChecker struct {
	result cwdcheck.Result
	err    error
	calls  int
}

func (c *fakeChecker) Check(_ int, candidate string) (cwdcheck.Result, error) {
	c.calls++
	if c.err != nil {
		return cwdcheck.Result{}, c.err
	}
	result := c.result
	result.Canonical = candidate
	result.Match = candidate == result.ShellCwd
	return result, nil
}

type countingResolver struct {
	calls int
}

func (r *countingResolver) Resolve(pid, _ int, _ pwdresolver.RetryPolicy) (pwdresolver.Resolved, error) {
	r.calls++
	return pwdresolver.Resolved{PID: pid, Path: "/", Attempts: 1}, nil
}

type capturingReporter struct {
	seen []output.Observation
}

func (r *capturingReporter) Report(_ context.Context, obs output.Observation) error {
	r.seen = append(r.seen, obs)
	return nil
}

type harness struct {
	processor *Processor
	stdout    *bytes.Buffer
	logs      *observer.ObservedLogs
	checker   *fakeChecker
}

func newHarness(t *testing.T, environ map[string]string, shellCwd string, opts ...Option) *harness {
	t.Helper()

	fs := afero.NewMemMapFs()
	for pid, record := range environ {
		require.NoError(t, afero.WriteFile(fs, "/"+pid+"/environ", []byte(record), 0o400))
	}
	reader := procenv.NewReader(fs)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	stdout := &bytes.Buffer{}
	checker := &fakeChecker{result: cwdcheck.Result{ShellCwd: shellCwd}}

	processor := NewProcessor(
		TrackingContext{ShellPID: shellPID, BaselineLevel: 2},
		fastPolicy,
		pwdresolver.New(reader, logger),
		checker,
		output.NewLineReporter(stdout),
		logger,
		opts...,
	)

	return &harness{processor: processor, stdout: stdout, logs: logs, checker: checker}
}

func fork(parent, child int) procevent.Event {
	return procevent.Event{
		Kind:       procevent.KindFork,
		ParentPID:  parent,
		ParentTGID: parent,
		ChildPID:   child,
		ChildTGID:  child,
	}
}

func TestHandleFork_ReportsResolvedPWD(t *testing.T) {
	h := newHarness(t, map[string]string{
		"2001": "SHLVL=3\x00PWD=/home/user/project\x00",
	}, "/home/user/project")

	require.NoError(t, h.processor.HandleFork(context.Background(), fork(shellPID, childPID)))

	assert.Equal(t, "PWD of PID 2001: /home/user/project\n", h.stdout.String())
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestHandleFork_MismatchIsLoggedNotFatal(t *testing.T) {
	h := newHarness(t, map[string]string{
		"2001": "SHLVL=3\x00PWD=/home/user/project\x00",
	}, "/tmp")

	require.NoError(t, h.processor.HandleFork(context.Background(), fork(shellPID, childPID)))

	assert.Equal(t, "PWD of PID 2001: /home/user/project\n", h.stdout.String())

	mismatches := h.logs.FilterMessage("PWD does not match shell cwd").All()
	require.Len(t, mismatches, 1)
	assert.Equal(t, zapcore.WarnLevel, mismatches[0].Level)
	fields := mismatches[0].ContextMap()
	assert.Equal(t, int64(childPID), fields["pid"])
	assert.Equal(t, "/tmp", fields["shell_cwd"])
}

func TestHandleFork_CheckErrorStillReports(t *testing.T) {
	h := newHarness(t, map[string]string{
		"2001": "SHLVL=3\x00PWD=/gone\x00",
	}, "/")
	h.checker.err = cwdcheck.ErrPathResolution

	require.NoError(t, h.processor.HandleFork(context.Background(), fork(shellPID, childPID)))

	assert.Equal(t, "PWD of PID 2001: /gone\n", h.stdout.String())
	assert.Equal(t, 1, h.logs.FilterMessage("could not compare with shell cwd").Len())
}

func TestHandleFork_IgnoresOtherParents(t *testing.T) {
	resolver := &countingResolver{}
	reporter := &capturingReporter{}
	processor := NewProcessor(
		TrackingContext{ShellPID: shellPID, BaselineLevel: 2},
		fastPolicy, resolver, &fakeChecker{}, reporter, nil,
	)

	require.NoError(t, processor.HandleFork(context.Background(), fork(1, 3000)))

	assert.Zero(t, resolver.calls)
	assert.Empty(t, reporter.seen)
}

func TestHandleFork_IgnoresThreadsAndOtherKinds(t *testing.T) {
	resolver := &countingResolver{}
	processor := NewProcessor(
		TrackingContext{ShellPID: shellPID, BaselineLevel: 2},
		fastPolicy, resolver, &fakeChecker{}, &capturingReporter{}, nil,
	)

	thread := fork(shellPID, childPID)
	thread.ChildTGID = shellPID

	exec := fork(shellPID, childPID)
	exec.Kind = procevent.KindExec

	for _, ev := range []procevent.Event{thread, exec} {
		assert.False(t, processor.Tracks(ev))
		require.NoError(t, processor.HandleFork(context.Background(), ev))
	}
	assert.Zero(t, resolver.calls)
}

func TestHandleFork_ResolutionFailureIsReturned(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    error
	}{
		{
			name:    "child already gone",
			environ: map[string]string{},
			want:    pwdresolver.ErrEnvironmentUnavailable,
		},
		{
			name:    "child never leaves the shell level",
			environ: map[string]string{"2001": "SHLVL=2\x00PWD=/inherited\x00"},
			want:    pwdresolver.ErrTimeout,
		},
		{
			name:    "child has no PWD",
			environ: map[string]string{"2001": "SHLVL=3\x00"},
			want:    pwdresolver.ErrWorkingDirectoryUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.environ, "/")

			err := h.processor.HandleFork(context.Background(), fork(shellPID, childPID))
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsAbandoned(err))
			assert.Empty(t, h.stdout.String())
			assert.Zero(t, h.checker.calls)
		})
	}
}

func TestHandleFork_AttachesEnvironment(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/2001/environ", []byte("SHLVL=3\x00PWD=/srv\x00USER=alice\x00"), 0o400))
	reader := procenv.NewReader(fs)

	reporter := &capturingReporter{}
	processor := NewProcessor(
		TrackingContext{ShellPID: shellPID, BaselineLevel: 2},
		fastPolicy,
		pwdresolver.New(reader, nil),
		&fakeChecker{result: cwdcheck.Result{ShellCwd: "/srv"}},
		reporter,
		nil,
		WithEnvironment(reader),
	)

	require.NoError(t, processor.HandleFork(context.Background(), fork(shellPID, childPID)))

	require.Len(t, reporter.seen, 1)
	obs := reporter.seen[0]
	assert.Equal(t, "alice", obs.Env["USER"])
	assert.Equal(t, "/srv", obs.Resolved.Path)
	assert.True(t, obs.Check.Match)
	assert.Equal(t, childPID, obs.Event.ChildPID)
}

func TestIsAbandoned(t *testing.T) {
	assert.False(t, IsAbandoned(errors.New("stdout closed")))
	assert.False(t, IsAbandoned(nil))
}
