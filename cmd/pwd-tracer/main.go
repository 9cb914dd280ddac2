// pwd-tracer reports the working directory of every process a shell spawns.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrzor/pwd-tracer/internal/attributes"
	"github.com/mrzor/pwd-tracer/internal/config"
	"github.com/mrzor/pwd-tracer/internal/cwdcheck"
	"github.com/mrzor/pwd-tracer/internal/eventprocessor"
	"github.com/mrzor/pwd-tracer/internal/eventstream"
	"github.com/mrzor/pwd-tracer/internal/logging"
	"github.com/mrzor/pwd-tracer/internal/otel"
	"github.com/mrzor/pwd-tracer/internal/output"
	"github.com/mrzor/pwd-tracer/internal/procconn"
	"github.com/mrzor/pwd-tracer/internal/procenv"
	"github.com/mrzor/pwd-tracer/internal/pwdresolver"
	"github.com/mrzor/pwd-tracer/internal/timesync"
)

// Version information injected by GoReleaser at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pwd-tracer <shell-pid>",
		Short: "Report the working directory of every process a shell spawns",
		Long: `pwd-tracer subscribes to kernel process events and, for every child
forked by the given shell, prints the child's PWD once the child has finished
initializing. Each path is compared with the shell's current directory and
mismatches are logged to stderr.

Requires CAP_NET_ADMIN (or root) to subscribe to process events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// arguments are valid from here on; later failures are not usage errors
			cmd.SilenceUsage = true
			return run(cmd.Context(), args, cmd.OutOrStdout())
		},
	}
}

// setupOTEL initializes the OTEL provider and returns it with a cleanup function.
func setupOTEL(ctx context.Context, cfg *config.OTELConfig, logger *zap.Logger) (*otel.Provider, func(), error) {
	provider, err := otel.InitProvider(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down OTEL provider", zap.Error(err))
		}
	}

	return provider, cleanup, nil
}

// establishTracking checks that the shell is alive and reads its baseline SHLVL.
func establishTracking(shellPID int, reader *procenv.Reader, checker *cwdcheck.Checker, logger *zap.Logger) (eventprocessor.TrackingContext, error) {
	if err := checker.Alive(shellPID); err != nil {
		return eventprocessor.TrackingContext{}, fmt.Errorf("shell pid %d is not running: %w", shellPID, err)
	}

	raw, err := reader.ReadVariable(shellPID, pwdresolver.LevelVariable)
	if err != nil {
		return eventprocessor.TrackingContext{}, fmt.Errorf("reading %s of shell pid %d: %w", pwdresolver.LevelVariable, shellPID, err)
	}
	level, err := pwdresolver.ParseLevel(raw)
	if err != nil {
		return eventprocessor.TrackingContext{}, fmt.Errorf("shell pid %d: %w", shellPID, err)
	}

	fields := []zap.Field{zap.Int("shell_pid", shellPID), zap.Int("baseline_level", level)}
	if cwd, err := checker.ShellCwd(shellPID); err == nil {
		fields = append(fields, zap.String("shell_cwd", cwd))
	}
	logger.Info("tracking shell", fields...)

	return eventprocessor.TrackingContext{ShellPID: shellPID, BaselineLevel: level}, nil
}

// setupReporters builds the stdout reporter and, when spans are exported,
// the span reporter. It also reports whether the child environment is needed.
func setupReporters(
	cfg *config.Config,
	stdout io.Writer,
	provider *otel.Provider,
	logger *zap.Logger,
) (output.Reporter, bool, error) {
	reporters := output.Reporters{output.NewLineReporter(stdout)}
	if !provider.Enabled() {
		if len(cfg.CustomAttributes) > 0 {
			logger.Warn("custom attributes are ignored without an OTLP endpoint")
		}
		return reporters, false, nil
	}

	converter, err := timesync.NewConverter(cfg.Tuning.ProcRoot)
	if converter == nil {
		return nil, false, fmt.Errorf("failed to create time converter: %w", err)
	}
	if err != nil {
		logger.Warn("boot time estimated from the monotonic clock", zap.Error(err))
	}

	evaluator, err := attributes.NewEvaluator(cfg.CustomAttributes)
	if err != nil {
		return nil, false, err
	}

	reporters = append(reporters, output.NewSpanReporter(provider.Tracer(), converter, evaluator, logger.Named("span")))
	return reporters, evaluator.NeedsEnvironment(), nil
}

// setupChannel opens and subscribes the proc connector, and closes it when
// SIGINT or SIGTERM arrives so the stream loop ends cleanly.
func setupChannel(logger *zap.Logger) (*procconn.Channel, func(), error) {
	channel, err := procconn.Open()
	if err != nil {
		return nil, nil, err
	}
	if err := channel.Subscribe(); err != nil {
		if closeErr := channel.Close(); closeErr != nil {
			logger.Debug("closing channel after subscribe failure", zap.Error(closeErr))
		}
		return nil, nil, err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			if err := channel.Close(); err != nil {
				logger.Warn("closing channel", zap.Error(err))
			}
		case <-done:
		}
	}()

	cleanup := func() {
		signal.Stop(sigCh)
		close(done)
		if err := channel.Close(); err != nil {
			logger.Warn("closing channel", zap.Error(err))
		}
	}

	return channel, cleanup, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load(args, env.ToMap(os.Environ()))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Tuning.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
	}()

	logger.Debug("starting pwd-tracer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("retries", cfg.Tuning.Retries),
		zap.Duration("poll_interval", cfg.Tuning.PollInterval),
	)

	reader := procenv.NewProcReader(cfg.Tuning.ProcRoot)
	checker, err := cwdcheck.New(cfg.Tuning.ProcRoot)
	if err != nil {
		return err
	}

	tracking, err := establishTracking(cfg.ShellPID, reader, checker, logger)
	if err != nil {
		return err
	}

	provider, cleanupOTEL, err := setupOTEL(ctx, cfg.OTEL, logger)
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	reporter, needsEnv, err := setupReporters(cfg, stdout, provider, logger)
	if err != nil {
		return err
	}

	var opts []eventprocessor.Option
	if needsEnv {
		opts = append(opts, eventprocessor.WithEnvironment(reader))
	}
	processor := eventprocessor.NewProcessor(
		tracking,
		cfg.Tuning.RetryPolicy(),
		pwdresolver.New(reader, logger.Named("resolver")),
		checker,
		reporter,
		logger,
		opts...,
	)

	channel, cleanupChannel, err := setupChannel(logger)
	if err != nil {
		return err
	}
	defer cleanupChannel()

	stream := eventstream.New(channel, processor, logger).WithAbandoned(eventprocessor.IsAbandoned)
	if err := stream.Run(ctx); err != nil {
		return err
	}

	logger.Debug("event stream closed")
	return nil
}
