package output

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mrzor/pwd-tracer/internal/attributes"
	"github.com/mrzor/pwd-tracer/internal/timesync"
)

// SpanName is the name of the span emitted for each traced child.
const SpanName = "shell.fork"

// SpanReporter records each observation as a span running from the kernel
// fork timestamp to the moment the report is made.
type SpanReporter struct {
	tracer    trace.Tracer
	converter *timesync.Converter
	evaluator *attributes.Evaluator
	logger    *zap.Logger
	now       func() time.Time
}

// NewSpanReporter creates a SpanReporter. evaluator may be nil.
func NewSpanReporter(tracer trace.Tracer, converter *timesync.Converter, evaluator *attributes.Evaluator, logger *zap.Logger) *SpanReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanReporter{
		tracer:    tracer,
		converter: converter,
		evaluator: evaluator,
		logger:    logger,
		now:       time.Now,
	}
}

// Report emits one span. Attribute evaluation errors are logged, not returned.
func (r *SpanReporter) Report(ctx context.Context, obs Observation) error {
	startTime := r.converter.MonotonicToWallClock(obs.Event.Timestamp)

	_, span := r.tracer.Start(ctx, SpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(startTime),
	)

	span.SetAttributes(
		semconv.ProcessPID(obs.Event.ChildPID),
		semconv.ProcessParentPID(obs.Event.ParentPID),
		attribute.String("process.working_directory", obs.Resolved.Path),
		attribute.String("shell.cwd", obs.Check.ShellCwd),
		attribute.Bool("shell.cwd_match", obs.Check.Match),
		attribute.Int("pwd.attempts", obs.Resolved.Attempts),
	)

	if obs.CheckErr != nil {
		span.RecordError(obs.CheckErr)
		span.SetStatus(codes.Error, "cwd check failed")
	}

	customAttrs, err := r.evaluator.Evaluate(attributes.Subject{
		PID:              obs.Event.ChildPID,
		ParentPID:        obs.Event.ParentPID,
		WorkingDirectory: obs.Resolved.Path,
		ShellCwd:         obs.Check.ShellCwd,
		Match:            obs.Check.Match,
		Attempts:         obs.Resolved.Attempts,
		Env:              obs.Env,
	})
	if err != nil {
		r.logger.Warn("custom attribute evaluation failed",
			zap.Int("pid", obs.Event.ChildPID),
			zap.Error(err),
		)
	}
	if len(customAttrs) > 0 {
		span.SetAttributes(customAttrs...)
	}

	span.End(trace.WithTimestamp(r.now()))
	return nil
}
