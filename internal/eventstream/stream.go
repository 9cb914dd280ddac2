// Package eventstream runs the receive, decode and dispatch loop.
package eventstream

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrzor/pwd-tracer/internal/procconn"
	"github.com/mrzor/pwd-tracer/internal/procevent"
)

// Receiver yields raw proc connector datagrams.
type Receiver interface {
	Receive() ([]byte, error)
}

// Handler handles one decoded fork event.
type Handler interface {
	HandleFork(ctx context.Context, event procevent.Event) error
}

// Stream reads datagrams from a receiver and dispatches their fork events.
type Stream struct {
	receiver Receiver
	handler  Handler
	logger   *zap.Logger

	// abandoned classifies handler errors that are expected outcomes
	abandoned func(error) bool
}

// New creates a new Stream.
func New(receiver Receiver, handler Handler, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		receiver:  receiver,
		handler:   handler,
		logger:    logger,
		abandoned: func(error) bool { return false },
	}
}

// WithAbandoned sets a predicate for handler errors that should be logged at
// info rather than error level.
func (s *Stream) WithAbandoned(abandoned func(error) bool) *Stream {
	s.abandoned = abandoned
	return s
}

// Run processes events until the receiver is closed, which returns nil, or
// fails, which returns the error. Malformed datagrams and per-event failures
// are logged and skipped.
func (s *Stream) Run(ctx context.Context) error {
	for {
		datagram, err := s.receiver.Receive()
		if err != nil {
			if errors.Is(err, procconn.ErrClosed) {
				return nil
			}
			if errors.Is(err, procconn.ErrOverrun) {
				s.logger.Warn("kernel dropped process events", zap.Error(err))
				continue
			}
			return fmt.Errorf("receiving process events: %w", err)
		}

		s.dispatch(ctx, datagram)
	}
}

func (s *Stream) dispatch(ctx context.Context, datagram []byte) {
	for event, err := range procevent.Decode(datagram) {
		if err != nil {
			s.logger.Warn("dropping rest of datagram",
				zap.Int("size", len(datagram)),
				zap.Error(err),
			)
			continue
		}

		s.logger.Debug("fork event",
			zap.Int("ppid", event.ParentPID),
			zap.Int("pid", event.ChildPID),
			zap.Uint32("cpu", event.CPU),
		)

		if err := s.handler.HandleFork(ctx, event); err != nil {
			fields := []zap.Field{
				zap.Int("pid", event.ChildPID),
				zap.Int("ppid", event.ParentPID),
				zap.Error(err),
			}
			if s.abandoned(err) {
				s.logger.Info("gave up on child", fields...)
			} else {
				s.logger.Error("handling fork event", fields...)
			}
		}
	}
}
