package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/Courier/internal/log"
	"github.com/CZERTAINLY/Courier/internal/model"
)

// Supervisor keeps one service running. Every attempt gets a fresh Service
// and Runtime; any failure is logged and the attempt is restarted after the
// restart delay.
type Supervisor struct {
	factory  Factory
	addr     string
	opts     Options
	attempts atomic.Int64
}

func NewSupervisor(factory Factory, cfg model.Config) (*Supervisor, error) {
	if factory == nil {
		return nil, errors.New("service factory is nil")
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		factory: factory,
		addr:    cfg.Backend.Addr(),
		opts:    opts,
	}, nil
}

// WithOptions overrides the runtime options derived from the config.
func (s *Supervisor) WithOptions(opts ...Option) *Supervisor {
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Attempts returns the number of attempts started so far.
func (s *Supervisor) Attempts() int {
	return int(s.attempts.Load())
}

// Run supervises the service until it shuts down on request or ctx is
// cancelled. Both are a clean stop and return nil. Failures never end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		attempt := int(s.attempts.Add(1))
		err := s.attempt(ctx, attempt)
		if ctx.Err() != nil {
			if err != nil {
				slog.DebugContext(ctx, "attempt ended by cancellation", "attempt", attempt, "error", err)
			}
			return nil
		}
		if err == nil {
			slog.InfoContext(ctx, "service stopped", "attempt", attempt)
			return nil
		}
		slog.ErrorContext(ctx, "service failed: restarting",
			"attempt", attempt,
			"restart_delay", s.opts.RestartDelay.String(),
			"error", err,
		)
		if !wait(ctx, s.opts.RestartDelay) {
			return nil
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context, attempt int) (err error) {
	var rt *Runtime
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("service panicked: %v\n%s", p, debug.Stack())
		}
		if rt == nil {
			return
		}
		if cerr := rt.Close(); cerr != nil {
			slog.WarnContext(ctx, "closing runtime failed", "error", cerr)
		}
	}()

	svc := s.factory()
	if svc == nil {
		return errors.New("service factory returned nil")
	}
	opts := s.opts
	opts.InstanceID = ""
	rt = New(svc, WithOptions(opts))
	ctx = log.ContextAttrs(ctx, slog.Group("courier",
		slog.String("service", rt.Name()),
		slog.Int("attempt", attempt),
		slog.String("instance", rt.InstanceID()),
	))

	slog.InfoContext(ctx, "service starting", "backend", s.addr)
	if err := rt.Connect(ctx, s.addr); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := rt.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	slog.InfoContext(ctx, "service running")

	if err := s.loop(ctx, rt); err != nil {
		return err
	}

	teardown := context.WithoutCancel(ctx)
	if err := rt.Uninstall(teardown); err != nil {
		slog.WarnContext(ctx, "uninstall failed", "error", err)
	}
	return nil
}

// loop ticks the runtime until it reports shutdown or ctx is done.
func (s *Supervisor) loop(ctx context.Context, rt *Runtime) error {
	for {
		alive, err := rt.Tick(ctx)
		if err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if !alive || !wait(ctx, s.opts.TickInterval) {
			return nil
		}
	}
}

// wait sleeps for d and reports false when ctx was done first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
