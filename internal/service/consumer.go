package service

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/CZERTAINLY/Courier/internal/channel"
	"github.com/CZERTAINLY/Courier/internal/dispatch"

	"github.com/redis/go-redis/v9"
)

// consume receives commands and messages until ctx is cancelled and keeps
// the presence records alive. A handler panic ends it and is handed over to
// Tick.
func (r *Runtime) consume(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	r.logger.DebugContext(ctx, "consumer started")
	defer r.logger.DebugContext(context.WithoutCancel(ctx), "consumer stopped")

	heartbeat := time.Now()
	for ctx.Err() == nil {
		msg, err := r.sub.ReceiveTimeout(ctx, r.opts.PollTimeout)
		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			if err := r.route(ctx, msg); err != nil {
				if dispatch.IsPanic(err) {
					r.logger.ErrorContext(ctx, "handler panicked: stopping", "error", err)
					r.fail(err)
					return
				}
				r.logger.ErrorContext(ctx, "handler failed", "error", err)
			}
		case isTimeout(err):
		default:
			r.logger.DebugContext(ctx, "receive failed: retrying", "error", err)
			sleep(ctx, r.opts.PollTimeout)
		}

		if time.Since(heartbeat) > r.opts.HeartbeatInterval {
			if err := r.names.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.DebugContext(ctx, "refreshing presence failed", "error", err)
			}
			heartbeat = time.Now()
		}
	}
}

func (r *Runtime) route(ctx context.Context, msg any) error {
	m, ok := msg.(*redis.Message)
	if !ok {
		// subscription confirmations and pongs
		return nil
	}
	if m.Pattern != "" {
		name, content, err := channel.ParseCommand(r.name, m.Channel, m.Payload)
		if err != nil {
			r.logger.ErrorContext(ctx, "dropping command", "channel", m.Channel, "error", err)
			return nil
		}
		return r.table.DispatchCommand(ctx, name, content)
	}
	return r.table.DispatchMessage(ctx, m.Channel, m.Payload)
}

func (r *Runtime) fail(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
