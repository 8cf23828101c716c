package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Hooks is implemented by the producer core; the dispatcher invokes one
// method per lifecycle event. OnSetup errors are scoped to that setup call:
// the dispatcher reports them and keeps serving.
type Hooks interface {
	OnSetup(instanceID uint32, config []byte) error
	OnStart(instanceID uint32)
	OnStop(instanceID uint32)
}

// Dispatcher reads control frames from a connection and drives a Hooks
// implementation.
type Dispatcher struct {
	hooks       Hooks
	errorLogger func(error)
}

// NewDispatcher creates a Dispatcher. errorLogger may be nil.
func NewDispatcher(hooks Hooks, errorLogger func(error)) *Dispatcher {
	if errorLogger == nil {
		errorLogger = func(error) {}
	}
	return &Dispatcher{hooks: hooks, errorLogger: errorLogger}
}

// Serve reads frames from conn until the stream ends or ctx is cancelled.
// A clean EOF returns nil; transport errors are returned. Decode failures in
// a setup payload are reported through the error logger and do not terminate
// serving.
func (d *Dispatcher) Serve(ctx context.Context, conn net.Conn) error {
	// Unblock the read loop when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		payload, err := ReadFrame(conn)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read control frame: %w", err)
		}
		if err := d.dispatch(payload); err != nil {
			d.errorLogger(err)
		}
	}
}

func (d *Dispatcher) dispatch(payload []byte) error {
	cmd, err := ParseCommand(payload)
	if err != nil {
		return fmt.Errorf("failed to parse control frame: %w", err)
	}
	switch cmd.Type {
	case MsgSetup:
		if err := d.hooks.OnSetup(cmd.InstanceID, cmd.Config); err != nil {
			return fmt.Errorf("setup of instance %d failed: %w", cmd.InstanceID, err)
		}
	case MsgStart:
		d.hooks.OnStart(cmd.InstanceID)
	case MsgStop:
		d.hooks.OnStop(cmd.InstanceID)
	default:
		return fmt.Errorf("unexpected control message %s", cmd.Type)
	}
	return nil
}
