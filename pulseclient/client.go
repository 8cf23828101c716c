// Package pulseclient implements the controller side of the TracePulse
// control protocol. A controller listens for producers dialing in, and drives
// the lifecycle of tracing sessions on each producer.
package pulseclient

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tracepulse-dev/tracepulse-go/internal/control"
	"github.com/tracepulse-dev/tracepulse-go/internal/controldial"
	"github.com/tracepulse-dev/tracepulse-go/internal/sessioncfg"
)

// SessionConfig is the counter configuration sent to a producer at setup.
type SessionConfig struct {
	// Period is the requested sampling period; zero leaves the producer's
	// fallback in effect.
	Period time.Duration
	// CounterIDs selects the counters to sample; empty means the
	// producer's default set.
	CounterIDs []uint32
	InstrumentedSampling *bool
	FixClock             *bool
}

// Controller accepts producer connections.
type Controller struct {
	ln   net.Listener
	opts controllerOpts
}

type controllerOpts struct {
	errorLogger func(error)
}

// ControllerOption is the interface implemented by options for Listen.
type ControllerOption interface {
	apply(*controllerOpts) error
}

type optionFunc func(*controllerOpts) error

func (f optionFunc) apply(o *controllerOpts) error { return f(o) }

// WithErrorLogger sets a function to be called with errors (for example for
// logging them).
func WithErrorLogger(f func(err error)) ControllerOption {
	return optionFunc(func(o *controllerOpts) error {
		o.errorLogger = f
		return nil
	})
}

// Listen starts accepting producer connections on addr (host:port; a port of
// 0 picks a free one).
func Listen(addr string, option ...ControllerOption) (*Controller, error) {
	opts := controllerOpts{errorLogger: func(error) {}}
	for _, o := range option {
		if err := o.apply(&opts); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Controller{ln: ln, opts: opts}, nil
}

// Addr returns the address the controller listens on.
func (c *Controller) Addr() net.Addr {
	return c.ln.Addr()
}

// URL returns the controller URL a producer should be pointed at.
func (c *Controller) URL() string {
	return fmt.Sprintf("http://%s", c.ln.Addr())
}

// Close stops listening. Sessions accepted earlier stay usable until closed
// individually.
func (c *Controller) Close() error {
	return c.ln.Close()
}

// Accept waits for the next producer to dial in, verifies its preamble, and
// reads its hello. Connections with a bad preamble are dropped and the wait
// continues.
func (c *Controller) Accept() (*ProducerSession, error) {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return nil, err
		}
		sess, err := newSession(conn)
		if err != nil {
			c.opts.errorLogger(fmt.Errorf("rejecting producer connection: %w", err))
			_ = conn.Close()
			continue
		}
		return sess, nil
	}
}

// ProducerSession is one connected producer.
type ProducerSession struct {
	conn  net.Conn
	hello control.Hello
}

func newSession(conn net.Conn) (*ProducerSession, error) {
	preamble := make([]byte, len(controldial.Preamble))
	if _, err := io.ReadFull(conn, preamble); err != nil {
		return nil, fmt.Errorf("failed to read preamble: %w", err)
	}
	if !bytes.Equal(preamble, controldial.Preamble) {
		return nil, fmt.Errorf("bad preamble %x", preamble)
	}
	payload, err := control.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}
	typ, err := control.MessageType(payload)
	if err != nil {
		return nil, err
	}
	if typ != control.MsgHello {
		return nil, fmt.Errorf("expected hello but got %s", typ)
	}
	hello, err := control.ParseHello(payload)
	if err != nil {
		return nil, err
	}
	return &ProducerSession{conn: conn, hello: hello}, nil
}

// ProducerName reports the name the producer registered under.
func (s *ProducerSession) ProducerName() string {
	return s.hello.ProducerName
}

// Fingerprint reports the producer's connection fingerprint.
func (s *ProducerSession) Fingerprint() string {
	return s.hello.Fingerprint
}

// Capacity reports how many concurrent instances the producer supports.
func (s *ProducerSession) Capacity() int {
	return int(s.hello.Capacity)
}

// Setup configures an instance on the producer. It must precede Start for
// that instance.
func (s *ProducerSession) Setup(instanceID uint32, cfg SessionConfig) error {
	payload := sessioncfg.Marshal(sessioncfg.Config{
		Period:               cfg.Period,
		CounterIDs:           cfg.CounterIDs,
		InstrumentedSampling: cfg.InstrumentedSampling,
		FixClock:             cfg.FixClock,
	})
	return s.SetupRaw(instanceID, payload)
}

// SetupRaw configures an instance from a pre-encoded data-source-config
// payload.
func (s *ProducerSession) SetupRaw(instanceID uint32, payload []byte) error {
	return s.send(control.Command{
		Type:       control.MsgSetup,
		InstanceID: instanceID,
		Config:     payload,
	})
}

// Start activates a previously set-up instance.
func (s *ProducerSession) Start(instanceID uint32) error {
	return s.send(control.Command{Type: control.MsgStart, InstanceID: instanceID})
}

// Stop deactivates an instance.
func (s *ProducerSession) Stop(instanceID uint32) error {
	return s.send(control.Command{Type: control.MsgStop, InstanceID: instanceID})
}

func (s *ProducerSession) send(cmd control.Command) error {
	if err := control.WriteFrame(s.conn, control.AppendCommand(nil, cmd)); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}
	return nil
}

// Close drops the connection to the producer.
func (s *ProducerSession) Close() error {
	return s.conn.Close()
}
