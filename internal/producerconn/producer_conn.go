// Package producerconn ties the producer together: it owns the instance
// table, dials the controller, serves lifecycle commands, and runs the
// sampling loop.
package producerconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tracepulse-dev/tracepulse-go/internal/control"
	"github.com/tracepulse-dev/tracepulse-go/internal/controldial"
	"github.com/tracepulse-dev/tracepulse-go/internal/instances"
	"github.com/tracepulse-dev/tracepulse-go/internal/sampler"
	"github.com/tracepulse-dev/tracepulse-go/internal/sessioncfg"
	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
)

// Config configures a producer connection.
type Config struct {
	ControllerURL string
	ProducerName  string
	Environment   string
	// Capacity is the instance table size; zero means
	// instances.DefaultCapacity.
	Capacity int
	// PeriodFallback is the sampling delay when no session configures a
	// period; zero means sampler.DefaultFallbackPeriod.
	PeriodFallback time.Duration
	Sink           sink.Sink
	ErrorLogger    func(err error)
	// Logf carries lifecycle transitions and decode diagnostics.
	Logf func(format string, args ...any)
}

const (
	ENV_CONTROLLER_URL = "TRACEPULSE_CONTROLLER_URL"
	ENV_PRODUCER_NAME  = "TRACEPULSE_PRODUCER_NAME"
	ENV_ENVIRONMENT    = "TRACEPULSE_ENVIRONMENT"
)

// MakeDefaultConfig builds a Config from the environment. The producer name
// defaults to the binary's name.
func MakeDefaultConfig() Config {
	cfg := Config{
		ProducerName: filepath.Base(os.Args[0]),
		ErrorLogger:  func(err error) {},
		Logf:         func(format string, args ...any) {},
	}
	if v := os.Getenv(ENV_CONTROLLER_URL); v != "" {
		cfg.ControllerURL = v
	}
	if v := os.Getenv(ENV_PRODUCER_NAME); v != "" {
		cfg.ProducerName = v
	}
	if v := os.Getenv(ENV_ENVIRONMENT); v != "" {
		cfg.Environment = v
	}
	return cfg
}

// Conn is one producer registration with a controller. Connect and Close may
// be called repeatedly, alternating.
type Conn struct {
	ActiveConfig Config
	// fingerprint identifies this producer to the controller across
	// reconnects of one Connect cycle.
	fingerprint uuid.UUID

	mu struct {
		sync.Mutex
		cancel context.CancelFunc
		status ConnectionStatus
		table  *instances.Table
		err    error
	}

	wg *sync.WaitGroup
}

// NewConn creates an unconnected Conn.
func NewConn() *Conn {
	c := &Conn{
		ActiveConfig: Config{
			// no-op loggers
			ErrorLogger: func(err error) {},
			Logf:        func(format string, args ...any) {},
		},
	}
	c.mu.status = Uninitialized
	return c
}

// Connect registers this process with the controller and starts two
// goroutines: one serving lifecycle commands, one running the sampling loop.
// Close() should be called to stop producing.
func (c *Conn) Connect(ctx context.Context, cfg Config) error {
	// If we were already connected, terminate that connection.
	c.Close()

	if cfg.ControllerURL == "" {
		return fmt.Errorf("missing controller URL")
	}
	if cfg.Sink == nil {
		return fmt.Errorf("missing output sink")
	}
	if cfg.ErrorLogger == nil {
		cfg.ErrorLogger = func(err error) {}
	}
	if cfg.Logf == nil {
		cfg.Logf = func(format string, args ...any) {}
	}

	var err error
	c.fingerprint, err = uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("failed to generate fingerprint: %w", err)
	}

	connector, err := controldial.New(cfg.ControllerURL, cfg.ErrorLogger)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}

	table := instances.NewTable(cfg.Capacity)
	smplr := sampler.New(table, cfg.Sink, cfg.PeriodFallback)
	dispatcher := control.NewDispatcher(&hooks{table: table, cfg: cfg}, cfg.ErrorLogger)

	runCtx, cancel := context.WithCancel(context.Background())
	c.ActiveConfig = cfg
	c.mu.Lock()
	c.mu.cancel = cancel
	c.mu.status = Connecting
	c.mu.table = table
	c.mu.err = nil
	c.mu.Unlock()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.serveControl(gCtx, connector, dispatcher)
	})
	g.Go(func() error {
		// A sink failure is fatal to the whole connection, not just the
		// loop: the errgroup context tears down the control side too.
		return smplr.Run(gCtx)
	})

	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.wg = wg
	go func() {
		defer wg.Done()
		err := g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			cfg.ErrorLogger(fmt.Errorf("producer stopped: %w", err))
		}
		c.mu.Lock()
		c.mu.status = Disconnected
		if !errors.Is(err, context.Canceled) {
			c.mu.err = err
		}
		c.mu.Unlock()
		_ = cfg.Sink.Close()
	}()
	return nil
}

// serveControl dials the controller and serves lifecycle frames, redialing
// after a connection drops, until ctx is cancelled.
func (c *Conn) serveControl(
	ctx context.Context,
	connector *controldial.Connector,
	dispatcher *control.Dispatcher,
) error {
	for {
		c.setStatus(Connecting)
		conn, err := connector.Dial(ctx)
		if err != nil {
			return err
		}
		if err := c.register(conn); err != nil {
			c.ActiveConfig.ErrorLogger(fmt.Errorf("failed to register: %w", err))
			_ = conn.Close()
			continue
		}
		c.setStatus(Connected)
		err = dispatcher.Serve(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.ActiveConfig.ErrorLogger(err)
		}
		c.setStatus(Disconnected)
	}
}

// register sends the hello frame identifying this producer.
func (c *Conn) register(conn net.Conn) error {
	table := c.table()
	hello := control.Hello{
		ProducerName: c.ActiveConfig.ProducerName,
		Fingerprint:  c.fingerprint.String(),
		Capacity:     uint32(table.Capacity()),
	}
	return control.WriteFrame(conn, control.AppendHello(nil, hello))
}

// Close tears down the connection and waits for the control and sampling
// goroutines. It's a no-op if the connection was never established.
func (c *Conn) Close() {
	c.mu.Lock()
	cancel := c.mu.cancel
	c.mu.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.setStatus(Uninitialized)
}

// Err returns the error that terminated the last connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.err
}

func (c *Conn) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.mu.status = s
	c.mu.Unlock()
}

func (c *Conn) table() *instances.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.table
}

// Instances returns a snapshot of the populated instance slots, for status
// reporting. It returns nil when not connected.
func (c *Conn) Instances() []instances.Entry {
	t := c.table()
	if t == nil {
		return nil
	}
	return t.Snapshot()
}

type ConnectionStatus int

const (
	UnknownStatus ConnectionStatus = iota
	// Uninitialized means Connect() was never called, or Close() was called.
	Uninitialized
	Connected
	Disconnected
	Connecting
)

// Status reports the state of the control connection.
func (c *Conn) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.status
}

// hooks implements control.Hooks against the instance table.
type hooks struct {
	table *instances.Table
	cfg   Config
}

var _ control.Hooks = (*hooks)(nil)

// OnSetup decodes the session configuration and populates the slot. Decode
// failures are scoped to this one setup call.
func (h *hooks) OnSetup(instanceID uint32, config []byte) error {
	// The controller learned our capacity from the hello; an id beyond it is
	// the controller's bug, not grounds to panic this process.
	if int(instanceID) >= h.table.Capacity() {
		return fmt.Errorf("instance id %d out of range [0, %d)", instanceID, h.table.Capacity())
	}
	cfg, err := sessioncfg.Parse(config, h.cfg.Logf)
	if err != nil {
		return err
	}
	hash := sessioncfg.Fingerprint(config)
	h.table.Setup(instanceID, cfg, hash)
	h.cfg.Logf("OnSetup instance=%d config=%s period=%s counters=%v",
		instanceID, hash, cfg.Period, cfg.CounterIDs)
	return nil
}

// OnStart implements control.Hooks.
func (h *hooks) OnStart(instanceID uint32) {
	if int(instanceID) >= h.table.Capacity() {
		h.cfg.Logf("OnStart instance=%d ignored: out of range", instanceID)
		return
	}
	if !h.table.Start(instanceID) {
		h.cfg.Logf("OnStart instance=%d ignored: never set up", instanceID)
		return
	}
	h.cfg.Logf("OnStart instance=%d", instanceID)
}

// OnStop implements control.Hooks.
func (h *hooks) OnStop(instanceID uint32) {
	if int(instanceID) >= h.table.Capacity() {
		h.cfg.Logf("OnStop instance=%d ignored: out of range", instanceID)
		return
	}
	if !h.table.Stop(instanceID) {
		h.cfg.Logf("OnStop instance=%d ignored: never set up", instanceID)
		return
	}
	h.cfg.Logf("OnStop instance=%d", instanceID)
}
