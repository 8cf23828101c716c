// Package tracepulse contains a library that turns a process into a periodic
// counter-telemetry producer for a TracePulse controller. The controller
// configures, starts and stops tracing sessions; the library samples counter
// values on a timer and emits them into the configured output sink.
package tracepulse

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tracepulse-dev/tracepulse-go/internal/otlpsink"
	"github.com/tracepulse-dev/tracepulse-go/internal/packetsink"
	"github.com/tracepulse-dev/tracepulse-go/internal/producerconn"
	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
)

// Option to configure the tracepulse library.
type Option interface {
	apply(*config)
}

type config struct {
	producerconn.Config
	otlpURL     string
	traceWriter io.Writer
}

const (
	// ENV_CONTROLLER_URL names the controller to dial, e.g.
	// http://traced.example.com:9321.
	ENV_CONTROLLER_URL = producerconn.ENV_CONTROLLER_URL
	// ENV_PRODUCER_NAME overrides the name this process registers under.
	ENV_PRODUCER_NAME = producerconn.ENV_PRODUCER_NAME
	// ENV_ENVIRONMENT sets the environment label for this process.
	ENV_ENVIRONMENT = producerconn.ENV_ENVIRONMENT
	// ENV_OTLP_URL selects an OTLP gRPC endpoint as the output sink.
	ENV_OTLP_URL = "TRACEPULSE_OTLP_URL"
)

func makeDefaultConfig() config {
	cfg := config{Config: producerconn.MakeDefaultConfig()}
	if v := os.Getenv(ENV_OTLP_URL); v != "" {
		cfg.otlpURL = v
	}
	return cfg
}

type optionFunc func(cfg *config)

func (f optionFunc) apply(cfg *config) {
	f(cfg)
}

// WithControllerURL sets the controller to dial. Defaults to the
// TRACEPULSE_CONTROLLER_URL environment variable if this option is not used.
func WithControllerURL(url string) Option {
	return optionFunc(func(cfg *config) {
		cfg.ControllerURL = url
	})
}

// WithProducerName sets the name this process registers under. Defaults to
// the TRACEPULSE_PRODUCER_NAME environment variable, or the binary's name.
func WithProducerName(name string) Option {
	return optionFunc(func(cfg *config) {
		cfg.ProducerName = name
	})
}

// WithEnvironment sets the environment label for this process. Defaults to
// the TRACEPULSE_ENVIRONMENT environment variable if this option is not used.
func WithEnvironment(env string) Option {
	return optionFunc(func(cfg *config) {
		cfg.Environment = env
	})
}

// WithOTLPEndpoint emits samples to an OTLP metrics endpoint over gRPC.
// Defaults to the TRACEPULSE_OTLP_URL environment variable if this option is
// not used.
func WithOTLPEndpoint(url string) Option {
	return optionFunc(func(cfg *config) {
		cfg.otlpURL = url
	})
}

// WithTraceWriter emits samples as length-prefixed counter-event packets to
// w, typically a trace file.
func WithTraceWriter(w io.Writer) Option {
	return optionFunc(func(cfg *config) {
		cfg.traceWriter = w
	})
}

// WithSink emits samples into a caller-supplied sink, overriding
// WithOTLPEndpoint and WithTraceWriter.
func WithSink(s sink.Sink) Option {
	return optionFunc(func(cfg *config) {
		cfg.Sink = s
	})
}

// WithInstanceCapacity sets how many concurrent tracing sessions the
// producer offers. The default is 8.
func WithInstanceCapacity(n int) Option {
	return optionFunc(func(cfg *config) {
		cfg.Capacity = n
	})
}

// WithSamplingFallback sets the sampling period used while no session
// configures one. The default is one second.
func WithSamplingFallback(d time.Duration) Option {
	return optionFunc(func(cfg *config) {
		cfg.PeriodFallback = d
	})
}

// WithErrorLogger sets a function to be called with errors (for example for
// logging them).
func WithErrorLogger(f func(err error)) Option {
	return optionFunc(func(cfg *config) {
		cfg.ErrorLogger = f
	})
}

// WithLogger sets a function receiving lifecycle transitions and decode
// diagnostics, printf style.
func WithLogger(f func(format string, args ...any)) Option {
	return optionFunc(func(cfg *config) {
		cfg.Logf = f
	})
}

// Init initializes the tracepulse library. The process dials the controller,
// registers as a producer, and starts serving lifecycle commands and
// emitting samples. Exactly one output sink must be configured, through
// WithSink, WithTraceWriter, WithOTLPEndpoint or TRACEPULSE_OTLP_URL.
func Init(ctx context.Context, opts ...Option) error {
	cfg := makeDefaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.Sink == nil {
		s, err := makeSink(&cfg)
		if err != nil {
			return err
		}
		cfg.Sink = s
	}
	if err := singletonConn.Connect(ctx, cfg.Config); err != nil {
		return fmt.Errorf("failed to connect to controller: %w", err)
	}
	return nil
}

func makeSink(cfg *config) (sink.Sink, error) {
	switch {
	case cfg.traceWriter != nil:
		return packetsink.New(cfg.traceWriter), nil
	case cfg.otlpURL != "":
		return otlpsink.New(cfg.otlpURL, cfg.ProducerName)
	default:
		return nil, fmt.Errorf("no output sink configured")
	}
}

// Stop terminates the connection to the controller and stops emitting. It is
// a no-op if Init() hasn't been called. Init() can be called again after
// Stop().
func Stop() {
	singletonConn.Close()
}

// singletonConn is the connection manipulated by Init() / Stop().
var singletonConn = producerconn.NewConn()

type ConnectionStatus int

const (
	UnknownStatus ConnectionStatus = iota
	Uninitialized
	Connected
	Disconnected
	Connecting
)

// Status reports the state of the connection to the controller.
func Status() ConnectionStatus {
	switch s := singletonConn.Status(); s {
	case producerconn.UnknownStatus:
		return UnknownStatus
	case producerconn.Uninitialized:
		return Uninitialized
	case producerconn.Connected:
		return Connected
	case producerconn.Disconnected:
		return Disconnected
	case producerconn.Connecting:
		return Connecting
	default:
		panic(fmt.Sprintf("unexpected status: %v", s))
	}
}
