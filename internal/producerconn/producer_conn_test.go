package producerconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracepulse-dev/tracepulse-go/internal/instances"
	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
)

func TestMakeDefaultConfig(t *testing.T) {
	t.Setenv(ENV_CONTROLLER_URL, "http://controller:9321")
	t.Setenv(ENV_PRODUCER_NAME, "renamed")
	t.Setenv(ENV_ENVIRONMENT, "staging")

	cfg := MakeDefaultConfig()
	require.Equal(t, "http://controller:9321", cfg.ControllerURL)
	require.Equal(t, "renamed", cfg.ProducerName)
	require.Equal(t, "staging", cfg.Environment)
	require.NotNil(t, cfg.ErrorLogger)
	require.NotNil(t, cfg.Logf)
}

func TestConnectValidation(t *testing.T) {
	c := NewConn()
	require.Equal(t, Uninitialized, c.Status())

	err := c.Connect(context.Background(), Config{Sink: &sink.Capture{}})
	require.ErrorContains(t, err, "missing controller URL")

	err = c.Connect(context.Background(), Config{ControllerURL: "http://localhost:1"})
	require.ErrorContains(t, err, "missing output sink")

	err = c.Connect(context.Background(), Config{
		ControllerURL: "bogus://x",
		Sink:          &sink.Capture{},
	})
	require.ErrorContains(t, err, "unsupported scheme")

	// Failed Connect attempts leave the Conn closable and reusable.
	c.Close()
	require.Equal(t, Uninitialized, c.Status())
	require.Nil(t, c.Instances())
}

func TestHooksIgnoreOutOfRangeIDs(t *testing.T) {
	tbl := instances.NewTable(4)
	h := &hooks{table: tbl, cfg: Config{Logf: func(string, ...any) {}}}

	require.ErrorContains(t, h.OnSetup(4, nil), "out of range")
	require.NotPanics(t, func() {
		h.OnStart(4)
		h.OnStop(4)
	})
	require.Empty(t, tbl.Snapshot())
}
