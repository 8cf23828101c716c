package tracepulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
	"github.com/tracepulse-dev/tracepulse-go/pulseclient"
)

// TestProducerLifecycle runs the whole producer against an in-process
// controller: register, set up a session, sample, stop.
func TestProducerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	controller, err := pulseclient.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer controller.Close()

	capture := &sink.Capture{}
	require.NoError(t, Init(context.Background(),
		WithControllerURL(controller.URL()),
		WithProducerName("test.producer"),
		WithSink(capture),
		WithSamplingFallback(10*time.Millisecond),
	))
	defer Stop()

	sess, err := controller.Accept()
	require.NoError(t, err)
	defer sess.Close()
	require.Equal(t, "test.producer", sess.ProducerName())
	require.NotEmpty(t, sess.Fingerprint())
	require.Equal(t, 8, sess.Capacity())

	require.Eventually(t, func() bool { return Status() == Connected },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Setup(2, pulseclient.SessionConfig{
		Period:     10 * time.Millisecond,
		CounterIDs: []uint32{5, 5, 7},
	}))
	require.NoError(t, sess.Start(2))

	require.Eventually(t, func() bool { return len(capture.Batches()) >= 2 },
		5*time.Second, 10*time.Millisecond)

	batches := capture.Batches()
	first, second := batches[0], batches[1]
	require.Equal(t, uint32(2), first.InstanceID)
	require.Len(t, first.Samples, 3)
	require.Equal(t, uint32(5), first.Samples[0].CounterID)
	require.Equal(t, uint32(5), first.Samples[1].CounterID)
	require.Equal(t, uint32(7), first.Samples[2].CounterID)
	// Descriptors ride along exactly once per activation.
	require.Len(t, first.Descriptors, 3)
	require.Empty(t, second.Descriptors)

	// After a stop, emission for the instance ceases once the command is
	// processed.
	require.NoError(t, sess.Stop(2))
	time.Sleep(100 * time.Millisecond)
	n := len(capture.Batches())
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, n, len(capture.Batches()))

	Stop()
	require.Equal(t, Uninitialized, Status())
}

func TestInitRequiresSink(t *testing.T) {
	t.Setenv(ENV_OTLP_URL, "")
	err := Init(context.Background(), WithControllerURL("http://127.0.0.1:9321"))
	require.ErrorContains(t, err, "no output sink configured")
}

func TestInitRequiresControllerURL(t *testing.T) {
	t.Setenv(ENV_CONTROLLER_URL, "")
	err := Init(context.Background(), WithSink(&sink.Capture{}))
	require.ErrorContains(t, err, "controller")
}

func TestStopWithoutInitIsNoop(t *testing.T) {
	Stop()
	Stop()
	require.Equal(t, Uninitialized, Status())
}
