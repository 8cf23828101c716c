package control

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingHooks records lifecycle invocations and can be told to fail a
// setup.
type recordingHooks struct {
	mu       sync.Mutex
	events   []string
	setupErr error
}

func (r *recordingHooks) OnSetup(id uint32, config []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setupErr != nil {
		return r.setupErr
	}
	r.events = append(r.events, "setup")
	return nil
}

func (r *recordingHooks) OnStart(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "start")
}

func (r *recordingHooks) OnStop(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "stop")
}

func (r *recordingHooks) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestDispatcherDrivesHooks(t *testing.T) {
	client, server := net.Pipe()
	hooks := &recordingHooks{}
	d := NewDispatcher(hooks, nil)

	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background(), server) }()

	for _, cmd := range []Command{
		{Type: MsgSetup, InstanceID: 1, Config: nil},
		{Type: MsgStart, InstanceID: 1},
		{Type: MsgStop, InstanceID: 1},
	} {
		require.NoError(t, WriteFrame(client, AppendCommand(nil, cmd)))
	}
	require.NoError(t, client.Close())

	require.NoError(t, <-done)
	require.Equal(t, []string{"setup", "start", "stop"}, hooks.Events())
}

func TestDispatcherSetupErrorIsNotFatal(t *testing.T) {
	client, server := net.Pipe()
	hooks := &recordingHooks{setupErr: errors.New("bad config")}
	var logged []error
	var mu sync.Mutex
	d := NewDispatcher(hooks, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, err)
	})

	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background(), server) }()

	require.NoError(t, WriteFrame(client, AppendCommand(nil, Command{Type: MsgSetup, InstanceID: 3})))
	// The dispatcher keeps serving after the failed setup.
	require.NoError(t, WriteFrame(client, AppendCommand(nil, Command{Type: MsgStart, InstanceID: 3})))
	require.NoError(t, client.Close())
	require.NoError(t, <-done)

	require.Equal(t, []string{"start"}, hooks.Events())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, logged, 1)
	require.ErrorContains(t, logged[0], "instance 3")
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	d := NewDispatcher(&recordingHooks{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, server) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
