package control

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	in := Hello{
		ProducerName: "test.producer",
		Fingerprint:  "f66d3a31-4f0e-4a11-a3f0-3d6de0e95aa1",
		Capacity:     8,
	}
	payload := AppendHello(nil, in)

	typ, err := MessageType(payload)
	require.NoError(t, err)
	require.Equal(t, MsgHello, typ)

	out, err := ParseHello(payload)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCommandRoundTrip(t *testing.T) {
	for _, in := range []Command{
		{Type: MsgSetup, InstanceID: 2, Config: []byte{0x08, 0x01}},
		{Type: MsgStart, InstanceID: 7},
		{Type: MsgStop, InstanceID: 0},
	} {
		t.Run(in.Type.String(), func(t *testing.T) {
			payload := AppendCommand(nil, in)
			out, err := ParseCommand(payload)
			require.NoError(t, err)
			require.Equal(t, in, out)
		})
	}
}

func TestMessageTypeMissing(t *testing.T) {
	_, err := MessageType(nil)
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, []byte("third")))

	p, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "first", string(p))

	p, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, p)

	p, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "third", string(p))

	_, err = ReadFrame(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameTooLarge(t *testing.T) {
	require.Error(t, WriteFrame(io.Discard, make([]byte, MaxFrameSize+1)))

	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{10, 0, 0, 0, 'a', 'b'})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}
