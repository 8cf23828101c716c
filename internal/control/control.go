// Package control implements the lifecycle transport between a producer and
// its controller: length-prefixed frames, each carrying one tagged-field
// message. The controller sends setup/start/stop commands; the producer sends
// a single hello when the connection is established.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tracepulse-dev/tracepulse-go/internal/fieldcodec"
)

// MsgType identifies a control message.
type MsgType uint32

const (
	MsgInvalid MsgType = 0
	MsgHello   MsgType = 1
	MsgSetup   MsgType = 2
	MsgStart   MsgType = 3
	MsgStop    MsgType = 4
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgSetup:
		return "setup"
	case MsgStart:
		return "start"
	case MsgStop:
		return "stop"
	default:
		return fmt.Sprintf("msgtype(%d)", uint32(t))
	}
}

// Field numbers shared by all control messages.
const fieldMsgType = 1

// Field numbers of setup/start/stop commands.
const (
	fieldInstanceID = 2
	fieldConfig     = 3
)

// Field numbers of the hello message.
const (
	fieldProducerName = 2
	fieldFingerprint  = 3
	fieldCapacity     = 4
)

// Hello is the producer's registration message.
type Hello struct {
	ProducerName string
	Fingerprint  string
	Capacity     uint32
}

// Command is a lifecycle command for one instance. Config is only populated
// for MsgSetup.
type Command struct {
	Type       MsgType
	InstanceID uint32
	Config     []byte
}

// AppendHello appends an encoded hello message to b.
func AppendHello(b []byte, h Hello) []byte {
	b = fieldcodec.AppendVarint(b, fieldMsgType, uint64(MsgHello))
	b = fieldcodec.AppendString(b, fieldProducerName, h.ProducerName)
	b = fieldcodec.AppendString(b, fieldFingerprint, h.Fingerprint)
	b = fieldcodec.AppendVarint(b, fieldCapacity, uint64(h.Capacity))
	return b
}

// AppendCommand appends an encoded lifecycle command to b.
func AppendCommand(b []byte, c Command) []byte {
	b = fieldcodec.AppendVarint(b, fieldMsgType, uint64(c.Type))
	b = fieldcodec.AppendVarint(b, fieldInstanceID, uint64(c.InstanceID))
	if c.Type == MsgSetup {
		b = fieldcodec.AppendDelimited(b, fieldConfig, c.Config)
	}
	return b
}

// MessageType extracts the message type field from an encoded message.
func MessageType(payload []byte) (MsgType, error) {
	dec := fieldcodec.MakeDecoder(payload)
	for dec.Next() {
		f := dec.Field()
		if f.Num == fieldMsgType && f.Type == fieldcodec.TypeVarint {
			return MsgType(f.Val), nil
		}
	}
	if err := dec.Err(); err != nil {
		return MsgInvalid, err
	}
	return MsgInvalid, errors.New("control message without a type field")
}

// ParseHello decodes a hello message.
func ParseHello(payload []byte) (Hello, error) {
	var h Hello
	dec := fieldcodec.MakeDecoder(payload)
	for dec.Next() {
		f := dec.Field()
		switch {
		case f.Num == fieldProducerName && f.Type == fieldcodec.TypeDelimited:
			h.ProducerName = string(f.Bytes)
		case f.Num == fieldFingerprint && f.Type == fieldcodec.TypeDelimited:
			h.Fingerprint = string(f.Bytes)
		case f.Num == fieldCapacity && f.Type == fieldcodec.TypeVarint:
			h.Capacity = uint32(f.Val)
		}
	}
	if err := dec.Err(); err != nil {
		return Hello{}, fmt.Errorf("hello: %w", err)
	}
	return h, nil
}

// ParseCommand decodes a setup/start/stop command. The returned Config, if
// any, is copied out of the frame buffer.
func ParseCommand(payload []byte) (Command, error) {
	var c Command
	dec := fieldcodec.MakeDecoder(payload)
	for dec.Next() {
		f := dec.Field()
		switch {
		case f.Num == fieldMsgType && f.Type == fieldcodec.TypeVarint:
			c.Type = MsgType(f.Val)
		case f.Num == fieldInstanceID && f.Type == fieldcodec.TypeVarint:
			c.InstanceID = uint32(f.Val)
		case f.Num == fieldConfig && f.Type == fieldcodec.TypeDelimited:
			c.Config = append([]byte(nil), f.Bytes...)
		}
	}
	if err := dec.Err(); err != nil {
		return Command{}, fmt.Errorf("command: %w", err)
	}
	return c, nil
}

// MaxFrameSize bounds a frame's payload. Frames are small (the largest is a
// setup carrying a config blob); anything bigger indicates a corrupt stream.
const MaxFrameSize = 1 << 20

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write frame prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. io.EOF is returned untouched
// when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}
