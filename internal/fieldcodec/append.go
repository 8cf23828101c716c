package fieldcodec

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Append helpers for producing the same grammar the decoder consumes.

// AppendVarint appends a varint field.
func AppendVarint(b []byte, num uint32, v uint64) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendBool appends a varint field carrying 0 or 1.
func AppendBool(b []byte, num uint32, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	return AppendVarint(b, num, u)
}

// AppendDelimited appends a length-prefixed field. The payload is copied.
func AppendDelimited(b []byte, num uint32, payload []byte) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// AppendString appends a length-prefixed field holding s.
func AppendString(b []byte, num uint32, s string) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendFixed64 appends an 8-byte little-endian field.
func AppendFixed64(b []byte, num uint32, v uint64) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// AppendFixed32 appends a 4-byte little-endian field.
func AppendFixed32(b []byte, num uint32, v uint32) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}
