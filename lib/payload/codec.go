// Package payload defines the structured bodies carried inside frames.
//
// Bodies use the protobuf wire format so that they interoperate with peers that
// generate their types from .proto schemas. Zero-valued fields are omitted,
// unknown fields are skipped and truncated input is rejected.
package payload

import (
	"encoding"
	"errors"

	"github.com/samber/oops"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a body cannot be decoded.
var ErrMalformed = errors.New("malformed payload")

// Payload is implemented by every body type in this package.
type Payload interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type encoder []byte

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.BytesType)
	*e = protowire.AppendBytes(*e, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.BytesType)
	*e = protowire.AppendString(*e, v)
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if !v {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.VarintType)
	*e = protowire.AppendVarint(*e, protowire.EncodeBool(v))
}

func (e *encoder) int64(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	*e = protowire.AppendTag(*e, num, protowire.VarintType)
	*e = protowire.AppendVarint(*e, uint64(v))
}

func (e encoder) out() []byte {
	if e == nil {
		return []byte{}
	}
	return e
}

// fields holds the last value seen for each field number, split by wire type.
type fields struct {
	raw    map[protowire.Number][]byte
	varint map[protowire.Number]uint64
}

func (f fields) bytes(num protowire.Number) []byte { return f.raw[num] }

func (f fields) string(num protowire.Number) string { return string(f.raw[num]) }

func (f fields) bool(num protowire.Number) bool { return protowire.DecodeBool(f.varint[num]) }

func (f fields) int64(num protowire.Number) int64 { return int64(f.varint[num]) }

func parse(b []byte, what string) (fields, error) {
	f := fields{
		raw:    make(map[protowire.Number][]byte),
		varint: make(map[protowire.Number]uint64),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, oops.Wrapf(ErrMalformed, "%s: tag: %v", what, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return f, oops.Wrapf(ErrMalformed, "%s: field %d: %v", what, num, protowire.ParseError(n))
			}
			f.varint[num] = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return f, oops.Wrapf(ErrMalformed, "%s: field %d: %v", what, num, protowire.ParseError(n))
			}
			f.raw[num] = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, oops.Wrapf(ErrMalformed, "%s: field %d: %v", what, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}
