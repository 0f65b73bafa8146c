package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/samber/oops"
)

// Status is the outcome of parsing accumulated bytes.
type Status int

const (
	// StatusPartial means more fragments are needed. It is not an error.
	StatusPartial Status = iota
	// StatusFull means a complete message was parsed.
	StatusFull
	// StatusError means the bytes can never form a valid message.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPartial:
		return "partial"
	case StatusFull:
		return "full"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result carries the outcome of Parse or Reassembler.Feed.
type Result struct {
	Status  Status
	Message *Message
	Err     error
}

func partial() Result { return Result{Status: StatusPartial} }

func failed(err error) Result { return Result{Status: StatusError, Err: err} }

// Parse decodes a full message from data. It never decrypts; encrypted messages
// come back with their ciphertext in Contents.
func Parse(data []byte) Result {
	n := min(len(data), len(Magic))
	if !bytes.Equal(data[:n], Magic[:n]) {
		return failed(oops.Code(CodeInvalidHeader).Wrapf(ErrInvalidHeader, "bad magic %x", data[:n]))
	}
	if len(data) <= len(Magic) {
		return partial()
	}

	var encrypted bool
	switch data[len(Magic)] {
	case flagPlain:
	case flagEncrypted:
		encrypted = true
	default:
		return failed(oops.Code(CodeInvalidHeader).Wrapf(ErrInvalidHeader, "bad encryption flag %d", data[len(Magic)]))
	}

	hdr := HeaderSize(encrypted)
	if len(data) < hdr {
		return partial()
	}

	m := &Message{Encrypted: encrypted}
	off := len(Magic) + 1
	if encrypted {
		m.IV = append([]byte(nil), data[off:off+IVSize]...)
		off += IVSize
		m.Tag = append([]byte(nil), data[off:off+TagSize]...)
		off += TagSize
	}
	m.EventID = event.ID(binary.BigEndian.Uint16(data[off:]))
	off += 2
	m.Size = binary.BigEndian.Uint32(data[off:])
	off += 4
	copy(m.SessionID[:], data[off:off+SessionIDSize])
	off += SessionIDSize
	m.SessionStart = int32(binary.BigEndian.Uint32(data[off:]))
	off += 4

	if m.Size > MaxPayloadSize {
		return failed(oops.Code(CodeInvalidHeader).Wrapf(ErrInvalidHeader,
			"declared payload of %d bytes exceeds %d", m.Size, MaxPayloadSize))
	}
	if uint64(len(data)-off) < uint64(m.Size) {
		return partial()
	}

	m.Contents = make([]byte, m.Size)
	copy(m.Contents, data[off:off+int(m.Size)])
	return Result{Status: StatusFull, Message: m}
}
