package frame

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Wire constants.
const (
	// IVSize is the AES-GCM nonce length carried by encrypted frames.
	IVSize = 12
	// TagSize is the AES-GCM authentication tag length carried by encrypted frames.
	TagSize = 16
	// SessionIDSize is the length of the session identifier.
	SessionIDSize = 8

	// baseHeaderSize covers magic, flag, event id, payload size, session id and session start.
	baseHeaderSize = 3 + 1 + 2 + 4 + SessionIDSize + 4

	// MaxPayloadSize bounds the payload size a header may declare. Larger
	// declarations are treated as corrupt headers rather than buffered.
	MaxPayloadSize = 4 << 20

	flagPlain     byte = 0
	flagEncrypted byte = 1
)

// Magic opens every full message.
var Magic = [3]byte{0x3F, 0x23, 0x23}

// Message is one application message as carried on the wire.
//
// Size is the plaintext payload length. AES-GCM keeps ciphertext and plaintext the
// same length, so Size always equals len(Contents) on both sides of encryption.
type Message struct {
	EventID      event.ID
	Encrypted    bool
	IV           []byte
	Tag          []byte
	Contents     []byte
	SessionID    [SessionIDSize]byte
	SessionStart int32
	Size         uint32
}

// NewMessage returns a plaintext message for contents with Size filled in.
func NewMessage(id event.ID, contents []byte, sessionID [SessionIDSize]byte, start time.Time) *Message {
	if contents == nil {
		contents = []byte{}
	}
	return &Message{
		EventID:      id,
		Contents:     contents,
		SessionID:    sessionID,
		SessionStart: int32(start.Unix()),
		Size:         uint32(len(contents)),
	}
}

// HeaderSize returns the number of header bytes preceding the payload.
func HeaderSize(encrypted bool) int {
	if encrypted {
		return baseHeaderSize + IVSize + TagSize
	}
	return baseHeaderSize
}

// Equal reports whether two messages carry identical wire fields.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.EventID == o.EventID &&
		m.Encrypted == o.Encrypted &&
		bytes.Equal(m.IV, o.IV) &&
		bytes.Equal(m.Tag, o.Tag) &&
		bytes.Equal(m.Contents, o.Contents) &&
		m.SessionID == o.SessionID &&
		m.SessionStart == o.SessionStart &&
		m.Size == o.Size
}

// Build serializes m into a full message.
func Build(m *Message) ([]byte, error) {
	if err := validate(m); err != nil {
		fields := logger.Fields{"at": "Build", "error": err.Error()}
		if m != nil {
			fields["event"] = event.Name(m.EventID)
		}
		log.WithFields(fields).Warn("refusing to build malformed message")
		return nil, err
	}

	out := make([]byte, 0, HeaderSize(m.Encrypted)+len(m.Contents))
	out = append(out, Magic[:]...)
	if m.Encrypted {
		out = append(out, flagEncrypted)
		out = append(out, m.IV...)
		out = append(out, m.Tag...)
	} else {
		out = append(out, flagPlain)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(m.EventID))
	out = binary.BigEndian.AppendUint32(out, m.Size)
	out = append(out, m.SessionID[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(m.SessionStart))
	out = append(out, m.Contents...)
	return out, nil
}

func validate(m *Message) error {
	if m == nil {
		return oops.Wrapf(ErrMalformedMessage, "nil message")
	}
	if int(m.Size) != len(m.Contents) {
		return oops.Wrapf(ErrMalformedMessage, "size %d does not match %d content bytes", m.Size, len(m.Contents))
	}
	if len(m.Contents) > MaxPayloadSize {
		return oops.Wrapf(ErrMalformedMessage, "payload of %d bytes exceeds %d", len(m.Contents), MaxPayloadSize)
	}
	if m.Encrypted && (len(m.IV) != IVSize || len(m.Tag) != TagSize) {
		return oops.Wrapf(ErrMalformedMessage, "encrypted message needs %d byte iv and %d byte tag, got %d and %d",
			IVSize, TagSize, len(m.IV), len(m.Tag))
	}
	return nil
}
