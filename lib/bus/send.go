package bus

import (
	"context"
	"encoding"
	"errors"

	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Send frames payload under id and writes it. The payload is sealed when the
// bus holds an envelope.
func (b *Bus) Send(ctx context.Context, id event.ID, payload []byte) error {
	m := frame.NewMessage(id, payload, b.sessionID, b.start)
	if env := b.cfg.Envelope; env != nil {
		iv, tag, ct, err := env.Seal(m.Contents)
		if err != nil {
			return oops.Wrapf(err, "sealing %s payload", event.Name(id))
		}
		m.Encrypted = true
		m.IV, m.Tag, m.Contents = iv, tag, ct
	}
	return b.SendMessage(ctx, m)
}

// SendMessage writes an already built message. Packets of one message are never
// interleaved with another's. A packet that misses WriteTimeout aborts the send
// with transport.ErrWriteTimeout; the bus itself stays usable.
func (b *Bus) SendMessage(ctx context.Context, m *frame.Message) error {
	full, err := frame.Build(m)
	if err != nil {
		return err
	}
	packets, err := frame.Packetize(full, b.cfg.PacketLimit)
	if err != nil {
		return err
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	for i, p := range packets {
		if err := b.limiter.Wait(ctx); err != nil {
			return oops.Wrapf(err, "pacing packet %d of %s", i, event.Name(m.EventID))
		}
		if err := b.writePacket(ctx, p); err != nil {
			log.WithFields(logger.Fields{
				"at":      "(Bus) SendMessage",
				"event":   event.Name(m.EventID),
				"packet":  i,
				"packets": len(packets),
				"error":   err.Error(),
			}).Warn("packet write failed, aborting message")
			return err
		}
		packetsSent.Inc()
	}
	framesSent.WithLabelValues(event.Name(m.EventID)).Inc()
	log.WithFields(logger.Fields{
		"at":        "(Bus) SendMessage",
		"event":     event.Name(m.EventID),
		"encrypted": m.Encrypted,
		"size":      m.Size,
		"packets":   len(packets),
	}).Debug("message sent")
	return nil
}

func (b *Bus) writePacket(ctx context.Context, p []byte) error {
	pctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
	defer cancel()

	err := b.t.Send(pctx, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrWriteTimeout), errors.Is(err, transport.ErrWriteFailed), errors.Is(err, transport.ErrClosed):
		return err
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		return oops.Code(transport.CodeWriteFailed).Wrapf(transport.ErrWriteTimeout, "%v", err)
	default:
		return oops.Code(transport.CodeWriteFailed).Wrapf(transport.ErrWriteFailed, "%v", err)
	}
}

// SendPayload marshals p and sends it over ep under id.
func SendPayload(ctx context.Context, ep Endpoint, id event.ID, p encoding.BinaryMarshaler) error {
	body, err := p.MarshalBinary()
	if err != nil {
		return oops.Wrapf(err, "marshal %s payload", event.Name(id))
	}
	return ep.Send(ctx, id, body)
}
