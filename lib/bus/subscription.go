package bus

import (
	"context"

	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Subscription receives the messages for a set of event ids.
type Subscription struct {
	bus    *Bus
	ids    []event.ID
	ch     chan *frame.Message
	closed bool // guarded by bus.mu
}

// C returns the delivery channel. It is closed by Close or when the bus stops.
func (s *Subscription) C() <-chan *frame.Message {
	return s.ch
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// deliver must be called with bus.mu held.
func (s *Subscription) deliver(m *frame.Message) {
	select {
	case s.ch <- m:
	default:
		frameErrors.WithLabelValues("subscriber_overflow").Inc()
		log.WithFields(logger.Fields{
			"at":    "(Subscription) deliver",
			"event": event.Name(m.EventID),
		}).Warn("subscriber is not keeping up, message dropped")
	}
}

// Next waits for the next message on s. It returns a wrapped transport.ErrClosed
// when the subscription ends and ctx's error when ctx ends first.
func (s *Subscription) Next(ctx context.Context) (*frame.Message, error) {
	select {
	case m, ok := <-s.ch:
		if !ok {
			return nil, oops.Wrapf(transport.ErrClosed, "subscription ended")
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
