// Package bus runs the framed message exchange over one transport link.
//
// A Bus owns the link's reassembler and is the single reader of its fragment
// stream. Full messages are decrypted when the bus holds an envelope and routed
// to subscribers by event id. Outbound messages are built, packetized and
// written one packet at a time with pacing and a per-packet write deadline.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	cb "github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-activecard/lib/envelope"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetGoI2PLogger()

// ErrUnknownEventID marks a received message whose event id is not in the table.
// It is logged, never returned to callers.
var ErrUnknownEventID = errors.New("unknown event id")

// Defaults applied by DefaultConfig.
const (
	DefaultWriteTimeout   = 500 * time.Millisecond
	DefaultPacketInterval = 50 * time.Millisecond
	DefaultBacklog        = 16
)

// Delivery never blocks the read loop, which holds the routing lock. A
// subscription that falls this many messages behind drops the newest and
// counts it as subscriber_overflow. Relay-only subscriptions get the larger
// buffer since MPC rounds arrive in bursts from every party at once.
const (
	subscriptionBuffer      = 32
	relaySubscriptionBuffer = 256
)

// Config tunes a Bus.
type Config struct {
	// PacketLimit is the fragment payload size per packet.
	PacketLimit int
	// WriteTimeout bounds each packet write.
	WriteTimeout time.Duration
	// PacketInterval paces consecutive packet writes. Zero disables pacing.
	PacketInterval time.Duration
	// Backlog is the number of unclaimed messages kept per event id.
	Backlog int
	// Envelope, when set, encrypts outbound payloads and decrypts inbound ones.
	Envelope *envelope.Envelope
}

// DefaultConfig returns the link parameters used by the card firmware.
func DefaultConfig() Config {
	return Config{
		PacketLimit:    frame.DefaultPacketLimit,
		WriteTimeout:   DefaultWriteTimeout,
		PacketInterval: DefaultPacketInterval,
		Backlog:        DefaultBacklog,
	}
}

// Endpoint is the part of a Bus the protocol state machines use.
type Endpoint interface {
	Subscribe(ids ...event.ID) *Subscription
	Send(ctx context.Context, id event.ID, payload []byte) error
}

// Bus is one side of a framed link.
type Bus struct {
	t         transport.Transport
	cfg       Config
	sessionID [frame.SessionIDSize]byte
	start     time.Time

	sendMu  sync.Mutex
	limiter *rate.Limiter

	mu      sync.Mutex
	subs    map[event.ID][]*Subscription
	backlog map[event.ID]*cb.Queue
	closed  bool
	done    chan struct{}
}

var _ Endpoint = (*Bus)(nil)

// New returns a Bus over t. Zero fields in cfg fall back to DefaultConfig.
func New(t transport.Transport, cfg Config) (*Bus, error) {
	def := DefaultConfig()
	if cfg.PacketLimit <= 0 {
		cfg.PacketLimit = def.PacketLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	if cfg.PacketInterval < 0 {
		cfg.PacketInterval = 0
	}

	b := &Bus{
		t:       t,
		cfg:     cfg,
		start:   time.Now(),
		limiter: rate.NewLimiter(rate.Every(cfg.PacketInterval), 1),
		subs:    make(map[event.ID][]*Subscription),
		backlog: make(map[event.ID]*cb.Queue),
		done:    make(chan struct{}),
	}
	if _, err := rand.Read(b.sessionID[:]); err != nil {
		return nil, oops.Wrapf(err, "generating session id")
	}
	log.WithFields(logger.Fields{
		"at":              "New",
		"reason":          "initialization",
		"packet_limit":    cfg.PacketLimit,
		"write_timeout":   cfg.WriteTimeout,
		"packet_interval": cfg.PacketInterval,
		"encrypted":       cfg.Envelope != nil,
	}).Debug("created message bus")
	return b, nil
}

// SessionID returns the random session identifier stamped on outbound frames.
func (b *Bus) SessionID() [frame.SessionIDSize]byte {
	return b.sessionID
}

// Done is closed once Run has returned.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Run is the dispatch loop. It returns nil when ctx ends and a wrapped
// transport.ErrClosed when the link's fragment stream closes. Frame errors are
// logged and the loop keeps going. All subscriptions are closed on return.
func (b *Bus) Run(ctx context.Context) error {
	defer b.shutdown()

	var opener frame.Opener
	if b.cfg.Envelope != nil {
		opener = b.cfg.Envelope
	}
	r := frame.NewReassembler(opener)
	in := b.t.Receive()

	for {
		select {
		case <-ctx.Done():
			log.WithField("at", "(Bus) Run").Debug("dispatch loop stopped by context")
			return nil
		case frag, ok := <-in:
			if !ok {
				log.WithFields(logger.Fields{
					"at":       "(Bus) Run",
					"reason":   "link_dropped",
					"buffered": r.Buffered(),
				}).Warn("fragment stream closed")
				return oops.Wrapf(transport.ErrClosed, "fragment stream ended")
			}
			b.handle(r.Feed(frag))
		}
	}
}

func (b *Bus) handle(res frame.Result) {
	switch res.Status {
	case frame.StatusPartial:
		return
	case frame.StatusError:
		kind := "invalid_header"
		if errors.Is(res.Err, envelope.ErrDecryptFailed) {
			kind = "decrypt_failed"
		}
		frameErrors.WithLabelValues(kind).Inc()
		log.WithFields(logger.Fields{
			"at":    "(Bus) Run",
			"kind":  kind,
			"error": res.Err.Error(),
		}).Warn("discarding frame")
		return
	}

	m := res.Message
	if !event.Known(m.EventID) {
		frameErrors.WithLabelValues("unknown_event").Inc()
		log.WithFields(logger.Fields{
			"at":    "(Bus) Run",
			"error": oops.Wrapf(ErrUnknownEventID, "event %d", uint16(m.EventID)).Error(),
		}).Warn("ignoring message with unknown event id")
		return
	}
	if m.Encrypted && b.cfg.Envelope == nil {
		frameErrors.WithLabelValues("no_key").Inc()
		log.WithFields(logger.Fields{
			"at":    "(Bus) Run",
			"event": event.Name(m.EventID),
		}).Warn("dropping encrypted message, no symmetric key configured")
		return
	}
	framesReceived.WithLabelValues(event.Name(m.EventID)).Inc()
	b.route(m)
}

func (b *Bus) route(m *frame.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[m.EventID]
	if len(subs) == 0 {
		q, ok := b.backlog[m.EventID]
		if !ok {
			q = cb.New(b.cfg.Backlog)
			b.backlog[m.EventID] = q
		}
		q.Enqueue(m)
		log.WithFields(logger.Fields{
			"at":      "(Bus) route",
			"event":   event.Name(m.EventID),
			"backlog": q.Size(),
		}).Debug("no subscriber, message parked")
		return
	}
	for _, s := range subs {
		s.deliver(m)
	}
}

// Subscribe registers interest in ids. Messages parked for any of the ids
// before the call are delivered first, oldest first.
func (b *Bus) Subscribe(ids ...event.ID) *Subscription {
	s := &Subscription{
		bus: b,
		ids: ids,
		ch:  make(chan *frame.Message, bufferFor(ids)),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	for _, id := range ids {
		b.subs[id] = append(b.subs[id], s)
		if q, ok := b.backlog[id]; ok {
			for !q.Empty() {
				v, _ := q.Dequeue()
				s.deliver(v.(*frame.Message))
			}
			delete(b.backlog, id)
		}
	}
	return s
}

func bufferFor(ids []event.ID) int {
	if len(ids) == 0 {
		return subscriptionBuffer
	}
	for _, id := range ids {
		if !event.IsRelay(id) {
			return subscriptionBuffer
		}
	}
	return relaySubscriptionBuffer
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	for _, id := range s.ids {
		list := b.subs[id]
		for i, cur := range list {
			if cur == s {
				b.subs[id] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[id]) == 0 {
			delete(b.subs, id)
		}
	}
	s.closed = true
	close(s.ch)
}

func (b *Bus) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[*Subscription]bool)
	for _, list := range b.subs {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				s.closed = true
				close(s.ch)
			}
		}
	}
	b.subs = make(map[event.ID][]*Subscription)
	for _, q := range b.backlog {
		q.Clear()
	}
	close(b.done)
}
