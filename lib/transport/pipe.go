package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// DefaultPipeBuffer is the number of fragments a pipe direction can hold before
// Send blocks.
const DefaultPipeBuffer = 256

// SendHook runs before a packet is delivered. A non-nil error fails the send;
// a hook may also block on ctx to simulate a stalled link.
type SendHook func(ctx context.Context, packet []byte) error

type pipeConfig struct {
	buffer int
}

// PipeOption configures Pipe.
type PipeOption func(*pipeConfig)

// WithBuffer sets the per-direction fragment buffer.
func WithBuffer(n int) PipeOption {
	return func(c *pipeConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

type link struct {
	done chan struct{}
	once sync.Once
}

// PipeEnd is one side of an in-memory link.
type PipeEnd struct {
	name string
	link *link
	peer *PipeEnd
	in   chan []byte
	out  chan []byte

	mu   sync.RWMutex
	hook SendHook
}

var _ Transport = (*PipeEnd)(nil)

// Pipe returns two connected endpoints. Packets sent on one are delivered,
// header stripped, to the other in FIFO order.
func Pipe(opts ...PipeOption) (*PipeEnd, *PipeEnd) {
	cfg := pipeConfig{buffer: DefaultPipeBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &link{done: make(chan struct{})}
	a := newPipeEnd("a", l, cfg.buffer)
	b := newPipeEnd("b", l, cfg.buffer)
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()

	log.WithFields(logger.Fields{
		"at":     "Pipe",
		"reason": "initialization",
		"buffer": cfg.buffer,
	}).Debug("created in-memory link")
	return a, b
}

func newPipeEnd(name string, l *link, buffer int) *PipeEnd {
	return &PipeEnd{
		name: name,
		link: l,
		in:   make(chan []byte, buffer),
		out:  make(chan []byte),
	}
}

// SetSendHook installs a hook run on every Send from this endpoint.
func (p *PipeEnd) SetSendHook(h SendHook) {
	p.mu.Lock()
	p.hook = h
	p.mu.Unlock()
}

// Send implements Transport.
func (p *PipeEnd) Send(ctx context.Context, packet []byte) error {
	select {
	case <-p.link.done:
		return oops.Code(CodeWriteFailed).Wrapf(ErrClosed, "send on closed pipe")
	default:
	}

	p.mu.RLock()
	hook := p.hook
	p.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, packet); err != nil {
			return classify(ctx, err)
		}
	}

	_, fragment, err := frame.StripPacketHeader(packet)
	if err != nil {
		return oops.Code(CodeWriteFailed).Wrapf(ErrWriteFailed, "%v", err)
	}
	fragment = append([]byte(nil), fragment...)

	select {
	case p.peer.in <- fragment:
		return nil
	case <-p.link.done:
		return oops.Code(CodeWriteFailed).Wrapf(ErrClosed, "pipe closed during send")
	case <-ctx.Done():
		return classify(ctx, ctx.Err())
	}
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrWriteTimeout) || errors.Is(err, ErrWriteFailed) || errors.Is(err, ErrClosed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return oops.Code(CodeWriteFailed).Wrapf(ErrWriteTimeout, "%v", err)
	}
	return oops.Code(CodeWriteFailed).Wrapf(ErrWriteFailed, "%v", err)
}

// Receive implements Transport.
func (p *PipeEnd) Receive() <-chan []byte {
	return p.out
}

// Close implements Transport. Closing either end drops the whole link.
func (p *PipeEnd) Close() error {
	p.link.once.Do(func() {
		log.WithFields(logger.Fields{
			"at":   "(PipeEnd) Close",
			"side": p.name,
		}).Debug("closing in-memory link")
		close(p.link.done)
	})
	return nil
}

func (p *PipeEnd) pump() {
	defer close(p.out)
	for {
		select {
		case <-p.link.done:
			return
		case frag := <-p.in:
			select {
			case p.out <- frag:
			case <-p.link.done:
				return
			}
		}
	}
}
