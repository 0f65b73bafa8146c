package activecard

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/handshake"
	"github.com/go-i2p/go-activecard/lib/keyexchange"
	"github.com/go-i2p/go-activecard/lib/mpc"
	"github.com/go-i2p/go-activecard/lib/pairing"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetGoI2PLogger()

// PeerStore persists peer identity keys on the card.
type PeerStore interface {
	SavePeerKey(source string, publicKey []byte) error
	Forget(deviceID string) error
}

// ServerConfig configures the card side.
type ServerConfig struct {
	Bus      bus.Config
	Identity signer.KeyPair
	// Source tags this side's keys on the wire.
	Source      string
	Mutual      bool
	SettleDelay time.Duration
	Peers       PeerStore
	Engine      mpc.Engine

	OnAuthenticated func(peerPublicKey []byte)
	OnSharedSecret  func(secret []byte)
	OnPaired        func(encryptedUserID []byte)
	OnPairingFailed func(err error)
	// OnAuthenticationFailed is called after each failed attempt.
	OnAuthenticationFailed func(err error)
}

// Server is the card side of a session.
type Server struct {
	cfg   ServerConfig
	bus   *bus.Bus
	relay *mpc.Relay
}

// NewServer prepares a card session over t.
func NewServer(t transport.Transport, cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, oops.Errorf("activecard: server needs an MPC engine")
	}
	if len(cfg.Identity.Private) == 0 {
		return nil, oops.Wrapf(handshake.ErrNoPrivateKey, "activecard: card identity")
	}
	if cfg.Source == "" {
		cfg.Source = "card"
	}
	b, err := bus.New(t, cfg.Bus)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:   cfg,
		bus:   b,
		relay: mpc.NewRelay(b, cfg.Engine, mpc.RelayConfig{SettleDelay: cfg.SettleDelay}),
	}, nil
}

// Bus returns the session's message bus.
func (s *Server) Bus() *bus.Bus { return s.bus }

// Relay returns the MPC relay, for inspecting group sessions.
func (s *Server) Relay() *mpc.Relay { return s.relay }

// Run serves the session until ctx ends or the link drops. A failed
// authentication attempt ends only that attempt: the card waits for the
// next challenge with a fresh handshake. The MPC relay starts with the first
// successful authentication; each later one replaces the pairing responder
// with one bound to the newly authenticated key.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bus.Run(ctx) })
	g.Go(func() error {
		var relayOnce sync.Once
		stopPairing := func() {}
		defer func() { stopPairing() }()

		for attempt := 1; ; attempt++ {
			peerKey, err := s.authenticate(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				log.WithFields(logger.Fields{
					"at":      "(Server) Run",
					"reason":  "authentication_failed",
					"attempt": attempt,
					"error":   err.Error(),
				}).Warn("authentication attempt failed, waiting for a new challenge")
				if s.cfg.OnAuthenticationFailed != nil {
					s.cfg.OnAuthenticationFailed(err)
				}
				continue
			}

			stopPairing()
			stopPairing = s.startPairing(ctx, peerKey)
			relayOnce.Do(func() {
				g.Go(func() error { return s.relay.Run(ctx) })
			})
			log.WithFields(logger.Fields{
				"at":      "(Server) Run",
				"attempt": attempt,
			}).Info("session authenticated, serving requests")
		}
	})
	return g.Wait()
}

// startPairing runs a pairing responder for peerKey and returns a func that
// stops it and waits for it to unsubscribe.
func (s *Server) startPairing(ctx context.Context, peerKey []byte) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	responder := s.pairingResponder(peerKey)
	go func() {
		defer close(done)
		if err := responder.Run(ctx); err != nil {
			log.WithFields(logger.Fields{
				"at":    "(Server) startPairing",
				"error": err.Error(),
			}).Debug("pairing responder stopped")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Server) authenticate(ctx context.Context) ([]byte, error) {
	hcfg := handshake.Config{
		Role:       handshake.Responder,
		PrivateKey: s.cfg.Identity.Private,
		PublicKey:  s.cfg.Identity.Public,
		Source:     s.cfg.Source,
		Mutual:     s.cfg.Mutual,
		OnDone:     s.cfg.OnAuthenticated,
	}
	if s.cfg.Peers != nil {
		hcfg.SavePeerKey = func(pub []byte, source string) error {
			return s.cfg.Peers.SavePeerKey(source, pub)
		}
	}
	hs, err := handshake.New(s.bus, hcfg)
	if err != nil {
		return nil, err
	}
	if err := hs.Run(ctx); err != nil {
		return nil, oops.Wrapf(err, "card handshake")
	}
	peerKey := hs.PeerKey()

	kx, err := keyexchange.New(s.bus, keyexchange.Config{
		PrivateKey:     s.cfg.Identity.Private,
		PeerPublicKey:  peerKey,
		Source:         s.cfg.Source,
		OnSharedSecret: s.cfg.OnSharedSecret,
	})
	if err != nil {
		return nil, err
	}
	if _, err := kx.Run(ctx); err != nil {
		return nil, oops.Wrapf(err, "card key exchange")
	}
	return peerKey, nil
}

func (s *Server) pairingResponder(peerKey []byte) *pairing.Responder {
	cfg := pairing.Config{
		PeerPublicKey: peerKey,
		OnDone:        s.cfg.OnPaired,
		OnFailed:      s.cfg.OnPairingFailed,
	}
	if s.cfg.Peers != nil {
		cfg.OnForget = s.cfg.Peers.Forget
	}
	return pairing.NewResponder(s.bus, cfg)
}
