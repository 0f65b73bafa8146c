package activecard

import (
	"context"
	"time"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/handshake"
	"github.com/go-i2p/go-activecard/lib/keyexchange"
	"github.com/go-i2p/go-activecard/lib/mpc"
	"github.com/go-i2p/go-activecard/lib/pairing"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/samber/oops"
)

// ClientConfig configures the mobile side.
type ClientConfig struct {
	Bus           bus.Config
	Identity      signer.KeyPair
	CardPublicKey []byte
	Source        string
	StartupDelay  time.Duration
	Mutual        bool

	OnSharedSecret func(secret []byte)
}

// Client is the mobile side of a session.
type Client struct {
	cfg ClientConfig
	bus *bus.Bus
	mpc *mpc.Client
}

// NewClient prepares a mobile session over t.
func NewClient(t transport.Transport, cfg ClientConfig) (*Client, error) {
	if len(cfg.CardPublicKey) == 0 {
		return nil, oops.Wrapf(handshake.ErrNoPeerKey, "activecard: card public key")
	}
	if cfg.Source == "" {
		cfg.Source = "mobile"
	}
	b, err := bus.New(t, cfg.Bus)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, bus: b, mpc: mpc.NewClient(b)}, nil
}

// Bus returns the session's message bus.
func (c *Client) Bus() *bus.Bus { return c.bus }

// MPC returns the relay client for driving jobs on the card.
func (c *Client) MPC() *mpc.Client { return c.mpc }

// Run runs the dispatch loop until ctx ends or the link drops.
func (c *Client) Run(ctx context.Context) error {
	return c.bus.Run(ctx)
}

// Connect authenticates the card and agrees on a session secret.
func (c *Client) Connect(ctx context.Context) ([]byte, error) {
	hs, err := handshake.New(c.bus, handshake.Config{
		Role:          handshake.Initiator,
		PrivateKey:    c.cfg.Identity.Private,
		PublicKey:     c.cfg.Identity.Public,
		PeerPublicKey: c.cfg.CardPublicKey,
		Source:        c.cfg.Source,
		StartupDelay:  c.cfg.StartupDelay,
		Mutual:        c.cfg.Mutual,
	})
	if err != nil {
		return nil, err
	}
	if err := hs.Run(ctx); err != nil {
		return nil, oops.Wrapf(err, "mobile handshake")
	}

	kx, err := keyexchange.New(c.bus, keyexchange.Config{
		PrivateKey:     c.cfg.Identity.Private,
		PeerPublicKey:  c.cfg.CardPublicKey,
		Source:         c.cfg.Source,
		OnSharedSecret: c.cfg.OnSharedSecret,
	})
	if err != nil {
		return nil, err
	}
	secret, err := kx.Run(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "mobile key exchange")
	}
	log.WithField("at", "(Client) Connect").Info("card authenticated")
	return secret, nil
}

// Associate binds the user identity blob to this device on the card.
func (c *Client) Associate(ctx context.Context, encryptedUserID []byte) (bool, error) {
	return pairing.NewInitiator(c.bus, pairing.Config{PrivateKey: c.cfg.Identity.Private}).Associate(ctx, encryptedUserID)
}

// Forget asks the card to drop the association for deviceID.
func (c *Client) Forget(ctx context.Context, deviceID string) error {
	return pairing.NewInitiator(c.bus, pairing.Config{}).Forget(ctx, deviceID)
}
