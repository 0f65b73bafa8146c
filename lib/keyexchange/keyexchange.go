// Package keyexchange agrees on a session secret with ephemeral X25519 keys
// authenticated by the long-term identity keys established during the handshake.
//
// Each side signs its ephemeral public key, verifies the peer's, derives the
// shared secret and acknowledges. Installing the secret into an envelope is left
// to the caller; see envelope.DeriveKey.
package keyexchange

import (
	"context"
	"errors"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/payload"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

var log = logger.GetGoI2PLogger()

// ErrPeerKeyInvalid is returned for an ephemeral key that cannot be used for ECDH.
var ErrPeerKeyInvalid = errors.New("invalid ephemeral public key")

// Config configures one exchange.
type Config struct {
	Signer        signer.Signer
	PrivateKey    []byte // identity private key, DER
	PeerPublicKey []byte // peer identity public key, DER
	Source        string
	// OnSharedSecret receives the derived secret once both sides acknowledged.
	OnSharedSecret func(secret []byte)
}

// Exchange is a single ephemeral key agreement.
type Exchange struct {
	ep   bus.Endpoint
	cfg  Config
	priv []byte
	pub  []byte
}

// New generates the ephemeral key pair for an exchange over ep.
func New(ep bus.Endpoint, cfg Config) (*Exchange, error) {
	if cfg.Signer == nil {
		cfg.Signer = signer.ECDSA{}
	}
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, oops.Wrapf(err, "generating ephemeral key")
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, oops.Wrapf(err, "deriving ephemeral public key")
	}
	return &Exchange{ep: ep, cfg: cfg, priv: priv, pub: pub}, nil
}

// PublicKey returns the ephemeral public key.
func (x *Exchange) PublicKey() []byte {
	return append([]byte(nil), x.pub...)
}

// Run performs the exchange and returns the shared secret.
func (x *Exchange) Run(ctx context.Context) ([]byte, error) {
	sub := x.ep.Subscribe(event.SendEcdhPublicKey, event.EcdhExchangeAck)
	defer sub.Close()

	sig, err := x.cfg.Signer.Sign(x.cfg.PrivateKey, x.pub)
	if err != nil {
		return nil, oops.Wrapf(err, "signing ephemeral key")
	}
	offer := &payload.EcdhPublicKey{PublicKey: x.pub, Source: x.cfg.Source, Signature: sig}
	if err := bus.SendPayload(ctx, x.ep, event.SendEcdhPublicKey, offer); err != nil {
		return nil, oops.Wrapf(err, "sending ephemeral key")
	}

	var secret []byte
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return nil, oops.Wrapf(err, "awaiting key exchange")
		}

		switch m.EventID {
		case event.SendEcdhPublicKey:
			if secret != nil {
				continue
			}
			secret, err = x.accept(ctx, m.Contents)
			if err != nil {
				return nil, err
			}
		case event.EcdhExchangeAck:
			var ack payload.EcdhExchangeAck
			if err := ack.UnmarshalBinary(m.Contents); err != nil {
				return nil, oops.Wrapf(err, "decoding exchange ack")
			}
			if !ack.OK {
				return nil, oops.Code(signer.CodePeerRejected).Wrapf(signer.ErrVerificationFailed, "%s rejected our ephemeral key", ack.Source)
			}
			if secret == nil {
				log.WithField("at", "(Exchange) Run").Warn("ack before peer key, ignoring")
				continue
			}
			log.WithFields(logger.Fields{
				"at":   "(Exchange) Run",
				"peer": ack.Source,
			}).Debug("shared secret agreed")
			if x.cfg.OnSharedSecret != nil {
				x.cfg.OnSharedSecret(secret)
			}
			return secret, nil
		}
	}
}

func (x *Exchange) accept(ctx context.Context, body []byte) ([]byte, error) {
	var peer payload.EcdhPublicKey
	if err := peer.UnmarshalBinary(body); err != nil {
		return nil, oops.Wrapf(err, "decoding peer ephemeral key")
	}

	if !x.cfg.Signer.Verify(x.cfg.PeerPublicKey, peer.PublicKey, peer.Signature) {
		x.nack(ctx)
		return nil, oops.Code(signer.CodeVerificationFailed).Wrapf(signer.ErrVerificationFailed, "ephemeral key from %q is not signed by its identity", peer.Source)
	}
	if len(peer.PublicKey) != curve25519.PointSize {
		x.nack(ctx)
		return nil, oops.Wrapf(ErrPeerKeyInvalid, "%d bytes", len(peer.PublicKey))
	}
	secret, err := curve25519.X25519(x.priv, peer.PublicKey)
	if err != nil {
		x.nack(ctx)
		return nil, oops.Wrapf(ErrPeerKeyInvalid, "%v", err)
	}

	ack := &payload.EcdhExchangeAck{Source: x.cfg.Source, OK: true}
	if err := bus.SendPayload(ctx, x.ep, event.EcdhExchangeAck, ack); err != nil {
		return nil, oops.Wrapf(err, "sending exchange ack")
	}
	return secret, nil
}

func (x *Exchange) nack(ctx context.Context) {
	ack := &payload.EcdhExchangeAck{Source: x.cfg.Source}
	if err := bus.SendPayload(ctx, x.ep, event.EcdhExchangeAck, ack); err != nil {
		log.WithError(err).Warn("could not send negative exchange ack")
	}
}
