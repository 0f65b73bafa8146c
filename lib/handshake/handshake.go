// Package handshake implements the nonce challenge/response authentication and
// identity key exchange that opens every session between a mobile device and a
// card.
//
// The initiator challenges the card with a fresh 32-byte nonce and checks the
// signed answer against the card key it already knows. On success it reports
// the result and announces its own identity key, which the card persists. With
// mutual authentication enabled the card then challenges the initiator back
// and verifies the answer against the key it just received.
package handshake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/go-activecard/lib/payload"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// NonceSize is the challenge length.
const NonceSize = 32

var (
	// ErrNoPeerKey is returned when an initiator is configured without the card key.
	ErrNoPeerKey = errors.New("peer public key required")
	// ErrNoPrivateKey is returned when no identity private key is configured.
	ErrNoPrivateKey = errors.New("identity private key required")
)

// Config configures one handshake attempt.
type Config struct {
	Role   Role
	Signer signer.Signer
	// PrivateKey and PublicKey are this side's DER identity keys.
	PrivateKey []byte
	PublicKey  []byte
	// PeerPublicKey is the card key known to an initiator. Responders learn the
	// initiator key during the handshake.
	PeerPublicKey []byte
	// Source tags the identity key this side announces, e.g. "mobile".
	Source string
	// StartupDelay is waited before the initiator's first challenge.
	StartupDelay time.Duration
	// Mutual makes the responder challenge the initiator back.
	Mutual bool
	// SavePeerKey persists the initiator key received by a responder.
	SavePeerKey func(publicKey []byte, source string) error
	// OnDone runs once when the handshake reaches Done.
	OnDone func(peerPublicKey []byte)
}

// Handshake is a single authentication attempt. A retry needs a new Handshake,
// which carries a new nonce.
type Handshake struct {
	ep  bus.Endpoint
	cfg Config

	nonce []byte

	mu      sync.Mutex
	state   State
	peerKey []byte
	err     error

	doneOnce sync.Once
}

// New prepares a handshake over ep.
func New(ep bus.Endpoint, cfg Config) (*Handshake, error) {
	if cfg.Signer == nil {
		cfg.Signer = signer.ECDSA{}
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, ErrNoPrivateKey
	}
	if cfg.Role == Initiator && len(cfg.PeerPublicKey) == 0 {
		return nil, ErrNoPeerKey
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.Wrapf(err, "generating challenge nonce")
	}
	return &Handshake{
		ep:      ep,
		cfg:     cfg,
		nonce:   nonce,
		peerKey: cfg.PeerPublicKey,
	}, nil
}

// State returns the current state.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure cause once the handshake has failed.
func (h *Handshake) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Nonce returns a copy of this attempt's challenge.
func (h *Handshake) Nonce() []byte {
	return append([]byte(nil), h.nonce...)
}

// PeerKey returns the authenticated peer identity key.
func (h *Handshake) PeerKey() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.peerKey...)
}

// Run drives the handshake to a terminal state. It returns nil on Done and the
// failure cause otherwise.
func (h *Handshake) Run(ctx context.Context) error {
	sub := h.ep.Subscribe(
		event.Challenge,
		event.SignedNonce,
		event.SignatureVerificationResult,
		event.SendIdentityPublicKey,
	)
	defer sub.Close()

	log.WithFields(logger.Fields{
		"at":     "(Handshake) Run",
		"role":   h.cfg.Role.String(),
		"mutual": h.cfg.Mutual,
	}).Debug("starting handshake")

	if h.cfg.Role == Initiator {
		if err := h.openChallenge(ctx); err != nil {
			return h.fail(err)
		}
	}

	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return h.fail(oops.Wrapf(err, "waiting in state %s", h.State()))
		}
		finished, err := h.handle(ctx, m)
		if err != nil {
			return h.fail(err)
		}
		if finished {
			return nil
		}
	}
}

func (h *Handshake) openChallenge(ctx context.Context) error {
	if h.cfg.StartupDelay > 0 {
		t := time.NewTimer(h.cfg.StartupDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return h.challenge(ctx)
}

func (h *Handshake) challenge(ctx context.Context) error {
	h.setState(ChallengeSent)
	if err := bus.SendPayload(ctx, h.ep, event.Challenge, &payload.NonceRequest{Nonce: h.nonce}); err != nil {
		return oops.Wrapf(err, "sending challenge")
	}
	h.setState(AwaitSignedNonce)
	return nil
}

func (h *Handshake) handle(ctx context.Context, m *frame.Message) (bool, error) {
	switch m.EventID {
	case event.Challenge:
		return false, h.answerChallenge(ctx, m.Contents)
	case event.SignedNonce:
		return h.checkSignedNonce(ctx, m.Contents)
	case event.SignatureVerificationResult:
		return h.handleResult(m.Contents)
	case event.SendIdentityPublicKey:
		return h.acceptIdentity(ctx, m.Contents)
	}
	return false, nil
}

func (h *Handshake) answerChallenge(ctx context.Context, body []byte) error {
	var req payload.NonceRequest
	if err := req.UnmarshalBinary(body); err != nil {
		return oops.Wrapf(err, "decoding challenge")
	}
	sig, err := h.cfg.Signer.Sign(h.cfg.PrivateKey, req.Nonce)
	if err != nil {
		return oops.Wrapf(err, "signing challenge")
	}
	log.WithFields(logger.Fields{
		"at":    "(Handshake) answerChallenge",
		"role":  h.cfg.Role.String(),
		"state": h.State().String(),
	}).Debug("answering challenge")
	return bus.SendPayload(ctx, h.ep, event.SignedNonce, &payload.SignedNonce{Signature: sig})
}

func (h *Handshake) checkSignedNonce(ctx context.Context, body []byte) (bool, error) {
	if h.State() != AwaitSignedNonce {
		log.WithFields(logger.Fields{
			"at":    "(Handshake) checkSignedNonce",
			"state": h.State().String(),
		}).Warn("unexpected signed nonce, ignoring")
		return false, nil
	}
	var sn payload.SignedNonce
	if err := sn.UnmarshalBinary(body); err != nil {
		return false, oops.Wrapf(err, "decoding signed nonce")
	}

	if !h.cfg.Signer.Verify(h.PeerKey(), h.nonce, sn.Signature) {
		result := &payload.SignatureVerificationResult{Valid: false, Reason: signer.CodeVerificationFailed}
		if err := bus.SendPayload(ctx, h.ep, event.SignatureVerificationResult, result); err != nil {
			log.WithError(err).Warn("could not report failed verification to peer")
		}
		return false, oops.Code(signer.CodeVerificationFailed).Wrapf(signer.ErrVerificationFailed, "peer signature over challenge did not verify")
	}

	h.setState(Verified)
	result := &payload.SignatureVerificationResult{Valid: true}
	if err := bus.SendPayload(ctx, h.ep, event.SignatureVerificationResult, result); err != nil {
		return false, oops.Wrapf(err, "sending verification result")
	}

	if h.cfg.Role == Responder {
		// The responder only challenges in mutual mode, after identities are exchanged.
		h.complete()
		return true, nil
	}

	ident := &payload.IdentityPublicKey{PublicKey: h.cfg.PublicKey, Source: h.cfg.Source}
	if err := bus.SendPayload(ctx, h.ep, event.SendIdentityPublicKey, ident); err != nil {
		return false, oops.Wrapf(err, "sending identity key")
	}
	h.setState(IdentityExchanged)
	if !h.cfg.Mutual {
		h.complete()
		return true, nil
	}
	return false, nil
}

func (h *Handshake) handleResult(body []byte) (bool, error) {
	var res payload.SignatureVerificationResult
	if err := res.UnmarshalBinary(body); err != nil {
		return false, oops.Wrapf(err, "decoding verification result")
	}
	if !res.Valid {
		return false, oops.Code(signer.CodePeerRejected).Wrapf(signer.ErrVerificationFailed, "peer rejected our signature (%s)", res.Reason)
	}

	if h.cfg.Role == Initiator && h.State() == IdentityExchanged {
		h.complete()
		return true, nil
	}
	if h.cfg.Role == Responder && h.State() == Init {
		h.setState(Verified)
	}
	return false, nil
}

func (h *Handshake) acceptIdentity(ctx context.Context, body []byte) (bool, error) {
	if h.cfg.Role != Responder {
		return false, nil
	}
	var ident payload.IdentityPublicKey
	if err := ident.UnmarshalBinary(body); err != nil {
		return false, oops.Wrapf(err, "decoding identity key")
	}
	if _, err := signer.ParsePublicKey(ident.PublicKey); err != nil {
		return false, oops.Wrapf(err, "identity key from %q", ident.Source)
	}
	if h.cfg.SavePeerKey != nil {
		if err := h.cfg.SavePeerKey(ident.PublicKey, ident.Source); err != nil {
			return false, oops.Wrapf(err, "saving identity key from %q", ident.Source)
		}
	}

	h.mu.Lock()
	h.peerKey = ident.PublicKey
	h.state = IdentityExchanged
	h.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":     "(Handshake) acceptIdentity",
		"source": ident.Source,
	}).Debug("peer identity key stored")

	if !h.cfg.Mutual {
		h.complete()
		return true, nil
	}
	if err := h.challenge(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func (h *Handshake) setState(s State) {
	h.mu.Lock()
	prev := h.state
	h.state = s
	h.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":   "(Handshake) setState",
		"role": h.cfg.Role.String(),
		"from": prev.String(),
		"to":   s.String(),
	}).Debug("handshake state change")
}

func (h *Handshake) complete() {
	h.setState(Done)
	h.doneOnce.Do(func() {
		if h.cfg.OnDone != nil {
			h.cfg.OnDone(h.PeerKey())
		}
	})
}

func (h *Handshake) fail(err error) error {
	h.mu.Lock()
	h.state = Failed
	h.err = err
	h.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":    "(Handshake) fail",
		"role":  h.cfg.Role.String(),
		"error": err.Error(),
	}).Error("handshake failed")
	return err
}
