// Package pairing associates a user identity with an authenticated device and
// lets either side drop that association later.
//
// A failed association is a user-facing outcome, reported through OnFailed and
// the returned flag, never a fatal protocol error.
package pairing

import (
	"context"
	"errors"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/payload"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrNotConfirmed is passed to OnFailed when the card declines an association.
	ErrNotConfirmed = errors.New("association not confirmed")
	// ErrForgetRefused is returned when the peer does not acknowledge a forget.
	ErrForgetRefused = errors.New("forget request refused")
)

// Config configures either side of an association.
type Config struct {
	Signer signer.Signer
	// PrivateKey signs the user identity on the initiator.
	PrivateKey []byte
	// PeerPublicKey verifies the user identity on the responder.
	PeerPublicKey []byte

	OnDone   func(encryptedUserID []byte)
	OnFailed func(err error)
	// OnForget drops the association for deviceID on the responder.
	OnForget func(deviceID string) error
}

func (c *Config) defaults() {
	if c.Signer == nil {
		c.Signer = signer.ECDSA{}
	}
}

func (c *Config) done(id []byte) {
	if c.OnDone != nil {
		c.OnDone(id)
	}
}

func (c *Config) failed(err error) {
	if c.OnFailed != nil {
		c.OnFailed(err)
	}
}

// Initiator is the mobile side.
type Initiator struct {
	ep  bus.Endpoint
	cfg Config
}

// NewInitiator returns an Initiator over ep.
func NewInitiator(ep bus.Endpoint, cfg Config) *Initiator {
	cfg.defaults()
	return &Initiator{ep: ep, cfg: cfg}
}

// Associate submits the signed user identity blob and waits for the card's
// confirmation. It reports whether the association was confirmed; the error is
// reserved for link and signing failures.
func (i *Initiator) Associate(ctx context.Context, encryptedUserID []byte) (bool, error) {
	sub := i.ep.Subscribe(event.PairingConfirmation)
	defer sub.Close()

	sig, err := i.cfg.Signer.Sign(i.cfg.PrivateKey, encryptedUserID)
	if err != nil {
		return false, oops.Wrapf(err, "signing user identity")
	}
	ident := &payload.UserIdentity{Signature: sig, EncryptedUserID: encryptedUserID}
	if err := bus.SendPayload(ctx, i.ep, event.SendUserIdentity, ident); err != nil {
		return false, oops.Wrapf(err, "sending user identity")
	}

	m, err := sub.Next(ctx)
	if err != nil {
		return false, oops.Wrapf(err, "awaiting pairing confirmation")
	}
	var conf payload.PairingConfirmation
	if err := conf.UnmarshalBinary(m.Contents); err != nil {
		return false, oops.Wrapf(err, "decoding pairing confirmation")
	}
	if !conf.Confirmed {
		log.WithField("at", "(Initiator) Associate").Warn("card declined association")
		i.cfg.failed(ErrNotConfirmed)
		return false, nil
	}
	i.cfg.done(encryptedUserID)
	return true, nil
}

// Forget asks the card to drop the association for deviceID.
func (i *Initiator) Forget(ctx context.Context, deviceID string) error {
	sub := i.ep.Subscribe(event.ForgetAck)
	defer sub.Close()

	if err := bus.SendPayload(ctx, i.ep, event.ForgetDevice, &payload.ForgetDevice{DeviceID: deviceID}); err != nil {
		return oops.Wrapf(err, "sending forget request")
	}
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return oops.Wrapf(err, "awaiting forget ack")
		}
		var ack payload.ForgetAck
		if err := ack.UnmarshalBinary(m.Contents); err != nil {
			return oops.Wrapf(err, "decoding forget ack")
		}
		if ack.DeviceID != deviceID {
			continue
		}
		if !ack.OK {
			return oops.Wrapf(ErrForgetRefused, "device %q", deviceID)
		}
		return nil
	}
}

// Responder is the card side. It serves association and forget requests until
// its context ends.
type Responder struct {
	ep  bus.Endpoint
	cfg Config
}

// NewResponder returns a Responder over ep.
func NewResponder(ep bus.Endpoint, cfg Config) *Responder {
	cfg.defaults()
	return &Responder{ep: ep, cfg: cfg}
}

// Run serves requests. It returns nil when ctx ends and an error when the link
// goes away.
func (r *Responder) Run(ctx context.Context) error {
	sub := r.ep.Subscribe(event.SendUserIdentity, event.ForgetDevice)
	defer sub.Close()

	for {
		m, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch m.EventID {
		case event.SendUserIdentity:
			err = r.associate(ctx, m.Contents)
		case event.ForgetDevice:
			err = r.forget(ctx, m.Contents)
		}
		if err != nil {
			log.WithFields(logger.Fields{
				"at":    "(Responder) Run",
				"event": event.Name(m.EventID),
				"error": err.Error(),
			}).Warn("pairing request not answered")
		}
	}
}

func (r *Responder) associate(ctx context.Context, body []byte) error {
	var ident payload.UserIdentity
	err := ident.UnmarshalBinary(body)
	if err == nil && !r.cfg.Signer.Verify(r.cfg.PeerPublicKey, ident.EncryptedUserID, ident.Signature) {
		err = oops.Code(signer.CodeVerificationFailed).Wrapf(signer.ErrVerificationFailed, "user identity signature")
	}

	confirmed := err == nil
	if confirmed {
		r.cfg.done(ident.EncryptedUserID)
	} else {
		log.WithFields(logger.Fields{
			"at":    "(Responder) associate",
			"error": err.Error(),
		}).Warn("association rejected")
		r.cfg.failed(err)
	}
	if sendErr := bus.SendPayload(ctx, r.ep, event.PairingConfirmation, &payload.PairingConfirmation{Confirmed: confirmed}); sendErr != nil {
		return oops.Wrapf(sendErr, "sending pairing confirmation")
	}
	return nil
}

func (r *Responder) forget(ctx context.Context, body []byte) error {
	var req payload.ForgetDevice
	if err := req.UnmarshalBinary(body); err != nil {
		return oops.Wrapf(err, "decoding forget request")
	}
	ok := true
	if r.cfg.OnForget != nil {
		if err := r.cfg.OnForget(req.DeviceID); err != nil {
			log.WithFields(logger.Fields{
				"at":        "(Responder) forget",
				"device_id": req.DeviceID,
				"error":     err.Error(),
			}).Warn("could not forget device")
			ok = false
		}
	}
	return bus.SendPayload(ctx, r.ep, event.ForgetAck, &payload.ForgetAck{DeviceID: req.DeviceID, OK: ok})
}
