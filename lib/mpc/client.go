package mpc

import (
	"context"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/payload"
	"github.com/go-i2p/logger"
)

// Sink receives what the card reports back to a Client.
type Sink interface {
	RoundMessage(m RoundMessage)
	JobFailed(groupID, code, message string)
	JobAborted(groupID, reason string)
}

// Client is the mobile side of the relay.
type Client struct {
	ep bus.Endpoint
}

// NewClient returns a Client over ep.
func NewClient(ep bus.Endpoint) *Client {
	return &Client{ep: ep}
}

// InitMnemonicKeygen starts a mnemonic keygen job for groupID on the card.
func (c *Client) InitMnemonicKeygen(ctx context.Context, groupID string, secretNumber int64) error {
	return bus.SendPayload(ctx, c.ep, event.KgInitMnemonicKeygen,
		&payload.InitiateMnemonicKeyGen{GroupID: groupID, SecretNumber: secretNumber})
}

// InitPaillier starts Paillier key setup for groupID on the card.
func (c *Client) InitPaillier(ctx context.Context, groupID string) error {
	return bus.SendPayload(ctx, c.ep, event.KgInitPaillier, &payload.InitiatePaillierKeyGen{GroupID: groupID})
}

// InitSigning starts a signing job on the card.
func (c *Client) InitSigning(ctx context.Context, req SigningRequest) error {
	return bus.SendPayload(ctx, c.ep, event.KgInitSigningProcess, &payload.SigningRequest{
		GroupID:        req.GroupID,
		RequestID:      req.RequestID,
		Message:        req.Message,
		DerivationPath: req.DerivationPath,
	})
}

// StoreExternalIdentityPubKey stores another party's identity key for groupID.
func (c *Client) StoreExternalIdentityPubKey(ctx context.Context, groupID string, data []byte) error {
	return bus.SendPayload(ctx, c.ep, event.KgStoreExternalPartyIdentityPubkey, &payload.GroupData{GroupID: groupID, Data: data})
}

// StoreGroupData stores opaque group party data for groupID.
func (c *Client) StoreGroupData(ctx context.Context, groupID string, data []byte) error {
	return bus.SendPayload(ctx, c.ep, event.KgStoreGroupPartyData, &payload.GroupData{GroupID: groupID, Data: data})
}

// StoreIdentityPrivateKey stores the card's party identity private key for groupID.
func (c *Client) StoreIdentityPrivateKey(ctx context.Context, groupID string, data []byte) error {
	return bus.SendPayload(ctx, c.ep, event.KgStorePartyIdentityPrivateKey, &payload.GroupData{GroupID: groupID, Data: data})
}

// SendExchangeMessage hands a peer's round message to the card.
func (c *Client) SendExchangeMessage(ctx context.Context, groupID string, msg []byte) error {
	return bus.SendPayload(ctx, c.ep, event.KgSendExchangeMessage, &payload.ExchangeMessage{GroupID: groupID, Msg: msg})
}

// Broadcast relays a round broadcast from another party to the card.
func (c *Client) Broadcast(ctx context.Context, groupID string, msg []byte) error {
	return bus.SendPayload(ctx, c.ep, event.KgRoundBroadcast, &payload.ExchangeMessage{GroupID: groupID, Msg: msg})
}

// Abort cancels the job for groupID on the card.
func (c *Client) Abort(ctx context.Context, groupID, reason string) error {
	return bus.SendPayload(ctx, c.ep, event.KgAbort, &payload.KeygenAbort{GroupID: groupID, Reason: reason})
}

// ReportError tells the card a job failed on this side.
func (c *Client) ReportError(ctx context.Context, groupID, code, message string) error {
	return bus.SendPayload(ctx, c.ep, event.KgError, &payload.KeygenError{GroupID: groupID, Code: code, Message: message})
}

// Run delivers the card's round broadcasts, errors and aborts to sink until ctx
// ends or the link drops.
func (c *Client) Run(ctx context.Context, sink Sink) error {
	sub := c.ep.Subscribe(event.KgRoundBroadcast, event.KgError, event.KgAbort)
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
		case event.KgRoundBroadcast:
			var msg payload.ExchangeMessage
			if err = msg.UnmarshalBinary(m.Contents); err == nil {
				sink.RoundMessage(RoundMessage{GroupID: msg.GroupID, Payload: msg.Msg})
			}
		case event.KgError:
			var ke payload.KeygenError
			if err = ke.UnmarshalBinary(m.Contents); err == nil {
				sink.JobFailed(ke.GroupID, ke.Code, ke.Message)
			}
		case event.KgAbort:
			var ka payload.KeygenAbort
			if err = ka.UnmarshalBinary(m.Contents); err == nil {
				sink.JobAborted(ka.GroupID, ka.Reason)
			}
		}
		if err != nil {
			log.WithFields(logger.Fields{
				"at":    "(Client) Run",
				"event": event.Name(m.EventID),
				"error": err.Error(),
			}).Warn("dropping undecodable relay message")
		}
	}
}
