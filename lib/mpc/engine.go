// Package mpc relays multi-party computation traffic between the link and a
// local computation engine.
//
// The card runs a Relay: every inbound relay event becomes one Engine call and
// every round message the engine emits goes back over the link as a round
// broadcast. The mobile side drives the card through a Client. The engine itself
// is a collaborator; EchoEngine is a deterministic stand-in for simulations.
package mpc

import (
	"context"
	"errors"
)

// CodeEngineFailed tags KgError reports produced by the relay.
const CodeEngineFailed = "cra-mpc-008-05"

// ErrNoJob is reported when round input arrives for a group with no running job.
var ErrNoJob = errors.New("no running job for group")

// RoundMessage is one protocol message for a group.
type RoundMessage struct {
	GroupID string
	Payload []byte
}

// SigningRequest describes a threshold signing job.
type SigningRequest struct {
	GroupID        string
	RequestID      string
	Message        []byte
	DerivationPath string
}

// Engine is the local computation party. Start* calls begin a job that lives
// until ctx is cancelled and must return promptly.
type Engine interface {
	StartKeygen(ctx context.Context, groupID string, secretNumber int64) error
	StartPaillier(ctx context.Context, groupID string) error
	StartSigning(ctx context.Context, req SigningRequest) error

	StoreExternalIdentityPubKey(groupID string, data []byte) error
	StoreGroupData(groupID string, data []byte) error
	StoreIdentityPrivateKey(groupID string, data []byte) error

	InputRoundMessage(groupID string, data []byte) error

	// Outbound yields the engine's round messages for broadcast.
	Outbound() <-chan RoundMessage
}
