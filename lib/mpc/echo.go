package mpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/oops"
)

// EchoEngine is a deterministic Engine for simulations. Starting a job emits a
// single opening round message; every round input is echoed back while the job
// runs.
type EchoEngine struct {
	out chan RoundMessage

	mu     sync.Mutex
	jobs   map[string]context.Context
	stored map[string]map[string][]byte
}

var _ Engine = (*EchoEngine)(nil)

// NewEchoEngine returns an EchoEngine with room for buffer pending messages.
func NewEchoEngine(buffer int) *EchoEngine {
	return &EchoEngine{
		out:    make(chan RoundMessage, buffer),
		jobs:   make(map[string]context.Context),
		stored: make(map[string]map[string][]byte),
	}
}

func (e *EchoEngine) start(ctx context.Context, groupID, kind string) error {
	e.mu.Lock()
	e.jobs[groupID] = ctx
	e.mu.Unlock()
	return e.emit(ctx, groupID, []byte(fmt.Sprintf("%s:round-1:%s", kind, groupID)))
}

func (e *EchoEngine) emit(ctx context.Context, groupID string, data []byte) error {
	select {
	case e.out <- RoundMessage{GroupID: groupID, Payload: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartKeygen implements Engine.
func (e *EchoEngine) StartKeygen(ctx context.Context, groupID string, secretNumber int64) error {
	return e.start(ctx, groupID, "keygen")
}

// StartPaillier implements Engine.
func (e *EchoEngine) StartPaillier(ctx context.Context, groupID string) error {
	return e.start(ctx, groupID, "paillier")
}

// StartSigning implements Engine.
func (e *EchoEngine) StartSigning(ctx context.Context, req SigningRequest) error {
	return e.start(ctx, req.GroupID, "signing")
}

func (e *EchoEngine) put(groupID, kind string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stored[groupID] == nil {
		e.stored[groupID] = make(map[string][]byte)
	}
	e.stored[groupID][kind] = append([]byte(nil), data...)
	return nil
}

// StoreExternalIdentityPubKey implements Engine.
func (e *EchoEngine) StoreExternalIdentityPubKey(groupID string, data []byte) error {
	return e.put(groupID, "external_identity_pubkey", data)
}

// StoreGroupData implements Engine.
func (e *EchoEngine) StoreGroupData(groupID string, data []byte) error {
	return e.put(groupID, "group_data", data)
}

// StoreIdentityPrivateKey implements Engine.
func (e *EchoEngine) StoreIdentityPrivateKey(groupID string, data []byte) error {
	return e.put(groupID, "identity_private_key", data)
}

// Stored returns what was stored for groupID under kind.
func (e *EchoEngine) Stored(groupID, kind string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stored[groupID][kind]
}

// InputRoundMessage implements Engine.
func (e *EchoEngine) InputRoundMessage(groupID string, data []byte) error {
	e.mu.Lock()
	ctx, ok := e.jobs[groupID]
	e.mu.Unlock()
	if !ok || ctx.Err() != nil {
		return oops.Wrapf(ErrNoJob, "echo engine: group %q", groupID)
	}
	return e.emit(ctx, groupID, append([]byte("echo:"), data...))
}

// Outbound implements Engine.
func (e *EchoEngine) Outbound() <-chan RoundMessage {
	return e.out
}
