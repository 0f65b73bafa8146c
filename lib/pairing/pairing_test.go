package pairing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	done    [][]byte
	failed  []error
	forgets []string
}

func (r *recorder) config(base Config) Config {
	base.OnDone = func(id []byte) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.done = append(r.done, id)
	}
	base.OnFailed = func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.failed = append(r.failed, err)
	}
	return base
}

func setup(t *testing.T, cardCfg Config) (*bus.Bus, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, b := transport.Pipe()
	cfg := bus.Config{PacketLimit: 48, WriteTimeout: time.Second}
	mb, err := bus.New(a, cfg)
	require.NoError(t, err)
	cb, err := bus.New(b, cfg)
	require.NoError(t, err)
	go mb.Run(ctx)
	go cb.Run(ctx)
	go NewResponder(cb, cardCfg).Run(ctx)
	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	return mb, ctx
}

func keys(t *testing.T) signer.KeyPair {
	kp, err := signer.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func TestAssociate_Confirmed(t *testing.T) {
	mobile := keys(t)
	card := &recorder{}
	mb, ctx := setup(t, card.config(Config{PeerPublicKey: mobile.Public}))

	phone := &recorder{}
	ok, err := NewInitiator(mb, phone.config(Config{PrivateKey: mobile.Private})).Associate(ctx, []byte("sealed-user-42"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("sealed-user-42")}, phone.done)

	card.mu.Lock()
	defer card.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("sealed-user-42")}, card.done)
	assert.Empty(t, card.failed)
}

func TestAssociate_WrongKeyIsNotFatal(t *testing.T) {
	mobile, other := keys(t), keys(t)
	card := &recorder{}
	mb, ctx := setup(t, card.config(Config{PeerPublicKey: other.Public}))

	phone := &recorder{}
	initiator := NewInitiator(mb, phone.config(Config{PrivateKey: mobile.Private}))
	ok, err := initiator.Associate(ctx, []byte("user"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, phone.done)
	require.Len(t, phone.failed, 1)
	assert.ErrorIs(t, phone.failed[0], ErrNotConfirmed)

	card.mu.Lock()
	require.Len(t, card.failed, 1)
	assert.ErrorIs(t, card.failed[0], signer.ErrVerificationFailed)
	card.mu.Unlock()

	// The responder keeps serving after a rejected attempt.
	ok, err = initiator.Associate(ctx, []byte("user"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	card := &recorder{}
	cfg := card.config(Config{})
	cfg.OnForget = func(id string) error {
		card.mu.Lock()
		defer card.mu.Unlock()
		card.forgets = append(card.forgets, id)
		if id == "locked" {
			return errors.New("device is locked")
		}
		return nil
	}
	mb, ctx := setup(t, cfg)

	initiator := NewInitiator(mb, Config{})
	require.NoError(t, initiator.Forget(ctx, "phone-1"))
	err := initiator.Forget(ctx, "locked")
	assert.ErrorIs(t, err, ErrForgetRefused)

	card.mu.Lock()
	defer card.mu.Unlock()
	assert.Equal(t, []string{"phone-1", "locked"}, card.forgets)
}
