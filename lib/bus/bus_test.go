package bus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-activecard/lib/envelope"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/go-activecard/lib/payload"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{PacketLimit: 16, WriteTimeout: 200 * time.Millisecond}
}

type side struct {
	bus  *Bus
	pipe *transport.PipeEnd
	errc chan error
}

func start(t *testing.T, ctx context.Context, p *transport.PipeEnd, cfg Config) side {
	t.Helper()
	b, err := New(p, cfg)
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	return side{bus: b, pipe: p, errc: errc}
}

func pair(t *testing.T, cfgA, cfgB Config) (side, side) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pa, pb := transport.Pipe()
	a := start(t, ctx, pa, cfgA)
	b := start(t, ctx, pb, cfgB)
	t.Cleanup(func() {
		cancel()
		pa.Close()
	})
	return a, b
}

func next(t *testing.T, s *Subscription) *frame.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := s.Next(ctx)
	require.NoError(t, err)
	return m
}

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, envelope.KeySize)
}

func TestSend_PlaintextAcrossPackets(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	sub := b.bus.Subscribe(event.Challenge)
	defer sub.Close()

	body := bytes.Repeat([]byte("nonce-"), 20)
	require.NoError(t, a.bus.Send(context.Background(), event.Challenge, body))

	m := next(t, sub)
	assert.Equal(t, event.Challenge, m.EventID)
	assert.False(t, m.Encrypted)
	assert.Equal(t, body, m.Contents)
	assert.Equal(t, a.bus.SessionID(), m.SessionID)
}

func TestSend_EncryptedRoundTrip(t *testing.T) {
	envA, err := envelope.New(testKey(7))
	require.NoError(t, err)
	envB, err := envelope.New(testKey(7))
	require.NoError(t, err)

	cfgA, cfgB := testConfig(), testConfig()
	cfgA.Envelope, cfgB.Envelope = envA, envB
	a, b := pair(t, cfgA, cfgB)

	sub := b.bus.Subscribe(event.SignedNonce)
	defer sub.Close()
	require.NoError(t, SendPayload(context.Background(), a.bus, event.SignedNonce, &payload.SignedNonce{Signature: []byte("sig")}))

	m := next(t, sub)
	assert.True(t, m.Encrypted)
	var got payload.SignedNonce
	require.NoError(t, got.UnmarshalBinary(m.Contents))
	assert.Equal(t, []byte("sig"), got.Signature)
}

func TestRun_DecryptFailureIsDroppedAndLoopContinues(t *testing.T) {
	envA, err := envelope.New(testKey(1))
	require.NoError(t, err)
	envB, err := envelope.New(testKey(2))
	require.NoError(t, err)

	cfgA, cfgB := testConfig(), testConfig()
	cfgA.Envelope, cfgB.Envelope = envA, envB
	a, b := pair(t, cfgA, cfgB)

	sub := b.bus.Subscribe(event.Challenge)
	defer sub.Close()
	decryptFailed := testutil.ToFloat64(frameErrors.WithLabelValues("decrypt_failed"))
	require.NoError(t, a.bus.Send(context.Background(), event.Challenge, []byte("lost")))

	require.NoError(t, envA.SetKey(testKey(2)))
	require.NoError(t, a.bus.Send(context.Background(), event.Challenge, []byte("kept")))

	m := next(t, sub)
	assert.Equal(t, []byte("kept"), m.Contents)
	assert.Equal(t, decryptFailed+1, testutil.ToFloat64(frameErrors.WithLabelValues("decrypt_failed")))
}

func TestRun_UnknownEventIgnored(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	sub := b.bus.Subscribe(event.Challenge)
	defer sub.Close()

	unknown := testutil.ToFloat64(frameErrors.WithLabelValues("unknown_event"))
	received := testutil.ToFloat64(framesReceived.WithLabelValues(event.Name(event.Challenge)))
	sentPackets := testutil.ToFloat64(packetsSent)

	stray := frame.NewMessage(event.ID(999), []byte("x"), a.bus.SessionID(), time.Now())
	require.NoError(t, a.bus.SendMessage(context.Background(), stray))
	require.NoError(t, a.bus.Send(context.Background(), event.Challenge, []byte("ok")))

	m := next(t, sub)
	assert.Equal(t, []byte("ok"), m.Contents)
	assert.Equal(t, unknown+1, testutil.ToFloat64(frameErrors.WithLabelValues("unknown_event")))
	assert.Equal(t, received+1, testutil.ToFloat64(framesReceived.WithLabelValues(event.Name(event.Challenge))))
	assert.Greater(t, testutil.ToFloat64(packetsSent), sentPackets+1)

	b.bus.mu.Lock()
	_, parked := b.bus.backlog[event.ID(999)]
	b.bus.mu.Unlock()
	assert.False(t, parked)
}

func TestSubscribe_ReceivesParkedMessages(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	marker := b.bus.Subscribe(event.ForgetAck)
	defer marker.Close()

	require.NoError(t, a.bus.Send(context.Background(), event.SignedNonce, []byte("early")))
	require.NoError(t, a.bus.Send(context.Background(), event.ForgetAck, nil))
	next(t, marker)

	sub := b.bus.Subscribe(event.SignedNonce)
	defer sub.Close()
	m := next(t, sub)
	assert.Equal(t, []byte("early"), m.Contents)
}

func TestBacklog_IsBounded(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	marker := b.bus.Subscribe(event.ForgetAck)
	defer marker.Close()

	total := DefaultBacklog + 4
	for i := 0; i < total; i++ {
		require.NoError(t, a.bus.Send(context.Background(), event.KgRoundBroadcast, []byte{byte(i)}))
	}
	require.NoError(t, a.bus.Send(context.Background(), event.ForgetAck, nil))
	next(t, marker)

	sub := b.bus.Subscribe(event.KgRoundBroadcast)
	defer sub.Close()
	for i := total - DefaultBacklog; i < total; i++ {
		assert.Equal(t, []byte{byte(i)}, next(t, sub).Contents)
	}
	select {
	case m := <-sub.C():
		t.Fatalf("unexpected extra message %v", m.Contents)
	default:
	}
}

func TestSubscription_OverflowDropsAndCounts(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	marker := b.bus.Subscribe(event.ForgetAck)
	defer marker.Close()
	slow := b.bus.Subscribe(event.SignedNonce)
	defer slow.Close()
	require.Equal(t, subscriptionBuffer, cap(slow.C()))

	overflow := testutil.ToFloat64(frameErrors.WithLabelValues("subscriber_overflow"))
	for i := 0; i < subscriptionBuffer+2; i++ {
		require.NoError(t, a.bus.Send(context.Background(), event.SignedNonce, []byte{byte(i)}))
	}
	require.NoError(t, a.bus.Send(context.Background(), event.ForgetAck, nil))
	next(t, marker)

	assert.Equal(t, overflow+2, testutil.ToFloat64(frameErrors.WithLabelValues("subscriber_overflow")))
	assert.Len(t, slow.C(), subscriptionBuffer)
	assert.Equal(t, []byte{0}, next(t, slow).Contents)
}

func TestSubscribe_RelayGetsLargerBuffer(t *testing.T) {
	_, b := pair(t, testConfig(), testConfig())
	relay := b.bus.Subscribe(event.KgRoundBroadcast)
	defer relay.Close()
	mixed := b.bus.Subscribe(event.KgRoundBroadcast, event.ForgetAck)
	defer mixed.Close()

	assert.Equal(t, relaySubscriptionBuffer, cap(relay.C()))
	assert.Equal(t, subscriptionBuffer, cap(mixed.C()))
}

func TestSend_WriteTimeoutAbortsOnlyThatSend(t *testing.T) {
	cfg := testConfig()
	cfg.WriteTimeout = 20 * time.Millisecond
	a, b := pair(t, cfg, testConfig())
	sub := b.bus.Subscribe(event.Challenge)
	defer sub.Close()

	a.pipe.SetSendHook(func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := a.bus.Send(context.Background(), event.Challenge, []byte("stalled"))
	assert.ErrorIs(t, err, transport.ErrWriteTimeout)

	a.pipe.SetSendHook(nil)
	require.NoError(t, a.bus.Send(context.Background(), event.Challenge, []byte("fresh")))

	// The receiver saw nothing of the aborted message because the hook blocked
	// its first packet.
	m := next(t, sub)
	assert.Equal(t, []byte("fresh"), m.Contents)
}

func TestSend_ConcurrentMessagesDoNotInterleave(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	sub := b.bus.Subscribe(event.KgRoundBroadcast)
	defer sub.Close()

	bodies := [][]byte{bytes.Repeat([]byte{0xAA}, 200), bytes.Repeat([]byte{0xBB}, 200)}
	var wg sync.WaitGroup
	for _, body := range bodies {
		wg.Add(1)
		go func(body []byte) {
			defer wg.Done()
			assert.NoError(t, a.bus.Send(context.Background(), event.KgRoundBroadcast, body))
		}(body)
	}
	wg.Wait()

	got := [][]byte{next(t, sub).Contents, next(t, sub).Contents}
	assert.ElementsMatch(t, bodies, got)
}

func TestSend_Pacing(t *testing.T) {
	cfg := testConfig()
	cfg.PacketInterval = 10 * time.Millisecond
	a, _ := pair(t, cfg, testConfig())

	// 22 header bytes plus 42 payload bytes in 16-byte packets: 4 packets.
	began := time.Now()
	require.NoError(t, a.bus.Send(context.Background(), event.Challenge, make([]byte, 42)))
	assert.GreaterOrEqual(t, time.Since(began), 25*time.Millisecond)
}

func TestRun_LinkDropClosesSubscriptions(t *testing.T) {
	a, b := pair(t, testConfig(), testConfig())
	sub := b.bus.Subscribe(event.Challenge)

	require.NoError(t, a.pipe.Close())

	select {
	case err := <-b.errc:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
	<-b.bus.Done()

	late := b.bus.Subscribe(event.Challenge)
	_, ok := <-late.C()
	assert.False(t, ok)
	sub.Close()
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	_, b := pair(t, testConfig(), testConfig())
	sub := b.bus.Subscribe(event.Challenge, event.SignedNonce)
	sub.Close()
	sub.Close()

	b.bus.mu.Lock()
	defer b.bus.mu.Unlock()
	assert.Empty(t, b.bus.subs)
}
