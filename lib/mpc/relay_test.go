package mpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	group  string
	data   []byte
	ctx    context.Context
	at     time.Time
}

// fakeEngine records every call and lets tests push outbound messages.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []call
	out      chan RoundMessage
	startErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{out: make(chan RoundMessage, 8)}
}

func (f *fakeEngine) record(c call) {
	c.at = time.Now()
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeEngine) byMethod(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeEngine) StartKeygen(ctx context.Context, g string, secret int64) error {
	f.record(call{method: "keygen", group: g, ctx: ctx})
	return nil
}

func (f *fakeEngine) StartPaillier(ctx context.Context, g string) error {
	f.record(call{method: "paillier", group: g, ctx: ctx})
	return f.startErr
}

func (f *fakeEngine) StartSigning(ctx context.Context, req SigningRequest) error {
	f.record(call{method: "signing", group: req.GroupID, data: req.Message, ctx: ctx})
	return nil
}

func (f *fakeEngine) StoreExternalIdentityPubKey(g string, d []byte) error {
	f.record(call{method: "store_external", group: g, data: d})
	return nil
}

func (f *fakeEngine) StoreGroupData(g string, d []byte) error {
	f.record(call{method: "store_group", group: g, data: d})
	return nil
}

func (f *fakeEngine) StoreIdentityPrivateKey(g string, d []byte) error {
	f.record(call{method: "store_private", group: g, data: d})
	return nil
}

func (f *fakeEngine) InputRoundMessage(g string, d []byte) error {
	f.record(call{method: "input", group: g, data: d})
	return nil
}

func (f *fakeEngine) Outbound() <-chan RoundMessage { return f.out }

type sinkRecorder struct {
	mu      sync.Mutex
	rounds  []RoundMessage
	failed  []string
	aborted []string
}

func (s *sinkRecorder) RoundMessage(m RoundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, m)
}

func (s *sinkRecorder) JobFailed(groupID, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, groupID+"/"+code)
}

func (s *sinkRecorder) JobAborted(groupID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, groupID)
}

func (s *sinkRecorder) snapshot() ([]RoundMessage, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RoundMessage(nil), s.rounds...), append([]string(nil), s.failed...)
}

type fixture struct {
	ctx    context.Context
	relay  *Relay
	client *Client
	engine Engine
	sink   *sinkRecorder
}

func setup(t *testing.T, engine Engine, settle time.Duration) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, b := transport.Pipe()
	cfg := bus.Config{PacketLimit: 64, WriteTimeout: time.Second}
	mobile, err := bus.New(a, cfg)
	require.NoError(t, err)
	card, err := bus.New(b, cfg)
	require.NoError(t, err)
	go mobile.Run(ctx)
	go card.Run(ctx)

	relay := NewRelay(card, engine, RelayConfig{SettleDelay: settle})
	go relay.Run(ctx)
	client := NewClient(mobile)
	sink := &sinkRecorder{}
	go client.Run(ctx, sink)

	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	return fixture{ctx: ctx, relay: relay, client: client, engine: engine, sink: sink}
}

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func TestRelay_KeygenJobReplacement(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "g1", 7))
	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "g1", 8))
	require.Eventually(t, func() bool { return len(eng.byMethod("keygen")) == 2 }, wait, tick)

	starts := eng.byMethod("keygen")
	assert.ErrorIs(t, starts[0].ctx.Err(), context.Canceled, "first job must be cancelled")
	assert.NoError(t, starts[1].ctx.Err(), "second job must stay active")

	s, ok := f.relay.Session("g1")
	require.True(t, ok)
	assert.Equal(t, Keygen, s.Phase)
	assert.EqualValues(t, 2, s.Job)
}

func TestRelay_JobsArePerGroup(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "g1", 1))
	require.NoError(t, f.client.InitPaillier(f.ctx, "g2"))
	require.Eventually(t, func() bool { return len(eng.byMethod("paillier")) == 1 }, wait, tick)

	assert.NoError(t, eng.byMethod("keygen")[0].ctx.Err())
	sessions := f.relay.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "g1", sessions[0].GroupID)
	assert.Equal(t, Paillier, sessions[1].Phase)
}

func TestRelay_SettleBarrier(t *testing.T) {
	eng := newFakeEngine()
	settle := 100 * time.Millisecond
	f := setup(t, eng, settle)

	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "g1", 1))
	require.NoError(t, f.client.SendExchangeMessage(f.ctx, "g1", []byte("r1")))
	require.NoError(t, f.client.Broadcast(f.ctx, "g1", []byte("r2")))
	require.Eventually(t, func() bool { return len(eng.byMethod("input")) == 2 }, wait, tick)

	start := eng.byMethod("keygen")[0].at
	inputs := eng.byMethod("input")
	assert.GreaterOrEqual(t, inputs[0].at.Sub(start), settle-10*time.Millisecond)
	assert.Equal(t, []byte("r1"), inputs[0].data)
	assert.Equal(t, []byte("r2"), inputs[1].data)

	s, _ := f.relay.Session("g1")
	assert.Equal(t, 2, s.Inputs)
}

func TestRelay_StoreCalls(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	require.NoError(t, f.client.StoreExternalIdentityPubKey(f.ctx, "g", []byte{1}))
	require.NoError(t, f.client.StoreGroupData(f.ctx, "g", []byte{2}))
	require.NoError(t, f.client.StoreIdentityPrivateKey(f.ctx, "g", []byte{3}))
	require.Eventually(t, func() bool { return len(eng.byMethod("store_private")) == 1 }, wait, tick)

	assert.Equal(t, []byte{1}, eng.byMethod("store_external")[0].data)
	assert.Equal(t, []byte{2}, eng.byMethod("store_group")[0].data)
	assert.Equal(t, []byte{3}, eng.byMethod("store_private")[0].data)
}

func TestRelay_SigningRequest(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	req := SigningRequest{GroupID: "g", RequestID: "r1", Message: []byte("digest"), DerivationPath: "m/0"}
	require.NoError(t, f.client.InitSigning(f.ctx, req))
	require.Eventually(t, func() bool { return len(eng.byMethod("signing")) == 1 }, wait, tick)
	assert.Equal(t, []byte("digest"), eng.byMethod("signing")[0].data)
}

func TestRelay_AbortAndPeerError(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "a", 1))
	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "b", 1))
	require.Eventually(t, func() bool { return len(eng.byMethod("keygen")) == 2 }, wait, tick)

	require.NoError(t, f.client.Abort(f.ctx, "a", "user cancelled"))
	require.NoError(t, f.client.ReportError(f.ctx, "b", "cra-mks-008-01", "peer failed"))
	require.Eventually(t, func() bool {
		sa, _ := f.relay.Session("a")
		sb, _ := f.relay.Session("b")
		return sa.Phase == Aborted && sb.Phase == Failed
	}, wait, tick)

	for _, c := range eng.byMethod("keygen") {
		assert.Error(t, c.ctx.Err())
	}
}

func TestRelay_EngineFailureReportedAsKgError(t *testing.T) {
	eng := newFakeEngine()
	eng.startErr = errors.New("paillier prime search failed")
	f := setup(t, eng, 0)

	require.NoError(t, f.client.InitPaillier(f.ctx, "g"))
	require.Eventually(t, func() bool {
		_, failed := f.sink.snapshot()
		return len(failed) == 1
	}, wait, tick)
	_, failed := f.sink.snapshot()
	assert.Equal(t, "g/"+CodeEngineFailed, failed[0])

	s, _ := f.relay.Session("g")
	assert.Equal(t, Failed, s.Phase)
}

func TestRelay_InputWithoutJob(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	require.NoError(t, f.client.SendExchangeMessage(f.ctx, "ghost", []byte("x")))
	require.Eventually(t, func() bool {
		_, failed := f.sink.snapshot()
		return len(failed) == 1
	}, wait, tick)
	assert.Empty(t, eng.byMethod("input"))
}

func TestRelay_ForwardsEngineOutput(t *testing.T) {
	eng := newFakeEngine()
	f := setup(t, eng, 0)

	eng.out <- RoundMessage{GroupID: "g", Payload: []byte("commitment")}
	require.Eventually(t, func() bool {
		rounds, _ := f.sink.snapshot()
		return len(rounds) == 1
	}, wait, tick)
	rounds, _ := f.sink.snapshot()
	assert.Equal(t, RoundMessage{GroupID: "g", Payload: []byte("commitment")}, rounds[0])
}

func TestEchoEngine_RoundTrip(t *testing.T) {
	eng := NewEchoEngine(8)
	f := setup(t, eng, 0)

	require.NoError(t, f.client.InitMnemonicKeygen(f.ctx, "g", 3))
	require.NoError(t, f.client.SendExchangeMessage(f.ctx, "g", []byte("hello")))
	require.NoError(t, f.client.StoreGroupData(f.ctx, "g", []byte("data")))

	require.Eventually(t, func() bool {
		rounds, _ := f.sink.snapshot()
		return len(rounds) == 2
	}, wait, tick)
	rounds, _ := f.sink.snapshot()
	assert.Equal(t, []byte("keygen:round-1:g"), rounds[0].Payload)
	assert.Equal(t, []byte("echo:hello"), rounds[1].Payload)
	require.Eventually(t, func() bool { return eng.Stored("g", "group_data") != nil }, wait, tick)
}

func TestPhase(t *testing.T) {
	assert.True(t, Signing.Running())
	assert.False(t, Aborted.Running())
	assert.Equal(t, "paillier", Paillier.String())
}
