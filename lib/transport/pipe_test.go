package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packets(t *testing.T, n int) [][]byte {
	t.Helper()
	full := make([]byte, n)
	for i := range full {
		full[i] = byte(i)
	}
	pkts, err := frame.Packetize(full, 4)
	require.NoError(t, err)
	return pkts
}

func recv(t *testing.T, tr Transport) []byte {
	t.Helper()
	select {
	case frag, ok := <-tr.Receive():
		require.True(t, ok, "link closed")
		return frag
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fragment")
		return nil
	}
}

func TestPipe_DeliversStrippedFragmentsInOrder(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	pkts := packets(t, 10)
	require.Len(t, pkts, 3)
	for _, p := range pkts {
		require.NoError(t, a.Send(context.Background(), p))
	}

	assert.Equal(t, []byte{0, 1, 2, 3}, recv(t, b))
	assert.Equal(t, []byte{4, 5, 6, 7}, recv(t, b))
	assert.Equal(t, []byte{8, 9}, recv(t, b))
}

func TestPipe_BothDirections(t *testing.T) {
	a, b := Pipe()
	defer b.Close()

	pkts := packets(t, 2)
	require.NoError(t, a.Send(context.Background(), pkts[0]))
	require.NoError(t, b.Send(context.Background(), pkts[0]))
	assert.Equal(t, []byte{0, 1}, recv(t, b))
	assert.Equal(t, []byte{0, 1}, recv(t, a))
}

func TestPipe_RejectsPacketWithoutHeader(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	err := a.Send(context.Background(), []byte{1, 2, 3, 4, 5, 6})
	assert.ErrorIs(t, err, ErrWriteFailed)
	_ = b
}

func TestPipe_CloseDropsLink(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := a.Send(context.Background(), packets(t, 1)[0])
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case _, ok := <-a.Receive():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("receive channel not closed")
	}
}

func TestPipe_HookTimeout(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	a.SetSendHook(func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Send(ctx, packets(t, 1)[0])
	assert.ErrorIs(t, err, ErrWriteTimeout)

	a.SetSendHook(nil)
	require.NoError(t, a.Send(context.Background(), packets(t, 1)[0]))
	assert.Equal(t, []byte{0}, recv(t, b))
}

func TestPipe_HookFailure(t *testing.T) {
	a, _ := Pipe()
	defer a.Close()

	a.SetSendHook(func(context.Context, []byte) error { return errors.New("gatt write rejected") })
	err := a.Send(context.Background(), packets(t, 1)[0])
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestPipe_BackpressureHonoursContext(t *testing.T) {
	a, _ := Pipe(WithBuffer(1))
	defer a.Close()

	pkt := packets(t, 1)[0]
	require.NoError(t, a.Send(context.Background(), pkt))

	// The peer's pump holds one fragment and the buffer another; the next
	// send has nowhere to go.
	require.NoError(t, a.Send(context.Background(), pkt))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Send(ctx, pkt)
	assert.ErrorIs(t, err, ErrWriteTimeout)
}
