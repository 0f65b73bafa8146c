package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnown(t *testing.T) {
	for _, id := range []ID{Challenge, ForgetAck, KgRoundBroadcast, KgAbort, KgInitSigningProcess} {
		assert.True(t, Known(id), "id %d should be known", id)
	}
	for _, id := range []ID{0, 11, 1000, 1008, 1012, 1099, 1101} {
		assert.False(t, Known(id), "id %d should be unknown", id)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "signed_nonce", Name(SignedNonce))
	assert.Equal(t, "kg_init_signing_process", KgInitSigningProcess.String())
	assert.Equal(t, "unknown(4242)", Name(4242))
}

func TestIsRelay(t *testing.T) {
	assert.False(t, IsRelay(PairingConfirmation))
	assert.True(t, IsRelay(KgStoreGroupPartyData))
	assert.False(t, IsRelay(1500))
}

func TestWireValues(t *testing.T) {
	// Final numbering shared with the card firmware.
	assert.EqualValues(t, 1, Challenge)
	assert.EqualValues(t, 10, ForgetAck)
	assert.EqualValues(t, 1001, KgRoundBroadcast)
	assert.EqualValues(t, 1007, KgSendExchangeMessage)
	assert.EqualValues(t, 1010, KgError)
	assert.EqualValues(t, 1011, KgAbort)
	assert.EqualValues(t, 1100, KgInitSigningProcess)
}
