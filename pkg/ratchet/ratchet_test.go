package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sharedSecret() RootKey {
	var sk RootKey
	sk[0] = 0x42
	return sk
}

func newPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	sk := sharedSecret()

	recvPriv, recvPub, err := generateKeypair()
	require.NoError(t, err)

	sender, err := NewSend(sk, recvPub)
	require.NoError(t, err)
	receiver := NewRecv(sk, recvPriv)
	return sender, receiver
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender, receiver := newPair(t)

	msg, err := sender.Seal([]byte("mesh message one"), nil)
	require.NoError(t, err)

	plaintext, err := receiver.Open(msg, nil)
	require.NoError(t, err)
	assert.Equal(t, "mesh message one", string(plaintext))
}

func TestMultipleMessagesAdvanceChain(t *testing.T) {
	sender, receiver := newPair(t)

	for i := 0; i < 5; i++ {
		msg, err := sender.Seal([]byte("payload"), nil)
		require.NoError(t, err)
		_, err = receiver.Open(msg, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, uint32(5), sender.state.Ns)
}

func TestOutOfOrderMessageIsSkippedAndRecovered(t *testing.T) {
	sender, receiver := newPair(t)

	msg1, err := sender.Seal([]byte("first"), nil)
	require.NoError(t, err)
	msg2, err := sender.Seal([]byte("second"), nil)
	require.NoError(t, err)

	// Deliver out of order: second arrives first, skipping message 0
	// into the receiver's cache.
	plaintext2, err := receiver.Open(msg2, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", string(plaintext2))

	plaintext1, err := receiver.Open(msg1, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", string(plaintext1))
}

func TestBidirectionalExchangeRatchetsDH(t *testing.T) {
	sender, receiver := newPair(t)

	msg, err := sender.Seal([]byte("hello"), nil)
	require.NoError(t, err)
	_, err = receiver.Open(msg, nil)
	require.NoError(t, err)

	reply, err := receiver.Seal([]byte("hi back"), nil)
	require.NoError(t, err)
	plaintext, err := sender.Open(reply, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi back", string(plaintext))
}

func TestSkippingTooManyMessagesFails(t *testing.T) {
	sender, receiver := newPair(t)

	var last Message
	for i := 0; i <= MaxSkip+1; i++ {
		msg, err := sender.Seal([]byte("x"), nil)
		require.NoError(t, err)
		last = msg
	}

	_, err := receiver.Open(last, nil)
	assert.ErrorIs(t, err, ErrTooManySkipped)
}
