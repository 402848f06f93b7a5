package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeEstablishesMatchingDirectionalKeys(t *testing.T) {
	now := time.Now()
	var identity [IdentitySize]byte
	identity[0] = 0xAA

	initiator, req, err := NewInitiator(0x2, identity, now)
	require.NoError(t, err)
	assert.Equal(t, StateRequested, initiator.State)

	responder, accept, err := AcceptRequest(0x1, req, now)
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, responder.State)

	require.NoError(t, initiator.CompleteInitiator(accept, now))
	assert.Equal(t, StateEstablished, initiator.State)

	assert.Equal(t, initiator.txKey, responder.rxKey)
	assert.Equal(t, responder.txKey, initiator.rxKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	initiator, responder := establishedPair(t)

	frame, err := initiator.Encrypt([]byte("hello mesh"))
	require.NoError(t, err)

	plaintext, err := responder.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, "hello mesh", string(plaintext))
}

func TestDecryptRejectsReplayedSequence(t *testing.T) {
	initiator, responder := establishedPair(t)

	frame, err := initiator.Encrypt([]byte("first"))
	require.NoError(t, err)
	_, err = responder.Decrypt(frame)
	require.NoError(t, err)

	_, err = responder.Decrypt(frame)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestDecryptRejectsOutOfOrderSequence(t *testing.T) {
	initiator, responder := establishedPair(t)

	frame1, _ := initiator.Encrypt([]byte("one"))
	frame2, _ := initiator.Encrypt([]byte("two"))

	_, err := responder.Decrypt(frame2)
	require.NoError(t, err)

	_, err = responder.Decrypt(frame1)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestSessionIdleAndKeepalive(t *testing.T) {
	initiator, _ := establishedPair(t)
	now := initiator.LastActivity

	assert.False(t, initiator.Idle(now.Add(time.Minute)))
	assert.True(t, initiator.Idle(now.Add(LinkTimeout+time.Second)))
	assert.True(t, initiator.NeedsKeepalive(now.Add(KeepaliveInterval)))
}

func establishedPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	now := time.Now()
	var identity [IdentitySize]byte

	initiator, req, err := NewInitiator(0x2, identity, now)
	require.NoError(t, err)
	responder, accept, err := AcceptRequest(0x1, req, now)
	require.NoError(t, err)
	require.NoError(t, initiator.CompleteInitiator(accept, now))
	return initiator, responder
}
