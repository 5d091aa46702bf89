package keys

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	a := DeriveSessionKey("s3cret", "rPeerAddress")
	b := DeriveSessionKey("s3cret", "rPeerAddress")
	assert.Equal(t, a.Public, b.Public)
	assert.Equal(t, a.Private, b.Private)
}

func TestDeriveSessionKey_DistinctPerPeer(t *testing.T) {
	a := DeriveSessionKey("s3cret", "rPeerOne")
	b := DeriveSessionKey("s3cret", "rPeerTwo")
	assert.NotEqual(t, a.Public, b.Public)
}

func TestDeriveSessionKey_DistinctPerSecret(t *testing.T) {
	a := DeriveSessionKey("s3cret", "rPeer")
	b := DeriveSessionKey("other", "rPeer")
	assert.NotEqual(t, a.Public, b.Public)
}

func TestDeriveSessionKey_Signs(t *testing.T) {
	k := DeriveSessionKey("s3cret", "rPeer")
	msg := []byte("hello")
	sig := ed25519.Sign(k.Private, msg)
	require.True(t, ed25519.Verify(k.Public, msg, sig))
}

func TestSessionKey_PublicKeyText(t *testing.T) {
	k := DeriveSessionKey("s3cret", "rPeer")
	text := k.PublicKeyText()
	assert.True(t, strings.HasPrefix(text, "ED"))
	assert.Len(t, text, 2+2*ed25519.PublicKeySize)
	assert.Equal(t, strings.ToUpper(text), text)
}

func TestDeriveTransportToken_DomainSeparation(t *testing.T) {
	token := DeriveTransportToken("s3cret", "host.example:1234user")
	assert.Len(t, token, 64)

	again := DeriveTransportToken("s3cret", "host.example:1234user")
	assert.Equal(t, token, again)

	other := DeriveTransportToken("s3cret", "other.example:1234user")
	assert.NotEqual(t, token, other)

	// A transport token must never collide with a session key seed for the
	// same inputs.
	k := DeriveSessionKey("s3cret", "host.example:1234user")
	assert.NotEqual(t, token, k.PublicKeyText())
}
