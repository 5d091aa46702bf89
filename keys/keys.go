// Package keys derives the session signing keys and transport credentials
// used by the channel protocol. Nothing here is ever persisted: the same
// inputs always derive the same keys, so a client recomputes them on every
// connection to the same peer.
package keys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Domain strings separate the two keyed-hash derivations in the protocol. If
// these were ever equal a transport credential could double as a claim
// signing seed.
const (
	sessionKeyDomain     = "ilp-plugin-xrp-stateless"
	transportTokenDomain = "parent_btp_uri"
)

// HMAC computes HMAC-SHA256 of message under key.
func HMAC(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// SessionKey is an ed25519 keypair bound to a single peer.
type SessionKey struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// PublicKeyText returns the public key in the ledger's textual form: an "ED"
// prefix followed by the key bytes in upper-case hex. This is the form bound
// to the channel on-ledger and sent to the peer.
func (k SessionKey) PublicKeyText() string {
	return "ED" + strings.ToUpper(hex.EncodeToString(k.Public))
}

// DeriveSessionKey derives the claim-signing keypair for a peer from the
// shared secret and the peer's ledger address. The seed is
// HMAC(secret, domain || peerAddress), so keys are distinct per peer and are
// never reused across peers.
func DeriveSessionKey(secret, peerAddress string) SessionKey {
	seed := HMAC([]byte(secret), []byte(sessionKeyDomain+peerAddress))
	priv := ed25519.NewKeyFromSeed(seed)
	return SessionKey{
		Public:  priv.Public().(ed25519.PublicKey),
		Private: priv,
	}
}

// DeriveTransportToken derives the transport auth token used when the
// endpoint URI carries no explicit password. The host and username identify
// the endpoint so tokens are distinct per endpoint; the nested HMAC keeps the
// derivation in a separate domain from session keys.
func DeriveTransportToken(secret, hostAndUsername string) string {
	inner := HMAC([]byte(transportTokenDomain), []byte(hostAndUsername))
	return hex.EncodeToString(HMAC(inner, []byte(secret)))
}
