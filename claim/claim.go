// Package claim implements the off-ledger claim protocol: the canonical byte
// encoding both peers sign, detached ed25519 signing and verification, and
// the claim record exchanged on the wire and persisted across restarts.
package claim

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// claimPrefix is the domain prefix of the canonical claim encoding. Both
// sides must produce byte-identical encodings or no signature will ever
// verify.
var claimPrefix = []byte("CLM\x00")

// proofPrefix is the domain prefix of the channel-proof encoding a client
// signs to show the peer it controls the channel it announced.
var proofPrefix = []byte("channel_signature")

// ErrMalformedClaim indicates a claim payload that could not be decoded.
var ErrMalformedClaim = errors.New("malformed claim")

// Claim is a signed assertion of the cumulative amount owed on a channel. The
// amount is in the accounting unit of the bilateral link; the signature is
// over the canonical encoding of the equivalent drop amount and the channel
// id. A zero-amount claim with no signature is the sentinel for "no claim
// issued yet".
type Claim struct {
	// Amount is the cumulative amount in base accounting units.
	Amount *big.Int
	// Signature is the detached ed25519 signature in upper-case hex.
	Signature string
}

// Zero reports whether the claim is the zero-amount sentinel.
func (c Claim) Zero() bool {
	return c.Amount == nil || c.Amount.Sign() == 0
}

type claimJSON struct {
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

// MarshalJSON encodes the claim in the wire and persistence shape
// {"amount":"...","signature":"..."}.
func (c Claim) MarshalJSON() ([]byte, error) {
	a := "0"
	if c.Amount != nil {
		a = c.Amount.String()
	}
	return json.Marshal(claimJSON{Amount: a, Signature: c.Signature})
}

// UnmarshalJSON decodes the wire shape, rejecting non-numeric or negative
// amounts.
func (c *Claim) UnmarshalJSON(data []byte) error {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}
	a, ok := new(big.Int).SetString(j.Amount, 10)
	if !ok || a.Sign() < 0 {
		return fmt.Errorf("%w: bad amount %q", ErrMalformedClaim, j.Amount)
	}
	c.Amount = a
	c.Signature = j.Signature
	return nil
}

// Parse decodes a claim from its JSON wire or persistence form.
func Parse(data []byte) (Claim, error) {
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return Claim{}, err
	}
	return c, nil
}

// Encode produces the canonical bytes signed for a claim of the given drop
// amount against the given channel: "CLM\0" || channel id bytes ||
// big-endian uint64 drops.
func Encode(drops int64, channelID string) ([]byte, error) {
	if drops < 0 {
		return nil, fmt.Errorf("encoding claim: negative drop amount %d", drops)
	}
	id, err := decodeChannelID(channelID)
	if err != nil {
		return nil, fmt.Errorf("encoding claim: %w", err)
	}
	b := make([]byte, 0, len(claimPrefix)+len(id)+8)
	b = append(b, claimPrefix...)
	b = append(b, id...)
	b = binary.BigEndian.AppendUint64(b, uint64(drops))
	return b, nil
}

// EncodeChannelProof produces the canonical bytes signed to prove control of
// a channel to the peer account: "channel_signature" || channel id bytes ||
// account.
func EncodeChannelProof(channelID, account string) ([]byte, error) {
	id, err := decodeChannelID(channelID)
	if err != nil {
		return nil, fmt.Errorf("encoding channel proof: %w", err)
	}
	b := make([]byte, 0, len(proofPrefix)+len(id)+len(account))
	b = append(b, proofPrefix...)
	b = append(b, id...)
	b = append(b, account...)
	return b, nil
}

func decodeChannelID(channelID string) ([]byte, error) {
	id, err := hex.DecodeString(channelID)
	if err != nil {
		return nil, fmt.Errorf("channel id %q is not hex", channelID)
	}
	if len(id) != 32 {
		return nil, fmt.Errorf("channel id %q is not 32 bytes", channelID)
	}
	return id, nil
}

// Sign produces a detached signature over data in the upper-case hex form
// used on the wire and on-ledger.
func Sign(data []byte, key ed25519.PrivateKey) string {
	return strings.ToUpper(hex.EncodeToString(ed25519.Sign(key, data)))
}

// Verify reports whether sigHex is a valid detached signature over data by
// the given public key. All failure modes, including malformed hex and wrong
// lengths, report false rather than an error: an attacker-supplied signature
// must never take down the session.
func Verify(data []byte, sigHex string, public ed25519.PublicKey) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(public, data, sig)
}

// ParsePublicKeyText decodes a ledger-form public key ("ED" + 64 hex chars)
// into an ed25519 public key.
func ParsePublicKeyText(text string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(text, "ED") {
		return nil, fmt.Errorf("public key %q is not an ed25519 ledger key", text)
	}
	b, err := hex.DecodeString(text[2:])
	if err != nil {
		return nil, fmt.Errorf("public key %q is not hex: %v", text, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key %q is not %d bytes", text, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}
