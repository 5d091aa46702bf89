package ledger

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// xrpAlphabet is the base58 dictionary the XRP Ledger uses for addresses.
var xrpAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

// accountIDVersion is the version byte prefixing an account id.
const accountIDVersion = 0x00

// DecodeAccountID decodes a classic XRP address into its 20-byte account id,
// checking the version byte and checksum.
func DecodeAccountID(address string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(address, xrpAlphabet)
	if err != nil {
		return nil, fmt.Errorf("decoding address %q: %w", address, err)
	}
	if len(raw) != 1+20+4 {
		return nil, fmt.Errorf("decoding address %q: wrong length %d", address, len(raw))
	}
	if raw[0] != accountIDVersion {
		return nil, fmt.Errorf("decoding address %q: wrong version byte %#x", address, raw[0])
	}
	payload, checksum := raw[:21], raw[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return nil, fmt.Errorf("decoding address %q: bad checksum", address)
	}
	return payload[1:], nil
}

// ComputeChannelID computes the id of a payment channel from the create
// transaction's account, destination and sequence: the first half of the
// SHA-512 of the payment-channel space prefix and the three fields, in
// upper-case hex.
func ComputeChannelID(source, destination string, sequence uint32) (string, error) {
	src, err := DecodeAccountID(source)
	if err != nil {
		return "", fmt.Errorf("computing channel id: %w", err)
	}
	dst, err := DecodeAccountID(destination)
	if err != nil {
		return "", fmt.Errorf("computing channel id: %w", err)
	}
	preimage := make([]byte, 0, 2+20+20+4)
	preimage = append(preimage, 0x00, 'x')
	preimage = append(preimage, src...)
	preimage = append(preimage, dst...)
	preimage = binary.BigEndian.AppendUint32(preimage, sequence)
	sum := sha512.Sum512(preimage)
	return strings.ToUpper(hex.EncodeToString(sum[:32])), nil
}
