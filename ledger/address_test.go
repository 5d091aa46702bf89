package ledger

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The ledger's well-known master account.
const (
	masterAddress   = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	masterAccountID = "B5F762798A53D543A014CAF8B297CFF8F2F937E8"
)

func TestDecodeAccountID(t *testing.T) {
	id, err := DecodeAccountID(masterAddress)
	require.NoError(t, err)
	assert.Equal(t, masterAccountID, strings.ToUpper(hex.EncodeToString(id)))
}

func TestDecodeAccountID_Rejects(t *testing.T) {
	// Flipped character breaks the checksum.
	_, err := DecodeAccountID("rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTg")
	require.Error(t, err)

	// Not in the alphabet at all.
	_, err = DecodeAccountID("0OIl")
	require.Error(t, err)

	_, err = DecodeAccountID("")
	require.Error(t, err)
}

func TestComputeChannelID(t *testing.T) {
	id, err := ComputeChannelID(masterAddress, masterAddress, 1)
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.Equal(t, strings.ToUpper(id), id)

	// Deterministic, and sensitive to every input.
	again, err := ComputeChannelID(masterAddress, masterAddress, 1)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := ComputeChannelID(masterAddress, masterAddress, 2)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestComputeChannelID_BadAddress(t *testing.T) {
	_, err := ComputeChannelID("bogus", masterAddress, 1)
	require.Error(t, err)
	_, err = ComputeChannelID(masterAddress, "bogus", 1)
	require.Error(t, err)
}
