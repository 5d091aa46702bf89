package msg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_EncodeDecode(t *testing.T) {
	buf := bytes.Buffer{}
	in := Message{
		Type:      TypeTransfer,
		RequestID: 42,
		Amount:    "1000",
		Protocol: []ProtocolData{
			{Name: ProtocolClaim, ContentType: ContentJSON, Data: []byte(`{"amount":"1000","signature":"AB"}`)},
		},
	}
	require.NoError(t, NewEncoder(&buf).Encode(in))

	out := Message{}
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, in, out)
}

func TestMessage_Get(t *testing.T) {
	m := Message{Protocol: []ProtocolData{
		{Name: ProtocolChannel, Data: []byte{1}},
		{Name: ProtocolChannelSignature, Data: []byte{2}},
	}}

	p, ok := m.Get(ProtocolChannelSignature)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, p.Data)

	_, ok = m.Get(ProtocolLastClaim)
	assert.False(t, ok)
}

func TestParseInfo(t *testing.T) {
	i, err := ParseInfo([]byte(`{"currencyScale":9,"account":"test.example.alice","prefix":"test.example.","address":"rPeer","clientChannel":"ABCD"}`))
	require.NoError(t, err)
	assert.Equal(t, 9, i.Scale())
	assert.Equal(t, "test.example.alice", i.Account)
	assert.Equal(t, "ABCD", i.ClientChannel)
}

func TestParseInfo_ScaleDefaults(t *testing.T) {
	// Peers that declare no scale are ledger-native.
	i, err := ParseInfo([]byte(`{"account":"a","prefix":"p.","address":"rPeer"}`))
	require.NoError(t, err)
	assert.Equal(t, 6, i.Scale())
}

func TestParseInfo_ExplicitZeroScale(t *testing.T) {
	// A declared scale of zero means whole XRP, not absent.
	i, err := ParseInfo([]byte(`{"currencyScale":0,"account":"a","prefix":"p.","address":"rPeer"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, i.Scale())
}

func TestParseInfo_Malformed(t *testing.T) {
	_, err := ParseInfo([]byte(`nope`))
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseInfo([]byte(`{"prefix":"p."}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "transfer", TypeTransfer.String())
	assert.Equal(t, "unknown(9)", Type(9).String())
}
